// Command run scans Hubbard chains over interaction strengths,
// optimizing each with the cluster mean-field method and collecting the
// results as CSV.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nbraunsc/clustermf"
	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/rdm"
	"github.com/nbraunsc/clustermf/runlog"
)

const (
	fnameResult = "result.txt"
	fnameTrace  = "trace.db"
	fnameDone   = "done.txt"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "clustermf"), "run directory")
)

type Config struct {
	L int
	U float64
}

type Result struct {
	Config
	Energy     float64
	GradNorm   float64
	Iterations int
	Converged  bool
}

func halfFilledGuess(n int) *rdm.RDM1 {
	guess := rdm.NewRDM1(n)
	for p := 0; p < n; p++ {
		guess.A.Set(p, p, 0.5)
		guess.B.Set(p, p, 0.5)
	}
	return guess
}

// dimers partitions a chain into clusters of two neighboring sites,
// each holding one alpha and one beta electron.
func dimers(l int) ([]clustermf.Cluster, []clustermf.Ansatz) {
	clusters := make([]clustermf.Cluster, 0, l/2)
	ansatze := make([]clustermf.Ansatz, 0, l/2)
	for i := 0; i < l/2; i++ {
		clusters = append(clusters, clustermf.Cluster{Index: i, Orbitals: []int{2 * i, 2*i + 1}})
		ansatze = append(ansatze, clustermf.FCIAnsatz{Alpha: 1, Beta: 1})
	}
	return clusters, ansatze
}

func solve(dir string, c Config) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	store, err := runlog.Open(filepath.Join(dir, fnameTrace))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer store.Close()

	run := fmt.Sprintf("%d/%f", c.L, c.U)
	var logErr error
	opt := clustermf.NewOrbOptions().
		Hessian(true).TrustRadius(0.5).
		Callback(func(it clustermf.OrbIteration) {
			err := store.Append(runlog.Iteration{
				Run: run, Iter: it.Iter,
				Energy: it.Energy, GradNorm: it.GradNorm, StepNorm: it.StepNorm,
			})
			if err != nil && logErr == nil {
				logErr = err
			}
		})
	clusters, ansatze := dimers(c.L)
	ic := ints.Hubbard(c.L, 1, c.U)
	res, err := clustermf.OptimizeDIIS(ic, clusters, ansatze, halfFilledGuess(c.L), opt)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if logErr != nil {
		return errors.Wrap(logErr, "")
	}

	r := Result{Config: c, Energy: res.Energy, GradNorm: res.GradNorm, Iterations: res.Iterations, Converged: res.Converged}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameResult), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func gather(dir string) ([]Result, error) {
	results := make([]Result, 0)
	lEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for _, lent := range lEntries {
		l, err := strconv.Atoi(lent.Name())
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}

		ldir := filepath.Join(dir, lent.Name())
		uEntries, err := os.ReadDir(ldir)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}
		for _, uent := range uEntries {
			u, err := strconv.ParseFloat(uent.Name(), 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, uent))
			}

			rb, err := os.ReadFile(filepath.Join(ldir, uent.Name(), fnameResult))
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, uent))
			}
			r := Result{Config: Config{L: l, U: u}}
			if err := json.Unmarshal(rb, &r); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, uent))
			}
			results = append(results, r)
		}
	}
	return results, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	configs := make([]Config, 0)
	for _, l := range []int{4, 6, 8} {
		for _, u := range []float64{0.5, 1, 2, 4, 8} {
			configs = append(configs, Config{L: l, U: u})
		}
	}

	for _, c := range configs {
		dir := filepath.Join(*runDir, strconv.Itoa(c.L), fmt.Sprintf("%f", c.U))
		if err := solve(dir, c); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d %f", c.L, c.U))
		}
		log.Printf("%d %f", c.L, c.U)
	}

	results, err := gather(*runDir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("l,u,energy,gnorm,iterations,converged\n")
	for _, r := range results {
		fmt.Printf("%d,%f,%f,%e,%d,%t\n", r.L, r.U, r.Energy, r.GradNorm, r.Iterations, r.Converged)
	}
	return nil
}

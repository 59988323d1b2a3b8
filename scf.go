package clustermf

import (
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/fci"
	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/rdm"
)

// Options are options for the self-consistent density fixed point.
type Options struct {
	maxIterations int
	tol           float64
	sequential    bool
	spinAverage   bool
	verbose       int
	solver        fci.Options
}

// NewOptions returns the default fixed-point options.
func NewOptions() Options {
	opt := Options{}
	opt.maxIterations = 40
	opt.tol = 1e-8
	opt.sequential = true
	opt.solver = fci.NewOptions()
	return opt
}

// MaxIterations sets the sweep cap.
func (opt Options) MaxIterations(i int) Options {
	opt.maxIterations = i
	return opt
}

// Tol sets the tolerance on the density change between sweeps.
func (opt Options) Tol(tol float64) Options {
	opt.tol = tol
	return opt
}

// Sequential chooses whether clusters within a sweep embed against the
// freshly updated density of earlier clusters. Sequential sweeps
// converge faster but make the trajectory depend on cluster order.
func (opt Options) Sequential(b bool) Options {
	opt.sequential = b
	return opt
}

// SpinAverage enforces alpha/beta symmetry on every solved cluster
// density.
func (opt Options) SpinAverage(b bool) Options {
	opt.spinAverage = b
	return opt
}

// Verbose sets the logging verbosity.
func (opt Options) Verbose(v int) Options {
	opt.verbose = v
	return opt
}

// Solver sets the cluster eigensolver options.
func (opt Options) Solver(s fci.Options) Options {
	opt.solver = s
	return opt
}

// envDensity copies the global density and zeroes the rows and columns
// of a cluster, leaving the density of its environment.
func envDensity(d *mat.Dense, orbs []int) *mat.Dense {
	n, _ := d.Dims()
	env := mat.NewDense(n, n, nil)
	env.CloneFrom(d)
	for _, p := range orbs {
		for q := 0; q < n; q++ {
			env.Set(p, q, 0)
			env.Set(q, p, 0)
		}
	}
	return env
}

// SolveCluster solves one cluster in the mean-field embedding of the
// current global density, returning its local densities and the local
// energy against the dressed Hamiltonian.
func SolveCluster(ic *ints.InCoreInts, global *rdm.RDM1, c Cluster, a Ansatz, opt Options) (*rdm.RDM1, *rdm.RDM2, float64, error) {
	no := len(c.Orbitals)
	emb := ic.SubsetDressed(c.Orbitals, envDensity(global.A, c.Orbitals), envDensity(global.B, c.Orbitals))
	sec := a.Sector()

	// A one-dimensional sector is a single determinant whose densities
	// are known without diagonalization.
	if a.Dimension(no) == 1 {
		d1 := rdm.NewRDM1(no)
		if sec.NAlpha == no {
			for p := 0; p < no; p++ {
				d1.A.Set(p, p, 1)
			}
		}
		if sec.NBeta == no {
			for p := 0; p < no; p++ {
				d1.B.Set(p, p, 1)
			}
		}
		d2 := rdm.Wick(d1)
		return d1, d2, EmbeddedEnergy(emb, d1, d2), nil
	}

	sol, err := fci.Solve(fci.Problem{
		Ints:   emb,
		NAlpha: sec.NAlpha,
		NBeta:  sec.NBeta,
		RAS:    a.Spaces(no),
	}, opt.solver)
	if err != nil {
		return nil, nil, 0, err
	}
	d1, d2 := sol.Densities()
	if opt.spinAverage {
		rdm.SpinAverage(d1, d2)
	}
	return d1, d2, sol.Energy, nil
}

// Result is the outcome of a density fixed point.
type Result struct {
	Energy    float64
	Density   *rdm.RDM1
	Density2  *rdm.RDM2
	Sweeps    int
	Converged bool
}

// CMFCI iterates the per-cluster solves to a self-consistent global
// density, starting from the supplied guess. Convergence is judged on
// the Frobenius norm of the spin-summed density change between sweeps;
// exhausting the sweep cap returns the last iterate without error.
func CMFCI(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1, options ...Options) (*Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	n := ic.NOrb()
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}

	orbLists := make([][]int, len(clusters))
	for i, c := range clusters {
		orbLists[i] = c.Orbitals
	}
	working := guess.Clone()
	prev := working.SpinSummed()
	res := &Result{}
	for sweep := range opt.maxIterations {
		blocks1 := make([]*rdm.RDM1, len(clusters))
		blocks2 := make([]*rdm.RDM2, len(clusters))
		for i, c := range clusters {
			d1, d2, _, err := SolveCluster(ic, working, c, ansatze[i], opt)
			if err != nil {
				return nil, err
			}
			blocks1[i], blocks2[i] = d1, d2
			if opt.sequential {
				writeBlock(working.A, c.Orbitals, d1.A)
				writeBlock(working.B, c.Orbitals, d1.B)
			}
		}
		working = rdm.Assemble1(n, orbLists, blocks1)
		res.Density = working
		res.Density2 = rdm.Assemble2(working, orbLists, blocks2)
		res.Energy = EnergyClusters(ic, clusters, blocks1, blocks2)
		res.Sweeps = sweep + 1

		cur := working.SpinSummed()
		var diff mat.Dense
		diff.Sub(cur, prev)
		ddens := mat.Norm(&diff, 2)
		prev = cur
		res.Converged = ddens < opt.tol
		if opt.verbose > 0 {
			mark := ""
			if res.Converged {
				mark = " *"
			}
			log.Printf("sweep %d energy %.10f ddens %.3e%s", sweep, res.Energy, ddens, mark)
		}
		if res.Converged {
			break
		}
	}
	return res, nil
}

// writeBlock overwrites the diagonal sub-block of a full matrix
// addressed by an orbital list.
func writeBlock(full *mat.Dense, orbs []int, block *mat.Dense) {
	for i, p := range orbs {
		for j, q := range orbs {
			full.Set(p, q, block.At(i, j))
		}
	}
}

package clustermf

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/orb"
	"github.com/nbraunsc/clustermf/rdm"
)

// dimerClusters splits l orbitals into clusters of two neighbors, one
// alpha and one beta electron each.
func dimerClusters(l int) ([]Cluster, []Ansatz) {
	clusters := make([]Cluster, 0, l/2)
	ansatze := make([]Ansatz, 0, l/2)
	for i := 0; i < l/2; i++ {
		clusters = append(clusters, Cluster{Index: i, Orbitals: []int{2 * i, 2*i + 1}})
		ansatze = append(ansatze, FCIAnsatz{Alpha: 1, Beta: 1})
	}
	return clusters, ansatze
}

func halfGuess(n int) *rdm.RDM1 {
	g := rdm.NewRDM1(n)
	for p := 0; p < n; p++ {
		g.A.Set(p, p, 0.5)
		g.B.Set(p, p, 0.5)
	}
	return g
}

// randSystem builds integrals with a symmetric one-body part and a
// weak two-body tensor carrying the physical eightfold symmetry.
func randSystem(rng *rand.Rand, n int, scale float64) *ints.InCoreInts {
	a := ints.New(n)
	for p := 0; p < n; p++ {
		for q := 0; q <= p; q++ {
			x := rng.NormFloat64()
			a.H1.Set(p, q, x)
			a.H1.Set(q, p, x)
		}
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					x := scale * rng.NormFloat64()
					for _, idx := range [][4]int{
						{p, q, r, s}, {q, p, r, s}, {p, q, s, r}, {q, p, s, r},
						{r, s, p, q}, {s, r, p, q}, {r, s, q, p}, {s, r, q, p},
					} {
						a.V.Set(idx[0], idx[1], idx[2], idx[3], x)
					}
				}
			}
		}
	}
	return a
}

func TestSingleClusterExact(t *testing.T) {
	t.Parallel()
	// With one cluster spanning the whole system, the cluster
	// approximation is exact.
	const u = 4.0
	ic := ints.Hubbard(2, 1, u)
	clusters := []Cluster{{Index: 0, Orbitals: []int{0, 1}}}
	ansatze := []Ansatz{FCIAnsatz{Alpha: 1, Beta: 1}}
	res, err := CMFCI(ic, clusters, ansatze, halfGuess(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := (u - math.Sqrt(u*u+16)) / 2
	if math.Abs(res.Energy-want) > 1e-9 {
		t.Fatalf("%f %f", res.Energy, want)
	}
	if !res.Converged {
		t.Fatalf("%#v", res)
	}
}

func TestOrderInvariance(t *testing.T) {
	t.Parallel()
	// In non-sequential sweeps every cluster embeds against the frozen
	// previous density, so permuting the cluster list cannot change the
	// trajectory.
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	opt := NewOptions().Sequential(false)
	fwd, err := CMFCI(ic, clusters, ansatze, halfGuess(4), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	rev, err := CMFCI(ic,
		[]Cluster{clusters[1], clusters[0]},
		[]Ansatz{ansatze[1], ansatze[0]},
		halfGuess(4), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(fwd.Energy-rev.Energy) > 1e-12 {
		t.Fatalf("%f %f", fwd.Energy, rev.Energy)
	}
}

func TestAssemblyConsistency(t *testing.T) {
	t.Parallel()
	// The pairwise cluster decomposition must agree with a direct
	// contraction of the assembled full-system densities.
	rng := rand.New(rand.NewPCG(21, 22))
	ic := randSystem(rng, 4, 0.1)
	ic.H0 = 0.3
	clusters, ansatze := dimerClusters(4)
	res, err := CMFCI(ic, clusters, ansatze, halfGuess(4), NewOptions().MaxIterations(60))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	direct := Energy(ic, res.Density, res.Density2)
	if math.Abs(direct-res.Energy) > 1e-9 {
		t.Fatalf("%f %f", direct, res.Energy)
	}
}

func TestPairEnergyWick(t *testing.T) {
	t.Parallel()
	// For idempotent cluster densities the pair energy is whatever the
	// mean-field factorized full density yields under direct
	// contraction.
	rng := rand.New(rand.NewPCG(23, 24))
	ic := randSystem(rng, 4, 0.2)
	clusters := []Cluster{
		{Index: 0, Orbitals: []int{0, 1}},
		{Index: 1, Orbitals: []int{2, 3}},
	}

	// Bonding orbital determinants, idempotent per spin.
	bond := mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5})
	blocks1 := []*rdm.RDM1{rdm.NewRDM1(2), rdm.NewRDM1(2)}
	for _, b := range blocks1 {
		b.A.CloneFrom(bond)
		b.B.CloneFrom(bond)
	}
	blocks2 := []*rdm.RDM2{rdm.Wick(blocks1[0]), rdm.Wick(blocks1[1])}

	assembled := EnergyClusters(ic, clusters, blocks1, blocks2)
	full1 := rdm.Assemble1(4, [][]int{{0, 1}, {2, 3}}, blocks1)
	direct := Energy(ic, full1, rdm.Wick(full1))
	if math.Abs(assembled-direct) > 1e-10 {
		t.Fatalf("%f %f", assembled, direct)
	}
}

func TestSingleDeterminantShortcut(t *testing.T) {
	t.Parallel()
	// A fully occupied and a fully empty cluster bypass the
	// eigensolver.
	ic := ints.Hubbard(4, 1, 2)
	clusters := []Cluster{
		{Index: 0, Orbitals: []int{0, 1}},
		{Index: 1, Orbitals: []int{2, 3}},
	}
	ansatze := []Ansatz{
		FCIAnsatz{Alpha: 2, Beta: 2},
		FCIAnsatz{Alpha: 0, Beta: 0},
	}
	res, err := CMFCI(ic, clusters, ansatze, halfGuess(4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for p := 0; p < 4; p++ {
		want := 0.0
		if p < 2 {
			want = 1
		}
		if res.Density.A.At(p, p) != want || res.Density.B.At(p, p) != want {
			t.Fatalf("%d %f %f", p, res.Density.A.At(p, p), res.Density.B.At(p, p))
		}
	}
	if res.Sweeps != 2 || !res.Converged {
		t.Fatalf("%#v", res)
	}
	direct := Energy(ic, res.Density, res.Density2)
	if math.Abs(direct-res.Energy) > 1e-12 {
		t.Fatalf("%f %f", direct, res.Energy)
	}
}

func TestDisconnectedClusters(t *testing.T) {
	t.Parallel()
	// Two uncoupled dimers with no two-body term: the first sweep lands
	// on the exact density, and the energy is the sum of the two
	// independent ground energies.
	ic := ints.New(4)
	for _, ij := range [][2]int{{0, 1}, {2, 3}} {
		ic.H1.Set(ij[0], ij[1], -1)
		ic.H1.Set(ij[1], ij[0], -1)
	}
	clusters, ansatze := dimerClusters(4)
	opt := NewOptions().Sequential(false)

	full, err := CMFCI(ic, clusters, ansatze, halfGuess(4), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(full.Energy-(-4)) > 1e-10 {
		t.Fatalf("%f", full.Energy)
	}
	if full.Sweeps != 2 || !full.Converged {
		t.Fatalf("%#v", full)
	}

	one, err := CMFCI(ic, clusters, ansatze, halfGuess(4), opt.MaxIterations(1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !mat.EqualApprox(one.Density.A, full.Density.A, 1e-12) {
		t.Fatalf("%v %v", mat.Formatted(one.Density.A), mat.Formatted(full.Density.A))
	}
}

func TestFixedPointRestart(t *testing.T) {
	t.Parallel()
	// Restarting from a perturbed converged density must fall back to
	// the same fixed point within the cap.
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	opt := NewOptions().Tol(1e-10).MaxIterations(80)
	res, err := CMFCI(ic, clusters, ansatze, halfGuess(4), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !res.Converged {
		t.Fatalf("%#v", res)
	}

	rng := rand.New(rand.NewPCG(25, 26))
	perturbed := res.Density.Clone()
	for p := 0; p < 4; p++ {
		for q := 0; q <= p; q++ {
			x := 0.01 * rng.NormFloat64()
			perturbed.A.Set(p, q, perturbed.A.At(p, q)+x)
			perturbed.A.Set(q, p, perturbed.A.At(p, q))
		}
	}
	res2, err := CMFCI(ic, clusters, ansatze, perturbed, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !res2.Converged {
		t.Fatalf("%#v", res2)
	}
	if math.Abs(res2.Energy-res.Energy) > 1e-8 {
		t.Fatalf("%f %f", res2.Energy, res.Energy)
	}
}

func TestSpinAverageOption(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 2)
	clusters, ansatze := dimerClusters(4)
	plain, err := CMFCI(ic, clusters, ansatze, halfGuess(4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	avg, err := CMFCI(ic, clusters, ansatze, halfGuess(4), NewOptions().SpinAverage(true))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(plain.Energy-avg.Energy) > 1e-9 {
		t.Fatalf("%f %f", plain.Energy, avg.Energy)
	}
	if !mat.EqualApprox(avg.Density.A, avg.Density.B, 1e-12) {
		t.Fatalf("%v %v", mat.Formatted(avg.Density.A), mat.Formatted(avg.Density.B))
	}
}

func TestProjector(t *testing.T) {
	t.Parallel()
	// A single unrestricted cluster over the whole system absorbs every
	// rotation, leaving nothing to optimize.
	if _, err := Projector(2,
		[]Cluster{{Index: 0, Orbitals: []int{0, 1}}},
		[]Ansatz{FCIAnsatz{Alpha: 1, Beta: 1}}); err == nil {
		t.Fatalf("expected error")
	}

	clusters, ansatze := dimerClusters(4)
	proj, err := Projector(4, clusters, ansatze)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r, c := proj.Dims()
	if r != 6 || c != 4 {
		t.Fatalf("%d %d", r, c)
	}
	// Intra-cluster pairs (0,1) and (2,3) are dropped.
	for _, row := range []int{0, 5} {
		for j := 0; j < c; j++ {
			if proj.At(row, j) != 0 {
				t.Fatalf("%d %d", row, j)
			}
		}
	}
}

func TestProjectorRAS(t *testing.T) {
	t.Parallel()
	// A frozen doubly-occupied sub-space of one cluster cannot interact
	// with a frozen empty sub-space of another.
	clusters := []Cluster{
		{Index: 0, Orbitals: []int{0, 1}},
		{Index: 1, Orbitals: []int{2, 3}},
	}
	ansatze := []Ansatz{
		RASCIAnsatz{Alpha: 1, Beta: 1, Sub: [][]int{{0}, {1}, {}}, MaxHoles: 0, MaxParticles: 0},
		RASCIAnsatz{Alpha: 1, Beta: 1, Sub: [][]int{{}, {0}, {1}}, MaxHoles: 0, MaxParticles: 0},
	}
	proj, err := Projector(4, clusters, ansatze)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r, c := proj.Dims()
	if r != 6 || c != 5 {
		t.Fatalf("%d %d", r, c)
	}
	// Pair (0, 3) joins cluster 0's frozen occupied orbital to cluster
	// 1's frozen virtual.
	for j := 0; j < c; j++ {
		if proj.At(2, j) != 0 {
			t.Fatalf("%d", j)
		}
	}
}

func initialGradient(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1) (float64, float64, error) {
	res, err := CMFCI(ic, clusters, ansatze, guess)
	if err != nil {
		return 0, 0, err
	}
	g := orb.Gradient(ic, res.Density.SpinSummed(), res.Density2.SpinSummed())
	return res.Energy, floats.Norm(g, 2), nil
}

func TestOptimizeOrbitals(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	e0, g0, err := initialGradient(ic, clusters, ansatze, halfGuess(4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if g0 < 1e-3 {
		t.Fatalf("%f", g0)
	}

	for _, method := range []string{MethodLBFGS, MethodCG} {
		t.Run(method, func(t *testing.T) {
			t.Parallel()
			opt := NewOrbOptions().Method(method).Tol(1e-6).MaxIterations(200)
			res, err := OptimizeOrbitals(ic, clusters, ansatze, halfGuess(4), opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if res.Energy > e0+1e-9 {
				t.Fatalf("%f %f", res.Energy, e0)
			}
			if res.GradNorm > 1e-4 {
				t.Fatalf("%e", res.GradNorm)
			}
			// The returned rotation reproduces the optimized energy.
			check, err := CMFCI(ic.Rotate(res.U), clusters, ansatze, res.Density)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(check.Energy-res.Energy) > 1e-8 {
				t.Fatalf("%f %f", check.Energy, res.Energy)
			}
		})
	}
}

func TestOptimizeOrbitalsNotImplemented(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	for _, method := range []string{MethodGradientDescent, MethodDIIS} {
		opt := NewOrbOptions().Method(method)
		if _, err := OptimizeOrbitals(ic, clusters, ansatze, halfGuess(4), opt); err == nil {
			t.Fatalf("%s", method)
		}
	}
}

func TestOptimizeGradientDescent(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	e0, g0, err := initialGradient(ic, clusters, ansatze, halfGuess(4))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	opt := NewOrbOptions().StepSize(0.05).Tol(1e-5).MaxIterations(60)
	res, err := OptimizeGradientDescent(ic, clusters, ansatze, halfGuess(4), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Energy > e0+1e-10 {
		t.Fatalf("%f %f", res.Energy, e0)
	}
	if res.GradNorm >= g0 {
		t.Fatalf("%e %e", res.GradNorm, g0)
	}
}

func TestOptimizeNewton(t *testing.T) {
	t.Parallel()
	// Warm up with the quasi-Newton wrapper, then polish with analytic
	// Newton steps, which converge quadratically near the minimum.
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	warm, err := OptimizeOrbitals(ic, clusters, ansatze, halfGuess(4),
		NewOrbOptions().Tol(1e-5).MaxIterations(200))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ic2 := ic.Rotate(warm.U)

	// The outer threshold stays above the inner fixed-point tolerance,
	// otherwise gradient noise from the inner loop masks convergence.
	inner := NewOptions().Tol(1e-10).MaxIterations(80)
	base := NewOrbOptions().Tol(1e-7).MaxIterations(30).TrustRadius(0.2).Inner(inner)
	tests := []struct {
		name string
		opt  OrbOptions
	}{
		{name: "full", opt: base},
		{name: "projected", opt: base.Project(true)},
		{name: "pinv", opt: base.Pinv(true)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			res, err := OptimizeNewton(ic2, clusters, ansatze, warm.Density.Clone(), test.opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !res.Converged {
				t.Fatalf("%#v", res)
			}
			if res.Energy > warm.Energy+1e-7 {
				t.Fatalf("%f %f", res.Energy, warm.Energy)
			}
		})
	}
}

func TestOptimizeDIIS(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	e0, g0, err := initialGradient(ic, clusters, ansatze, halfGuess(4))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		opt := NewOrbOptions().StepSize(0.05).Tol(1e-5).MaxIterations(100)
		res, err := OptimizeDIIS(ic, clusters, ansatze, halfGuess(4), opt)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if res.Energy > e0+1e-9 {
			t.Fatalf("%f %f", res.Energy, e0)
		}
		if res.GradNorm >= g0 {
			t.Fatalf("%e %e", res.GradNorm, g0)
		}
	})

	t.Run("hessian", func(t *testing.T) {
		t.Parallel()
		warm, err := OptimizeOrbitals(ic, clusters, ansatze, halfGuess(4),
			NewOrbOptions().Tol(1e-4).MaxIterations(200))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		opt := NewOrbOptions().Hessian(true).TrustRadius(0.2).Tol(1e-7).MaxIterations(40).
			Inner(NewOptions().Tol(1e-10).MaxIterations(80))
		res, err := OptimizeDIIS(ic.Rotate(warm.U), clusters, ansatze, warm.Density.Clone(), opt)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !res.Converged {
			t.Fatalf("%#v", res)
		}
		if res.Energy > warm.Energy+1e-7 {
			t.Fatalf("%f %f", res.Energy, warm.Energy)
		}
	})
}

func TestCallback(t *testing.T) {
	t.Parallel()
	ic := ints.Hubbard(4, 1, 1)
	clusters, ansatze := dimerClusters(4)
	var iters []OrbIteration
	opt := NewOrbOptions().StepSize(0.05).Tol(1e-5).MaxIterations(5).
		Callback(func(it OrbIteration) { iters = append(iters, it) })
	if _, err := OptimizeGradientDescent(ic, clusters, ansatze, halfGuess(4), opt); err != nil {
		t.Fatalf("%+v", err)
	}
	if len(iters) != 5 {
		t.Fatalf("%d", len(iters))
	}
	for i, it := range iters {
		if it.Iter != i {
			t.Fatalf("%d %d", i, it.Iter)
		}
	}
}

func ExampleCMFCI() {
	ic := ints.Hubbard(2, 1, 4)
	clusters := []Cluster{{Index: 0, Orbitals: []int{0, 1}}}
	ansatze := []Ansatz{FCIAnsatz{Alpha: 1, Beta: 1}}
	res, err := CMFCI(ic, clusters, ansatze, halfGuess(2))
	if err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("%.6f\n", res.Energy)
	// Output:
	// -0.828427
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}

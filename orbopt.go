package clustermf

import (
	"log"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/orb"
	"github.com/nbraunsc/clustermf/rdm"
)

// Methods of the generic orbital optimizer.
const (
	MethodLBFGS           = "lbfgs"
	MethodCG              = "cg"
	MethodGradientDescent = "gd"
	MethodDIIS            = "diis"
)

// OrbOptions are options for the orbital optimizers.
type OrbOptions struct {
	maxIterations int
	tol           float64
	stepSize      float64
	method        string
	diisStart     int
	diisDepth     int
	hessian       bool
	trustRadius   float64
	project       bool
	pinv          bool
	zeroCluster   bool
	verbose       int
	callback      func(OrbIteration)
	inner         Options
}

// NewOrbOptions returns the default orbital optimizer options.
func NewOrbOptions() OrbOptions {
	opt := OrbOptions{}
	opt.maxIterations = 100
	opt.tol = 1e-6
	opt.stepSize = 0.1
	opt.method = MethodLBFGS
	opt.diisStart = 2
	opt.diisDepth = 8
	opt.inner = NewOptions()
	return opt
}

// MaxIterations sets the outer iteration cap.
func (opt OrbOptions) MaxIterations(i int) OrbOptions {
	opt.maxIterations = i
	return opt
}

// Tol sets the convergence tolerance on the gradient norm.
func (opt OrbOptions) Tol(tol float64) OrbOptions {
	opt.tol = tol
	return opt
}

// StepSize sets the fixed step of gradient descent and of the
// Hessian-free DIIS step.
func (opt OrbOptions) StepSize(a float64) OrbOptions {
	opt.stepSize = a
	return opt
}

// Method sets the step strategy of OptimizeOrbitals.
func (opt OrbOptions) Method(m string) OrbOptions {
	opt.method = m
	return opt
}

// DIISStart sets the warm-up iteration count before extrapolating.
func (opt OrbOptions) DIISStart(i int) OrbOptions {
	opt.diisStart = i
	return opt
}

// DIISDepth sets the subspace size.
func (opt OrbOptions) DIISDepth(i int) OrbOptions {
	opt.diisDepth = i
	return opt
}

// Hessian enables the analytic Hessian step inside the DIIS optimizer.
func (opt OrbOptions) Hessian(b bool) OrbOptions {
	opt.hessian = b
	return opt
}

// TrustRadius caps the norm of proposed steps, 0 disables the cap.
func (opt OrbOptions) TrustRadius(r float64) OrbOptions {
	opt.trustRadius = r
	return opt
}

// Project restricts steps to the directions kept by the
// invariant-subspace projector.
func (opt OrbOptions) Project(b bool) OrbOptions {
	opt.project = b
	return opt
}

// Pinv solves Newton systems by pseudoinverse instead of LU.
func (opt OrbOptions) Pinv(b bool) OrbOptions {
	opt.pinv = b
	return opt
}

// ZeroClusterGradient zeroes gradient components within each cluster's
// own orbital block before a gradient descent step.
func (opt OrbOptions) ZeroClusterGradient(b bool) OrbOptions {
	opt.zeroCluster = b
	return opt
}

// Verbose sets the logging verbosity.
func (opt OrbOptions) Verbose(v int) OrbOptions {
	opt.verbose = v
	return opt
}

// Callback sets a hook invoked after every outer iteration.
func (opt OrbOptions) Callback(f func(OrbIteration)) OrbOptions {
	opt.callback = f
	return opt
}

// Inner sets the options of the density fixed point run at every
// candidate rotation.
func (opt OrbOptions) Inner(o Options) OrbOptions {
	opt.inner = o
	return opt
}

// OrbIteration is one outer iteration report.
type OrbIteration struct {
	Iter     int
	Energy   float64
	GradNorm float64
	StepNorm float64
}

// OrbResult is the outcome of an orbital optimization. U is the
// cumulative rotation and Density the converged density in the rotated
// basis.
type OrbResult struct {
	Energy     float64
	U          *mat.Dense
	Density    *rdm.RDM1
	GradNorm   float64
	Iterations int
	Converged  bool
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func transpose(u *mat.Dense) *mat.Dense {
	r, c := u.Dims()
	t := mat.NewDense(c, r, nil)
	t.Copy(u.T())
	return t
}

// evaluator evaluates candidate rotations expressed as packed
// generators against the unrotated basis. The converged density of
// every candidate is kept, mapped back to the unrotated basis, to warm
// start the next candidate's fixed point.
type evaluator struct {
	ints     *ints.InCoreInts
	clusters []Cluster
	ansatze  []Ansatz
	inner    Options

	density *rdm.RDM1
	lastX   []float64
	last    *Result
	lastInt *ints.InCoreInts
	evals   int
	err     error
}

func (ev *evaluator) at(x []float64) (*Result, *ints.InCoreInts, error) {
	if ev.last != nil && floats.Equal(x, ev.lastX) {
		return ev.last, ev.lastInt, nil
	}
	n := ev.ints.NOrb()
	u := orb.Expm(orb.Unpack(x, n))
	icr := ev.ints.Rotate(u)
	res, err := CMFCI(icr, ev.clusters, ev.ansatze, ev.density.Rotate(u), ev.inner)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	ev.density = res.Density.Rotate(transpose(u))
	ev.lastX = append(ev.lastX[:0], x...)
	ev.last, ev.lastInt = res, icr
	ev.evals++
	return res, icr, nil
}

func (ev *evaluator) objective(x []float64) float64 {
	res, _, err := ev.at(x)
	if err != nil {
		ev.err = err
		return math.NaN()
	}
	return res.Energy
}

func (ev *evaluator) gradient(grad, x []float64) {
	res, icr, err := ev.at(x)
	if err != nil {
		ev.err = err
		for i := range grad {
			grad[i] = math.NaN()
		}
		return
	}
	copy(grad, orb.Gradient(icr, res.Density.SpinSummed(), res.Density2.SpinSummed()))
}

// optLogger reports major iterations of the external optimizer.
type optLogger struct {
	verbose  int
	callback func(OrbIteration)
	iter     int
}

func (l *optLogger) Init() error {
	return nil
}

func (l *optLogger) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	gnorm := floats.Norm(loc.Gradient, 2)
	if l.verbose > 0 {
		log.Printf("%d energy %.10f |g| %.3e", l.iter, loc.F, gnorm)
	}
	if l.callback != nil {
		l.callback(OrbIteration{Iter: l.iter, Energy: loc.F, GradNorm: gnorm})
	}
	l.iter++
	return nil
}

// OptimizeOrbitals minimizes the energy over orbital rotations by
// delegating the parameter search to a general-purpose optimizer with
// the analytic gradient. Every evaluation runs the density fixed point
// under the candidate rotation.
func OptimizeOrbitals(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1, options ...OrbOptions) (*OrbResult, error) {
	opt := NewOrbOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	var method optimize.Method
	switch opt.method {
	case MethodLBFGS:
		method = &optimize.LBFGS{}
	case MethodCG:
		method = &optimize.CG{}
	case MethodGradientDescent, MethodDIIS:
		return nil, errors.Errorf("method %s not implemented, use the dedicated optimizer", opt.method)
	default:
		return nil, errors.Errorf("unknown method %s", opt.method)
	}
	n := ic.NOrb()
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}
	ev := &evaluator{ints: ic, clusters: clusters, ansatze: ansatze, inner: opt.inner, density: guess.Clone()}
	problem := optimize.Problem{Func: ev.objective, Grad: ev.gradient}
	settings := &optimize.Settings{
		GradientThreshold: opt.tol,
		MajorIterations:   opt.maxIterations,
		Recorder:          &optLogger{verbose: opt.verbose, callback: opt.callback},
	}
	x0 := make([]float64, orb.NumPairs(n))
	result, err := optimize.Minimize(problem, x0, settings, method)
	if ev.err != nil {
		return nil, ev.err
	}
	if result == nil {
		return nil, errors.Wrap(err, "")
	}
	// Linesearch stalls near convergence are not fatal, the last
	// iterate is still the best candidate.
	if err != nil && err != optimize.ErrLinesearcherFailure {
		return nil, errors.Wrap(err, "")
	}
	res, _, aerr := ev.at(result.X)
	if aerr != nil {
		return nil, aerr
	}
	gnorm := floats.Norm(result.Gradient, 2)
	return &OrbResult{
		Energy:     res.Energy,
		U:          orb.Expm(orb.Unpack(result.X, n)),
		Density:    res.Density,
		GradNorm:   gnorm,
		Iterations: result.Stats.MajorIterations,
		Converged:  gnorm < opt.tol,
	}, nil
}

// zeroClusterPairs removes gradient components whose two orbitals lie
// in the same cluster.
func zeroClusterPairs(g []float64, n int, clusters []Cluster) {
	owner := make(map[int]int)
	for i, c := range clusters {
		for _, p := range c.Orbitals {
			owner[p] = i
		}
	}
	for k, pq := range orb.Pairs(n) {
		if owner[pq[0]] == owner[pq[1]] {
			g[k] = 0
		}
	}
}

// OptimizeGradientDescent minimizes the energy by fixed-step steepest
// descent on the rotation generator, accumulating the rotation by right
// multiplication. Exhausting the iteration cap returns the last iterate
// without error.
func OptimizeGradientDescent(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1, options ...OrbOptions) (*OrbResult, error) {
	opt := NewOrbOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	n := ic.NOrb()
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}
	u := identity(n)
	dens := guess.Clone()
	res := &OrbResult{U: u}
	for it := range opt.maxIterations {
		icr := ic.Rotate(u)
		cres, err := CMFCI(icr, clusters, ansatze, dens, opt.inner)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		g := orb.Gradient(icr, cres.Density.SpinSummed(), cres.Density2.SpinSummed())
		if opt.zeroCluster {
			zeroClusterPairs(g, n, clusters)
		}
		gnorm := floats.Norm(g, 2)
		res.Energy, res.Density, res.GradNorm, res.Iterations = cres.Energy, cres.Density, gnorm, it+1
		res.Converged = gnorm < opt.tol
		report(opt, "gd", OrbIteration{Iter: it, Energy: cres.Energy, GradNorm: gnorm}, res.Converged)
		if res.Converged {
			break
		}
		step := make([]float64, len(g))
		floats.AddScaled(step, -opt.stepSize, g)
		su := orb.Expm(orb.Unpack(step, n))
		u.Mul(u, su)
		dens = cres.Density.Rotate(su)
	}
	return res, nil
}

func report(opt OrbOptions, name string, it OrbIteration, converged bool) {
	if opt.verbose > 0 {
		mark := ""
		if converged {
			mark = " *"
		}
		log.Printf("%s %d energy %.10f |g| %.3e |s| %.3e%s", name, it.Iter, it.Energy, it.GradNorm, it.StepNorm, mark)
	}
	if opt.callback != nil {
		opt.callback(it)
	}
}

// reduce maps a packed Hessian into the projected parameter space.
func reduce(proj *mat.Dense, h *mat.SymDense) *mat.SymDense {
	var ph mat.Dense
	ph.Product(proj.T(), h, proj)
	_, k := proj.Dims()
	red := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			red.SetSym(i, j, 0.5*(ph.At(i, j)+ph.At(j, i)))
		}
	}
	return red
}

// reduceVec maps a packed vector into the projected space.
func reduceVec(proj *mat.Dense, g []float64) []float64 {
	var v mat.VecDense
	v.MulVec(proj.T(), mat.NewVecDense(len(g), g))
	return append([]float64(nil), v.RawVector().Data...)
}

// expandVec maps a projected vector back to the full packed space.
func expandVec(proj *mat.Dense, s []float64) []float64 {
	var v mat.VecDense
	v.MulVec(proj, mat.NewVecDense(len(s), s))
	return append([]float64(nil), v.RawVector().Data...)
}

// trustCap rescales a step exceeding the trust radius, returning its
// final norm.
func trustCap(step []float64, radius float64) float64 {
	norm := floats.Norm(step, 2)
	if radius > 0 && norm > radius {
		floats.Scale(radius/norm, step)
		return radius
	}
	return norm
}

// OptimizeDIIS minimizes the energy by extrapolating the rotation
// parameters over a bounded subspace of past (parameter, gradient)
// pairs. Parameters accumulate additively against the starting basis.
// With the Hessian option the raw step is the Newton step, otherwise a
// fixed multiple of the gradient.
func OptimizeDIIS(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1, options ...OrbOptions) (*OrbResult, error) {
	opt := NewOrbOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	n := ic.NOrb()
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}
	var proj *mat.Dense
	if opt.project {
		var err error
		if proj, err = Projector(n, clusters, ansatze); err != nil {
			return nil, err
		}
	}
	ev := &evaluator{ints: ic, clusters: clusters, ansatze: ansatze, inner: opt.inner, density: guess.Clone()}
	x := make([]float64, orb.NumPairs(n))
	sub := newDIIS(opt.diisDepth)
	res := &OrbResult{}
	for it := range opt.maxIterations {
		cres, icr, err := ev.at(x)
		if err != nil {
			return nil, err
		}
		g := orb.Gradient(icr, cres.Density.SpinSummed(), cres.Density2.SpinSummed())
		if proj != nil {
			g = expandVec(proj, reduceVec(proj, g))
		}
		gnorm := floats.Norm(g, 2)
		res.Energy, res.Density, res.GradNorm, res.Iterations = cres.Energy, cres.Density, gnorm, it+1
		res.U = orb.Expm(orb.Unpack(x, n))
		res.Converged = gnorm < opt.tol

		var step []float64
		if opt.hessian {
			h := orb.Hessian(icr, cres.Density.SpinSummed(), cres.Density2.SpinSummed())
			if proj != nil {
				s, serr := orb.Solve(reduce(proj, h), reduceVec(proj, g))
				if serr != nil {
					return nil, serr
				}
				step = expandVec(proj, s)
			} else {
				s, serr := orb.Solve(h, g)
				if serr != nil {
					return nil, serr
				}
				step = s
			}
			floats.Scale(-1, step)
		} else {
			step = make([]float64, len(g))
			floats.AddScaled(step, -opt.stepSize, g)
		}
		snorm := trustCap(step, opt.trustRadius)
		report(opt, "diis", OrbIteration{Iter: it, Energy: cres.Energy, GradNorm: gnorm, StepNorm: snorm}, res.Converged)
		if res.Converged {
			break
		}

		raw := make([]float64, len(x))
		floats.AddTo(raw, x, step)
		sub.push(raw, g)
		if it+1 >= opt.diisStart && sub.size() >= 2 {
			xe, ge, eerr := sub.extrapolate()
			if eerr != nil {
				x = raw
			} else {
				x = xe
				if opt.verbose > 1 {
					log.Printf("diis %d vectors, predicted |g| %.3e", sub.size(), floats.Norm(ge, 2))
				}
			}
		} else {
			x = raw
		}
	}
	return res, nil
}

// OptimizeNewton minimizes the energy by analytic Newton steps,
// optionally restricted to the invariant-subspace-projected parameters,
// accumulating the rotation by right multiplication.
func OptimizeNewton(ic *ints.InCoreInts, clusters []Cluster, ansatze []Ansatz, guess *rdm.RDM1, options ...OrbOptions) (*OrbResult, error) {
	opt := NewOrbOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	n := ic.NOrb()
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}
	var proj *mat.Dense
	if opt.project {
		var err error
		if proj, err = Projector(n, clusters, ansatze); err != nil {
			return nil, err
		}
	}
	u := identity(n)
	dens := guess.Clone()
	res := &OrbResult{U: u}
	for it := range opt.maxIterations {
		icr := ic.Rotate(u)
		cres, err := CMFCI(icr, clusters, ansatze, dens, opt.inner)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		g := orb.Gradient(icr, cres.Density.SpinSummed(), cres.Density2.SpinSummed())
		h := orb.Hessian(icr, cres.Density.SpinSummed(), cres.Density2.SpinSummed())
		gr, hr := g, h
		if proj != nil {
			gr, hr = reduceVec(proj, g), reduce(proj, h)
		}
		gnorm := floats.Norm(gr, 2)
		res.Energy, res.Density, res.GradNorm, res.Iterations = cres.Energy, cres.Density, gnorm, it+1
		res.Converged = gnorm < opt.tol

		var s []float64
		if opt.pinv {
			pinv, perr := orb.Pinv(hr)
			if perr != nil {
				return nil, perr
			}
			var v mat.VecDense
			v.MulVec(pinv, mat.NewVecDense(len(gr), gr))
			s = append([]float64(nil), v.RawVector().Data...)
		} else {
			if s, err = orb.Solve(hr, gr); err != nil {
				return nil, err
			}
		}
		step := s
		if proj != nil {
			step = expandVec(proj, s)
		}
		floats.Scale(-1, step)
		snorm := trustCap(step, opt.trustRadius)
		report(opt, "newton", OrbIteration{Iter: it, Energy: cres.Energy, GradNorm: gnorm, StepNorm: snorm}, res.Converged)
		if res.Converged {
			break
		}
		su := orb.Expm(orb.Unpack(step, n))
		u.Mul(u, su)
		dens = cres.Density.Rotate(su)
	}
	return res, nil
}

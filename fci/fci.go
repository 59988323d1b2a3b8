// Package fci computes ground states of cluster Hamiltonians in a basis
// of Slater determinants.
//
// A sector of fixed alpha and beta electron counts is enumerated as
// occupation bitmasks, optionally restricted by hole and particle caps
// over a three-way orbital partition (RASCI). The Hamiltonian is built
// by direct application of the second-quantized one- and two-body
// operators and diagonalized either densely or with a few Arnoldi
// iterations.
package fci

import (
	"log"
	"math"
	"math/cmplx"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/rdm"
)

// Backends for the sector eigensolve.
const (
	BackendDense   = "dense"
	BackendArnoldi = "arnoldi"
)

// Spaces is a three-way partition of the cluster orbitals with caps on
// the number of holes in Sub[0] and particles in Sub[2]. Orbital indices
// are local to the cluster.
type Spaces struct {
	Sub          [][]int
	MaxHoles     int
	MaxParticles int
}

// Problem is a cluster ground-state computation in a fixed particle
// sector. RAS is nil for an unrestricted determinant basis.
type Problem struct {
	Ints   *ints.Embedded
	NAlpha int
	NBeta  int
	RAS    *Spaces
}

// Options are optional arguments to Solve. Tolerance and MaxIterations
// govern the iterative backend; the dense backend ignores them.
type Options struct {
	backend       string
	tolerance     float64
	maxIterations int
	verbose       int
}

// NewOptions returns the default options.
func NewOptions() Options {
	return Options{
		backend:       BackendDense,
		tolerance:     1e-4,
		maxIterations: 30,
	}
}

// Backend sets the eigensolver backend.
func (o Options) Backend(b string) Options {
	o.backend = b
	return o
}

// Tolerance sets the residual norm |Hv - Ev| below which the iterative
// backend accepts a ground-state candidate.
func (o Options) Tolerance(tol float64) Options {
	o.tolerance = tol
	return o
}

// MaxIterations caps the restarts of the iterative backend.
func (o Options) MaxIterations(n int) Options {
	o.maxIterations = n
	return o
}

// Verbose sets the logging level.
func (o Options) Verbose(v int) Options {
	o.verbose = v
	return o
}

// Solution is the ground state of a sector.
type Solution struct {
	// Energy is the ground eigenvalue of the cluster Hamiltonian,
	// excluding the scalar core term of the integrals.
	Energy float64

	no    int
	basis []det
	index map[det]int
	vec   []float64
}

// Dim is the number of determinants in the sector basis.
func (s *Solution) Dim() int {
	return len(s.basis)
}

// Dimension counts the determinants of a sector without solving it.
func Dimension(no, na, nb int, ras *Spaces) int {
	basis, _ := basisSet(no, na, nb, ras)
	return len(basis)
}

// Solve diagonalizes the sector Hamiltonian and returns its ground
// state.
func Solve(p Problem, options ...Options) (*Solution, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	no := p.Ints.NOrb()
	if p.NAlpha < 0 || p.NAlpha > no || p.NBeta < 0 || p.NBeta > no {
		return nil, errors.Errorf("%d alpha %d beta in %d orbitals", p.NAlpha, p.NBeta, no)
	}
	if no > 16 {
		return nil, errors.Errorf("%d orbitals", no)
	}
	basis, index := basisSet(no, p.NAlpha, p.NBeta, p.RAS)
	if len(basis) == 0 {
		return nil, errors.Errorf("empty basis %d %d %d", no, p.NAlpha, p.NBeta)
	}
	sol := &Solution{no: no, basis: basis, index: index}

	// A one-dimensional sector needs no diagonalization.
	if len(basis) == 1 {
		h := hamiltonian(p.Ints, basis, index)
		sol.Energy = h[0]
		sol.vec = []float64{1}
		return sol, nil
	}

	h := hamiltonian(p.Ints, basis, index)
	switch opt.backend {
	case BackendDense:
		if err := solveDense(sol, h); err != nil {
			return nil, errors.Wrap(err, "")
		}
	case BackendArnoldi:
		if err := solveArnoldi(sol, h, opt); err != nil {
			return nil, errors.Wrap(err, "")
		}
	default:
		return nil, errors.Errorf("unknown backend %s", opt.backend)
	}
	return sol, nil
}

func solveDense(sol *Solution, h []float64) error {
	dim := len(sol.basis)
	sym := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			sym.SetSym(i, j, 0.5*(h[i*dim+j]+h[j*dim+i]))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return errors.Errorf("eigendecomposition failed, dim %d", dim)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	sol.Energy = eig.Values(nil)[0]
	sol.vec = make([]float64, dim)
	for i := 0; i < dim; i++ {
		sol.vec[i] = vecs.At(i, 0)
	}
	return nil
}

func solveArnoldi(sol *Solution, h []float64, opt Options) error {
	dim := len(sol.basis)

	// Shift the spectrum negative so the ground state dominates the
	// Arnoldi iteration.
	var shift float64
	for i := 0; i < dim; i++ {
		var row float64
		for j := 0; j < dim; j++ {
			row += math.Abs(h[i*dim+j])
		}
		if row > shift {
			shift = row
		}
	}
	shift++

	ht := tensor.Zeros(dim, dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			hv := h[i*dim+j]
			if i == j {
				hv -= shift
			}
			ht.SetAt([]int{i, j}, complex(float32(hv), 0))
		}
	}

	// The single-precision iteration starts from a random vector, so
	// restart until a candidate meets the residual tolerance, keeping
	// the best seen. The energy is the Rayleigh quotient of the
	// candidate against the unshifted double-precision Hamiltonian.
	restarts := opt.maxIterations
	if restarts < 1 {
		restarts = 1
	}
	best := math.Inf(1)
	for it := 0; it < restarts; it++ {
		eigvals, eigvecs := tensor.Zeros(1), tensor.Zeros(1)
		var abufs [7]*tensor.Dense
		for i := range abufs {
			abufs[i] = tensor.Zeros(1)
		}
		if err := tensor.Arnoldi(eigvals, eigvecs, ht, 1, abufs); err != nil {
			return errors.Wrap(err, "")
		}
		vec := realize(eigvecs.Reshape(dim), dim)
		energy := rayleigh(h, vec)
		res := residualNorm(h, vec, energy)
		if opt.verbose > 0 {
			log.Printf("arnoldi restart %d energy %.10f residual %.3e", it, energy, res)
		}
		if res < best {
			best = res
			sol.Energy = energy
			sol.vec = vec
		}
		if best <= opt.tolerance {
			break
		}
	}
	return nil
}

// realize strips the arbitrary complex phase of an eigenvector and
// renormalizes it in double precision.
func realize(vt *tensor.Dense, dim int) []float64 {
	vec := make([]float64, dim)
	imax, amax := 0, 0.0
	for i := 0; i < dim; i++ {
		if a := cmplx.Abs(complex128(vt.At(i))); a > amax {
			imax, amax = i, a
		}
	}
	phase := complex128(vt.At(imax))
	phase /= complex(cmplx.Abs(phase), 0)
	var norm float64
	for i := 0; i < dim; i++ {
		vec[i] = real(complex128(vt.At(i)) / phase)
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// rayleigh is v^T H v for a normalized v.
func rayleigh(h, v []float64) float64 {
	dim := len(v)
	var e float64
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			e += v[i] * h[i*dim+j] * v[j]
		}
	}
	return e
}

// residualNorm is |Hv - Ev| for a normalized v.
func residualNorm(h, v []float64, e float64) float64 {
	dim := len(v)
	var sum float64
	for i := 0; i < dim; i++ {
		var hv float64
		for j := 0; j < dim; j++ {
			hv += h[i*dim+j] * v[j]
		}
		r := hv - e*v[i]
		sum += r * r
	}
	return math.Sqrt(sum)
}

// Densities returns the one- and two-particle reduced densities of the
// ground state in the cluster orbital basis.
func (s *Solution) Densities() (*rdm.RDM1, *rdm.RDM2) {
	return densities(s.no, s.basis, s.index, s.vec)
}

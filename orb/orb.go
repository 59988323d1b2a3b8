// Package orb implements the orbital rotation algebra of mean-field
// optimizations.
//
// A rotation is parametrized as U = exp(K) with K antisymmetric, packed
// over index pairs p < q. Integrals transform as h' = Uᵀ h U, and the
// energy gradient and Hessian with respect to the packed parameters are
// evaluated analytically from the one- and two-particle densities.
// See Helgaker, Jorgensen, Olsen, Molecular Electronic-Structure
// Theory, chapter 10.
package orb

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
)

// NumPairs is the number of packed rotation parameters of n orbitals.
func NumPairs(n int) int {
	return n * (n - 1) / 2
}

// Pairs lists the packed index pairs (p, q) with p < q, in the order
// used by Pack and Unpack.
func Pairs(n int) [][2]int {
	ps := make([][2]int, 0, NumPairs(n))
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			ps = append(ps, [2]int{p, q})
		}
	}
	return ps
}

// Pack extracts the upper triangle of an antisymmetric matrix.
func Pack(k *mat.Dense) []float64 {
	n, c := k.Dims()
	if n != c {
		panic(errors.Errorf("%d %d", n, c))
	}
	x := make([]float64, 0, NumPairs(n))
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			x = append(x, k.At(p, q))
		}
	}
	return x
}

// Unpack builds the antisymmetric matrix of packed parameters.
func Unpack(x []float64, n int) *mat.Dense {
	if len(x) != NumPairs(n) {
		panic(errors.Errorf("%d %d", len(x), n))
	}
	k := mat.NewDense(n, n, nil)
	i := 0
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			k.Set(p, q, x[i])
			k.Set(q, p, -x[i])
			i++
		}
	}
	return k
}

// Expm is the matrix exponential by scaling and squaring of a Taylor
// series. For antisymmetric input the result is orthogonal.
func Expm(k *mat.Dense) *mat.Dense {
	n, c := k.Dims()
	if n != c {
		panic(errors.Errorf("%d %d", n, c))
	}
	norm := mat.Norm(k, 1)
	squarings := 0
	if norm > 0.5 {
		squarings = int(math.Ceil(math.Log2(norm/0.5))) + 1
	}
	scaled := mat.NewDense(n, n, nil)
	scaled.Scale(1/math.Pow(2, float64(squarings)), k)

	u := eye(n)
	term := eye(n)
	tmp := mat.NewDense(n, n, nil)
	for i := 1; i <= 24; i++ {
		tmp.Mul(term, scaled)
		term.Scale(1/float64(i), tmp)
		u.Add(u, term)
		if mat.Norm(term, 1) < 1e-16 {
			break
		}
	}
	for i := 0; i < squarings; i++ {
		tmp.Mul(u, u)
		u.CloneFrom(tmp)
	}
	return u
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// fock is the generalized Fock matrix F_mp = (hγ)_mp + Σ_qrs
// v_mqrs Γ_pqrs, with γ the spin-summed 1-RDM and Γ the spin-summed
// 2-RDM in chemists' notation.
func fock(ic *ints.InCoreInts, gamma *mat.Dense, gamma2 *ints.FourIndex) *mat.Dense {
	n := ic.NOrb()
	f := mat.NewDense(n, n, nil)
	f.Mul(ic.H1, gamma)
	for m := 0; m < n; m++ {
		for p := 0; p < n; p++ {
			var w float64
			for q := 0; q < n; q++ {
				for r := 0; r < n; r++ {
					for s := 0; s < n; s++ {
						w += ic.V.At(m, q, r, s) * gamma2.At(p, q, r, s)
					}
				}
			}
			f.Set(m, p, f.At(m, p)+w)
		}
	}
	return f
}

// Gradient is the packed energy gradient with respect to the rotation
// parameters at U = I, g_pq = 2(F_pq - F_qp).
func Gradient(ic *ints.InCoreInts, gamma *mat.Dense, gamma2 *ints.FourIndex) []float64 {
	n := ic.NOrb()
	f := fock(ic, gamma, gamma2)
	g := make([]float64, 0, NumPairs(n))
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			g = append(g, 2*(f.At(p, q)-f.At(q, p)))
		}
	}
	return g
}

// pairMatrix is the antisymmetric unit direction of pair (p, q).
func pairMatrix(n, p, q int) *mat.Dense {
	k := mat.NewDense(n, n, nil)
	k.Set(p, q, 1)
	k.Set(q, p, -1)
	return k
}

// Hessian is the packed energy Hessian at U = I. Second derivatives of
// the transformed integrals are assembled from one-index transforms
// along the rotation directions.
func Hessian(ic *ints.InCoreInts, gamma *mat.Dense, gamma2 *ints.FourIndex) *mat.SymDense {
	n := ic.NOrb()
	pairs := Pairs(n)
	np := len(pairs)

	ks := make([]*mat.Dense, np)
	vk := make([][4]*ints.FourIndex, np)
	for i, pq := range pairs {
		ks[i] = pairMatrix(n, pq[0], pq[1])
		for axis := 0; axis < 4; axis++ {
			vk[i][axis] = ic.V.OneIndex(ks[i], axis)
		}
	}

	hess := mat.NewSymDense(np, nil)
	a := mat.NewDense(n, n, nil)
	tmp := mat.NewDense(n, n, nil)
	d2h := mat.NewDense(n, n, nil)
	for k := 0; k < np; k++ {
		for l := k; l < np; l++ {
			// A = (K_k K_l + K_l K_k) / 2.
			tmp.Mul(ks[k], ks[l])
			a.Mul(ks[l], ks[k])
			a.Add(a, tmp)
			a.Scale(0.5, a)

			// d²h' = hA + Ah - K_k h K_l - K_l h K_k.
			d2h.Mul(ic.H1, a)
			tmp.Mul(a, ic.H1)
			d2h.Add(d2h, tmp)
			tmp.Mul(ks[k], ic.H1)
			tmp.Mul(tmp, ks[l])
			d2h.Sub(d2h, tmp)
			tmp.Mul(ks[l], ic.H1)
			tmp.Mul(tmp, ks[k])
			d2h.Sub(d2h, tmp)

			var e2 float64
			for p := 0; p < n; p++ {
				for q := 0; q < n; q++ {
					e2 += d2h.At(p, q) * gamma.At(p, q)
				}
			}

			// d²v' sums same-axis transforms by A and cross-axis
			// transforms by K_k then K_l.
			var v2 float64
			for axis := 0; axis < 4; axis++ {
				v2 += ic.V.OneIndex(a, axis).Dot(gamma2)
			}
			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					if i == j {
						continue
					}
					v2 += vk[k][i].OneIndex(ks[l], j).Dot(gamma2)
				}
			}
			hess.SetSym(k, l, e2+0.5*v2)
		}
	}
	return hess
}

// Solve solves a x = b by LU decomposition, falling back to the
// pseudoinverse when the system is singular.
func Solve(a *mat.SymDense, b []float64) ([]float64, error) {
	n := len(b)
	r, c := a.Dims()
	if r != n || c != n {
		panic(errors.Errorf("%d %d %d", r, c, n))
	}
	var lu mat.LU
	lu.Factorize(a)
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, mat.NewVecDense(n, b)); err == nil {
		return x.RawVector().Data, nil
	}
	pinv, err := Pinv(a)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	var y mat.VecDense
	y.MulVec(pinv, mat.NewVecDense(n, b))
	return y.RawVector().Data, nil
}

// Pinv is the Moore-Penrose pseudoinverse by singular value
// decomposition, truncating singular values below 1e-12 of the largest.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.Errorf("svd failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	smax := 0.0
	for _, si := range s {
		if si > smax {
			smax = si
		}
	}
	for i, si := range s {
		if si > 1e-12*smax {
			s[i] = 1 / si
		} else {
			s[i] = 0
		}
	}
	_, k := u.Dims()
	sinv := mat.NewDense(k, k, nil)
	for i := 0; i < k && i < len(s); i++ {
		sinv.Set(i, i, s[i])
	}
	var pinv mat.Dense
	pinv.Product(&v, sinv, u.T())
	return &pinv, nil
}

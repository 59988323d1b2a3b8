// Package rdm holds spin-blocked one- and two-particle reduced density
// matrices.
//
// Conventions, with all indices in chemists' pairing:
//
//	RDM1 A[pq]     = <a†_pα a_qα>
//	RDM2 AA[pqrs]  = <a†_pα a†_rα a_sα a_qα>
//	RDM2 AB[pqrs]  = <a†_pα a†_rβ a_sβ a_qα>
//
// so that the two-body energy is
// ½ Σ (pq|rs)(AA+BB)[pqrs] + Σ (pq|rs) AB[pqrs].
package rdm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
)

type RDM1 struct {
	A, B *mat.Dense
}

type RDM2 struct {
	AA, BB, AB *ints.FourIndex
}

func NewRDM1(n int) *RDM1 {
	return &RDM1{A: mat.NewDense(n, n, nil), B: mat.NewDense(n, n, nil)}
}

func NewRDM2(n int) *RDM2 {
	return &RDM2{AA: ints.NewFourIndex(n), BB: ints.NewFourIndex(n), AB: ints.NewFourIndex(n)}
}

func (d *RDM1) N() int {
	n, _ := d.A.Dims()
	return n
}

func (d *RDM1) Clone() *RDM1 {
	return &RDM1{A: mat.DenseCopyOf(d.A), B: mat.DenseCopyOf(d.B)}
}

func (d *RDM2) Clone() *RDM2 {
	return &RDM2{AA: d.AA.Clone(), BB: d.BB.Clone(), AB: d.AB.Clone()}
}

// SpinSummed returns A+B.
func (d *RDM1) SpinSummed() *mat.Dense {
	s := mat.DenseCopyOf(d.A)
	s.Add(s, d.B)
	return s
}

// Rotate conjugates both spin blocks by u, d' = u^T d u.
func (d *RDM1) Rotate(u *mat.Dense) *RDM1 {
	n := d.N()
	r := NewRDM1(n)
	r.A.Mul(u.T(), d.A)
	r.A.Mul(r.A, u)
	r.B.Mul(u.T(), d.B)
	r.B.Mul(r.B, u)
	return r
}

// SpinAverage symmetrizes the spin blocks in place: the alpha and beta
// one-body blocks are averaged into each other, likewise the same-spin
// two-body blocks, and the opposite-spin block is symmetrized against
// its bra-ket transpose. The operation is idempotent.
func SpinAverage(d1 *RDM1, d2 *RDM2) {
	n := d1.N()
	avg := mat.NewDense(n, n, nil)
	avg.Add(d1.A, d1.B)
	avg.Scale(0.5, avg)
	d1.A.CloneFrom(avg)
	d1.B.CloneFrom(avg)
	if d2 == nil {
		return
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					ss := 0.5 * (d2.AA.At(p, q, r, s) + d2.BB.At(p, q, r, s))
					d2.AA.Set(p, q, r, s, ss)
					d2.BB.Set(p, q, r, s, ss)
				}
			}
		}
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := p; r < n; r++ {
				for s := 0; s < n; s++ {
					if r == p && s < q {
						continue
					}
					os := 0.5 * (d2.AB.At(p, q, r, s) + d2.AB.At(r, s, p, q))
					d2.AB.Set(p, q, r, s, os)
					d2.AB.Set(r, s, p, q, os)
				}
			}
		}
	}
}

// Wick builds the mean-field two-particle density of a one-particle
// density: direct minus same-spin exchange, no exchange across spins.
func Wick(d *RDM1) *RDM2 {
	n := d.N()
	g := NewRDM2(n)
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					g.AA.Set(p, q, r, s, d.A.At(p, q)*d.A.At(r, s)-d.A.At(p, s)*d.A.At(r, q))
					g.BB.Set(p, q, r, s, d.B.At(p, q)*d.B.At(r, s)-d.B.At(p, s)*d.B.At(r, q))
					g.AB.Set(p, q, r, s, d.A.At(p, q)*d.B.At(r, s))
				}
			}
		}
	}
	return g
}

// SpinSummed returns the spin-free two-particle density
// Γ[pqrs] = AA + BB + AB + AB^T, where the transpose swaps the two
// electron pairs. Γ carries the permutation symmetries of a genuine
// spin-free density.
func (d *RDM2) SpinSummed() *ints.FourIndex {
	n := d.AA.N()
	g := ints.NewFourIndex(n)
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					g.Set(p, q, r, s, d.AA.At(p, q, r, s)+d.BB.At(p, q, r, s)+
						d.AB.At(p, q, r, s)+d.AB.At(r, s, p, q))
				}
			}
		}
	}
	return g
}

// Assemble1 places each cluster's one-particle block on the diagonal of
// a full-system density. Off-diagonal blocks are zero.
func Assemble1(n int, orbLists [][]int, blocks []*RDM1) *RDM1 {
	if len(orbLists) != len(blocks) {
		panic(fmt.Sprintf("%d %d", len(orbLists), len(blocks)))
	}
	full := NewRDM1(n)
	for ci, orbs := range orbLists {
		b := blocks[ci]
		for i, p := range orbs {
			for j, q := range orbs {
				full.A.Set(p, q, b.A.At(i, j))
				full.B.Set(p, q, b.B.At(i, j))
			}
		}
	}
	return full
}

// Assemble2 builds the full-system two-particle density: inter-cluster
// blocks come from the mean-field factorization of the assembled
// one-particle density, intra-cluster blocks are overwritten with the
// clusters' solved densities.
func Assemble2(full1 *RDM1, orbLists [][]int, blocks []*RDM2) *RDM2 {
	full := Wick(full1)
	for ci, orbs := range orbLists {
		b := blocks[ci]
		for i, p := range orbs {
			for j, q := range orbs {
				for k, r := range orbs {
					for l, s := range orbs {
						full.AA.Set(p, q, r, s, b.AA.At(i, j, k, l))
						full.BB.Set(p, q, r, s, b.BB.At(i, j, k, l))
						full.AB.Set(p, q, r, s, b.AB.At(i, j, k, l))
					}
				}
			}
		}
	}
	return full
}

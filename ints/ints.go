// Package ints holds in-core electron integrals.
//
// Two-electron integrals are stored in chemists' notation, that is
// V.At(p, q, r, s) is the repulsion integral (pq|rs). Inputs are assumed
// to carry the full 8-fold permutation symmetry of real integrals.
package ints

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FourIndex is a dense rank-4 tensor over a single orbital index range.
type FourIndex struct {
	n    int
	data []float64
}

func NewFourIndex(n int) *FourIndex {
	return &FourIndex{n: n, data: make([]float64, n*n*n*n)}
}

func (v *FourIndex) N() int { return v.n }

func (v *FourIndex) At(p, q, r, s int) float64 {
	return v.data[((p*v.n+q)*v.n+r)*v.n+s]
}

func (v *FourIndex) Set(p, q, r, s int, x float64) {
	v.data[((p*v.n+q)*v.n+r)*v.n+s] = x
}

func (v *FourIndex) Add(p, q, r, s int, x float64) {
	v.data[((p*v.n+q)*v.n+r)*v.n+s] += x
}

func (v *FourIndex) Clone() *FourIndex {
	c := NewFourIndex(v.n)
	copy(c.data, v.data)
	return c
}

// Dot is the full contraction sum_pqrs a[pqrs]*b[pqrs].
func (a *FourIndex) Dot(b *FourIndex) float64 {
	if a.n != b.n {
		panic(fmt.Sprintf("%d %d", a.n, b.n))
	}
	var d float64
	for i, x := range a.data {
		d += x * b.data[i]
	}
	return d
}

// OneIndex transforms a single axis, result[..p..] = sum_a X[a, p] v[..a..].
// Applying it to all four axes with a unitary performs a basis change.
func (v *FourIndex) OneIndex(x mat.Matrix, axis int) *FourIndex {
	r, c := x.Dims()
	if r != v.n || c != v.n {
		panic(fmt.Sprintf("%d %d %d", r, c, v.n))
	}
	w := NewFourIndex(v.n)
	n := v.n
	stride := 1
	for i := 3; i > axis; i-- {
		stride *= n
	}
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= n
	}
	inner := stride
	block := n * stride
	for o := 0; o < outer; o++ {
		for p := 0; p < n; p++ {
			for a := 0; a < n; a++ {
				xap := x.At(a, p)
				if xap == 0 {
					continue
				}
				src := o*block + a*inner
				dst := o*block + p*inner
				for k := 0; k < inner; k++ {
					w.data[dst+k] += xap * v.data[src+k]
				}
			}
		}
	}
	return w
}

// InCoreInts bundles the core energy with one- and two-body integrals.
type InCoreInts struct {
	H0 float64
	H1 *mat.Dense
	V  *FourIndex
}

func New(n int) *InCoreInts {
	return &InCoreInts{H1: mat.NewDense(n, n, nil), V: NewFourIndex(n)}
}

func (a *InCoreInts) NOrb() int {
	n, _ := a.H1.Dims()
	return n
}

func (a *InCoreInts) Clone() *InCoreInts {
	return &InCoreInts{H0: a.H0, H1: mat.DenseCopyOf(a.H1), V: a.V.Clone()}
}

// Subset restricts the integrals to the given orbital list.
func (a *InCoreInts) Subset(orbs []int) *InCoreInts {
	nc := len(orbs)
	s := New(nc)
	s.H0 = a.H0
	for i, p := range orbs {
		for j, q := range orbs {
			s.H1.Set(i, j, a.H1.At(p, q))
		}
	}
	for i, p := range orbs {
		for j, q := range orbs {
			for k, r := range orbs {
				for l, t := range orbs {
					s.V.Set(i, j, k, l, a.V.At(p, q, r, t))
				}
			}
		}
	}
	return s
}

// Embedded are cluster integrals dressed by the mean field of the
// cluster's complement. The one-body term is spin-dependent because the
// exchange dressing follows the spin of the embedded electron.
type Embedded struct {
	Ha, Hb *mat.Dense
	V      *FourIndex
}

func (e *Embedded) NOrb() int {
	n, _ := e.Ha.Dims()
	return n
}

// SubsetDressed builds the embedded integrals of a cluster. envDa and
// envDb are full-system spin densities that must be zero on the
// cluster's own block, so the dressing only feels the complement.
//
//	ha[ij] = h[ij] + sum_rs (ij|rs) (Da+Db)[rs] - sum_rs (is|rj) Da[rs]
func (a *InCoreInts) SubsetDressed(orbs []int, envDa, envDb *mat.Dense) *Embedded {
	n := a.NOrb()
	nc := len(orbs)
	e := &Embedded{Ha: mat.NewDense(nc, nc, nil), Hb: mat.NewDense(nc, nc, nil)}
	for i, p := range orbs {
		for j, q := range orbs {
			ha := a.H1.At(p, q)
			hb := ha
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					dsum := envDa.At(r, s) + envDb.At(r, s)
					if dsum != 0 {
						ha += a.V.At(p, q, r, s) * dsum
						hb += a.V.At(p, q, r, s) * dsum
					}
					if da := envDa.At(r, s); da != 0 {
						ha -= a.V.At(p, s, r, q) * da
					}
					if db := envDb.At(r, s); db != 0 {
						hb -= a.V.At(p, s, r, q) * db
					}
				}
			}
			e.Ha.Set(i, j, ha)
			e.Hb.Set(i, j, hb)
		}
	}
	e.V = a.Subset(orbs).V
	return e
}

// Rotate conjugates the integrals by the unitary u, returning a fresh
// copy. The convention is h' = u^T h u.
func (a *InCoreInts) Rotate(u *mat.Dense) *InCoreInts {
	n := a.NOrb()
	r, c := u.Dims()
	if r != n || c != n {
		panic(fmt.Sprintf("%d %d %d", r, c, n))
	}
	b := &InCoreInts{H0: a.H0, H1: mat.NewDense(n, n, nil)}
	b.H1.Mul(u.T(), a.H1)
	b.H1.Mul(b.H1, u)
	v := a.V
	for axis := 0; axis < 4; axis++ {
		v = v.OneIndex(u, axis)
	}
	b.V = v
	return b
}

// Hubbard builds the integrals of an open Hubbard chain of l sites with
// hopping t and on-site repulsion u.
func Hubbard(l int, t, u float64) *InCoreInts {
	a := New(l)
	for i := 0; i+1 < l; i++ {
		a.H1.Set(i, i+1, -t)
		a.H1.Set(i+1, i, -t)
	}
	for i := 0; i < l; i++ {
		a.V.Set(i, i, i, i, u)
	}
	return a
}

package fci

import (
	"math/bits"

	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/rdm"
)

// det is a determinant as alpha and beta occupation masks over the
// cluster orbitals. The mode ordering places all alpha modes before all
// beta modes, which fixes the fermionic sign convention below.
type det struct {
	a, b uint32
}

// state is a determinant with an accumulated fermionic sign, threaded
// through sequences of ladder operators.
type state struct {
	d    det
	sign float64
}

func (s state) annA(p int) (state, bool) {
	m := uint32(1) << p
	if s.d.a&m == 0 {
		return state{}, false
	}
	if bits.OnesCount32(s.d.a&(m-1))%2 == 1 {
		s.sign = -s.sign
	}
	s.d.a &^= m
	return s, true
}

func (s state) creA(p int) (state, bool) {
	m := uint32(1) << p
	if s.d.a&m != 0 {
		return state{}, false
	}
	if bits.OnesCount32(s.d.a&(m-1))%2 == 1 {
		s.sign = -s.sign
	}
	s.d.a |= m
	return s, true
}

func (s state) annB(p int) (state, bool) {
	m := uint32(1) << p
	if s.d.b&m == 0 {
		return state{}, false
	}
	if (bits.OnesCount32(s.d.a)+bits.OnesCount32(s.d.b&(m-1)))%2 == 1 {
		s.sign = -s.sign
	}
	s.d.b &^= m
	return s, true
}

func (s state) creB(p int) (state, bool) {
	m := uint32(1) << p
	if s.d.b&m != 0 {
		return state{}, false
	}
	if (bits.OnesCount32(s.d.a)+bits.OnesCount32(s.d.b&(m-1)))%2 == 1 {
		s.sign = -s.sign
	}
	s.d.b |= m
	return s, true
}

// combinations lists all k-subsets of n orbitals as masks, in ascending
// mask order.
func combinations(n, k int) []uint32 {
	if k < 0 || k > n {
		return nil
	}
	masks := make([]uint32, 0)
	for m := uint32(0); m < 1<<n; m++ {
		if bits.OnesCount32(m) == k {
			masks = append(masks, m)
		}
	}
	return masks
}

// basisSet enumerates the determinant basis of a sector, applying the
// restricted-space occupation caps when spaces is non-nil.
func basisSet(no, na, nb int, spaces *Spaces) ([]det, map[det]int) {
	alphas := combinations(no, na)
	betas := combinations(no, nb)
	basis := make([]det, 0, len(alphas)*len(betas))
	index := make(map[det]int)
	for _, a := range alphas {
		for _, b := range betas {
			d := det{a: a, b: b}
			if spaces != nil && !spaces.allows(d) {
				continue
			}
			index[d] = len(basis)
			basis = append(basis, d)
		}
	}
	return basis, index
}

func (sp *Spaces) allows(d det) bool {
	if len(sp.Sub) != 3 {
		return true
	}
	mask := func(orbs []int) uint32 {
		var m uint32
		for _, p := range orbs {
			m |= 1 << p
		}
		return m
	}
	ras1, ras3 := mask(sp.Sub[0]), mask(sp.Sub[2])
	holes := 2*len(sp.Sub[0]) - bits.OnesCount32(d.a&ras1) - bits.OnesCount32(d.b&ras1)
	particles := bits.OnesCount32(d.a&ras3) + bits.OnesCount32(d.b&ras3)
	return holes <= sp.MaxHoles && particles <= sp.MaxParticles
}

// occupied lists the set bits of a mask.
func occupied(m uint32, buf []int) []int {
	buf = buf[:0]
	for m != 0 {
		p := bits.TrailingZeros32(m)
		buf = append(buf, p)
		m &^= 1 << p
	}
	return buf
}

// hamiltonian builds the dense sector Hamiltonian by applying the
// second-quantized one- and two-body terms to every basis determinant.
// Excitations that leave the restricted basis are projected out.
func hamiltonian(e *ints.Embedded, basis []det, index map[det]int) []float64 {
	no := e.NOrb()
	dim := len(basis)
	h := make([]float64, dim*dim)
	occA := make([]int, 0, no)
	occB := make([]int, 0, no)

	add := func(s state, col int, amp float64) {
		if amp == 0 {
			return
		}
		row, ok := index[s.d]
		if !ok {
			return
		}
		h[row*dim+col] += s.sign * amp
	}

	for col, d := range basis {
		occA = occupied(d.a, occA)
		occB = occupied(d.b, occB)

		// One-body terms.
		for _, q := range occA {
			for p := 0; p < no; p++ {
				s, ok := state{d: d, sign: 1}.annA(q)
				if !ok {
					continue
				}
				s, ok = s.creA(p)
				if !ok {
					continue
				}
				add(s, col, e.Ha.At(p, q))
			}
		}
		for _, q := range occB {
			for p := 0; p < no; p++ {
				s, ok := state{d: d, sign: 1}.annB(q)
				if !ok {
					continue
				}
				s, ok = s.creB(p)
				if !ok {
					continue
				}
				add(s, col, e.Hb.At(p, q))
			}
		}

		// Two-body terms, ½ Σ v_pqrs a†_pσ a†_rτ a_sτ a_qσ.
		for _, q := range occA {
			s0, _ := state{d: d, sign: 1}.annA(q)
			for s1i := 0; s1i < no; s1i++ {
				// σ=α, τ=α.
				if sa, ok := s0.annA(s1i); ok {
					for r := 0; r < no; r++ {
						if sb, ok := sa.creA(r); ok {
							for p := 0; p < no; p++ {
								if sc, ok := sb.creA(p); ok {
									add(sc, col, 0.5*e.V.At(p, q, r, s1i))
								}
							}
						}
					}
				}
				// σ=α, τ=β.
				if sa, ok := s0.annB(s1i); ok {
					for r := 0; r < no; r++ {
						if sb, ok := sa.creB(r); ok {
							for p := 0; p < no; p++ {
								if sc, ok := sb.creA(p); ok {
									add(sc, col, 0.5*e.V.At(p, q, r, s1i))
								}
							}
						}
					}
				}
			}
		}
		for _, q := range occB {
			s0, _ := state{d: d, sign: 1}.annB(q)
			for s1i := 0; s1i < no; s1i++ {
				// σ=β, τ=β.
				if sa, ok := s0.annB(s1i); ok {
					for r := 0; r < no; r++ {
						if sb, ok := sa.creB(r); ok {
							for p := 0; p < no; p++ {
								if sc, ok := sb.creB(p); ok {
									add(sc, col, 0.5*e.V.At(p, q, r, s1i))
								}
							}
						}
					}
				}
				// σ=β, τ=α.
				if sa, ok := s0.annA(s1i); ok {
					for r := 0; r < no; r++ {
						if sb, ok := sa.creA(r); ok {
							for p := 0; p < no; p++ {
								if sc, ok := sb.creB(p); ok {
									add(sc, col, 0.5*e.V.At(p, q, r, s1i))
								}
							}
						}
					}
				}
			}
		}
	}
	return h
}

// densities extracts the spin-blocked one- and two-particle densities of
// a normalized CI vector.
func densities(no int, basis []det, index map[det]int, c []float64) (*rdm.RDM1, *rdm.RDM2) {
	d1 := rdm.NewRDM1(no)
	d2 := rdm.NewRDM2(no)

	expect := func(m *mat.Dense, p, q int, apply func(state, int, int) (state, bool)) {
		var v float64
		for col, d := range basis {
			if c[col] == 0 {
				continue
			}
			s, ok := apply(state{d: d, sign: 1}, p, q)
			if !ok {
				continue
			}
			row, ok := index[s.d]
			if !ok {
				continue
			}
			v += c[row] * c[col] * s.sign
		}
		m.Set(p, q, v)
	}
	oneA := func(s state, p, q int) (state, bool) {
		s, ok := s.annA(q)
		if !ok {
			return state{}, false
		}
		return s.creA(p)
	}
	oneB := func(s state, p, q int) (state, bool) {
		s, ok := s.annB(q)
		if !ok {
			return state{}, false
		}
		return s.creB(p)
	}
	for p := 0; p < no; p++ {
		for q := 0; q < no; q++ {
			expect(d1.A, p, q, oneA)
			expect(d1.B, p, q, oneB)
		}
	}

	// Two-body blocks: <a†_pσ a†_rτ a_sτ a_qσ>.
	for p := 0; p < no; p++ {
		for q := 0; q < no; q++ {
			for r := 0; r < no; r++ {
				for si := 0; si < no; si++ {
					var aa, bb, ab float64
					for col, d := range basis {
						if c[col] == 0 {
							continue
						}
						if s, ok := two(state{d: d, sign: 1}, p, q, r, si, true, true); ok {
							if row, ok := index[s.d]; ok {
								aa += c[row] * c[col] * s.sign
							}
						}
						if s, ok := two(state{d: d, sign: 1}, p, q, r, si, false, false); ok {
							if row, ok := index[s.d]; ok {
								bb += c[row] * c[col] * s.sign
							}
						}
						if s, ok := two(state{d: d, sign: 1}, p, q, r, si, true, false); ok {
							if row, ok := index[s.d]; ok {
								ab += c[row] * c[col] * s.sign
							}
						}
					}
					d2.AA.Set(p, q, r, si, aa)
					d2.BB.Set(p, q, r, si, bb)
					d2.AB.Set(p, q, r, si, ab)
				}
			}
		}
	}
	return d1, d2
}

// two applies a†_pσ a†_rτ a_sτ a_qσ right to left. sigmaA/tauA select
// alpha (true) or beta (false) for the outer and inner spins.
func two(s state, p, q, r, si int, sigmaA, tauA bool) (state, bool) {
	ann := func(s state, i int, alpha bool) (state, bool) {
		if alpha {
			return s.annA(i)
		}
		return s.annB(i)
	}
	cre := func(s state, i int, alpha bool) (state, bool) {
		if alpha {
			return s.creA(i)
		}
		return s.creB(i)
	}
	s, ok := ann(s, q, sigmaA)
	if !ok {
		return state{}, false
	}
	s, ok = ann(s, si, tauA)
	if !ok {
		return state{}, false
	}
	s, ok = cre(s, r, tauA)
	if !ok {
		return state{}, false
	}
	return cre(s, p, sigmaA)
}

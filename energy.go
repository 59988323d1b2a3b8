package clustermf

import (
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/ints"
	"github.com/nbraunsc/clustermf/rdm"
)

// contract is the one- and two-body energy of spin-blocked densities
// against spin-dependent one-body integrals, excluding any scalar core
// term.
func contract(ha, hb *mat.Dense, v *ints.FourIndex, d1 *rdm.RDM1, d2 *rdm.RDM2) float64 {
	n := d1.N()
	var e float64
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			e += ha.At(p, q)*d1.A.At(p, q) + hb.At(p, q)*d1.B.At(p, q)
		}
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					vp := v.At(p, q, r, s)
					e += 0.5*vp*(d2.AA.At(p, q, r, s)+d2.BB.At(p, q, r, s)) + vp*d2.AB.At(p, q, r, s)
				}
			}
		}
	}
	return e
}

// Energy is the total energy of full-system densities, core term
// included.
func Energy(ic *ints.InCoreInts, d1 *rdm.RDM1, d2 *rdm.RDM2) float64 {
	return ic.H0 + contract(ic.H1, ic.H1, ic.V, d1, d2)
}

// EmbeddedEnergy is the cluster-local energy of local densities against
// dressed integrals, excluding the core term.
func EmbeddedEnergy(e *ints.Embedded, d1 *rdm.RDM1, d2 *rdm.RDM2) float64 {
	return contract(e.Ha, e.Hb, e.V, d1, d2)
}

// PairEnergy is the mean-field interaction energy of two clusters:
// the Coulomb contraction of their one-particle densities minus the
// same-spin exchange. Opposite spins carry no exchange.
func PairEnergy(ic *ints.InCoreInts, ci, cj Cluster, di, dj *rdm.RDM1) float64 {
	ni, nj := len(ci.Orbitals), len(cj.Orbitals)
	var direct, exch float64
	for p := 0; p < ni; p++ {
		for q := 0; q < ni; q++ {
			gp, gq := ci.Orbitals[p], ci.Orbitals[q]
			ti := di.A.At(p, q) + di.B.At(p, q)
			for r := 0; r < nj; r++ {
				for s := 0; s < nj; s++ {
					gr, gs := cj.Orbitals[r], cj.Orbitals[s]
					direct += ic.V.At(gp, gq, gr, gs) * ti * (dj.A.At(r, s) + dj.B.At(r, s))
					exch += ic.V.At(gp, gs, gr, gq) *
						(di.A.At(p, q)*dj.A.At(r, s) + di.B.At(p, q)*dj.B.At(r, s))
				}
			}
		}
	}
	return direct - exch
}

// EnergyClusters assembles the total energy from per-cluster local
// densities: the core term, each cluster's bare intra-cluster energy,
// and the mean-field interaction of every unordered cluster pair.
func EnergyClusters(ic *ints.InCoreInts, clusters []Cluster, blocks1 []*rdm.RDM1, blocks2 []*rdm.RDM2) float64 {
	e := ic.H0
	for i, c := range clusters {
		loc := ic.Subset(c.Orbitals)
		e += contract(loc.H1, loc.H1, loc.V, blocks1[i], blocks2[i])
	}
	for i := range clusters {
		for j := i + 1; j < len(clusters); j++ {
			e += PairEnergy(ic, clusters[i], clusters[j], blocks1[i], blocks1[j])
		}
	}
	return e
}

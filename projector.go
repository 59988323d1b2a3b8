package clustermf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/orb"
)

// Projector is the selection matrix onto the orbital rotation
// directions that can change the energy. Its columns are the columns of
// the identity over the packed pair space, restricted to the kept
// directions.
//
// A pair is dropped when some cluster's ansatz declares it invariant,
// or when it connects a frozen doubly-occupied sub-space of one cluster
// to a frozen empty sub-space of another: those blocks cannot exchange
// particles under the restrictions, so the rotation is energy blind.
func Projector(n int, clusters []Cluster, ansatze []Ansatz) (*mat.Dense, error) {
	if err := validate(n, clusters, ansatze); err != nil {
		return nil, err
	}
	invariant := make(map[[2]int]bool)
	mark := func(p, q int) {
		if p > q {
			p, q = q, p
		}
		invariant[[2]int{p, q}] = true
	}
	for i, c := range clusters {
		for _, pq := range ansatze[i].InvariantPairs(len(c.Orbitals)) {
			mark(c.Orbitals[pq[0]], c.Orbitals[pq[1]])
		}
	}
	for i, ci := range clusters {
		si := ansatze[i].Spaces(len(ci.Orbitals))
		if si == nil || len(si.Sub) != 3 || si.MaxHoles != 0 {
			continue
		}
		for j, cj := range clusters {
			if j == i {
				continue
			}
			sj := ansatze[j].Spaces(len(cj.Orbitals))
			if sj == nil || len(sj.Sub) != 3 || sj.MaxParticles != 0 {
				continue
			}
			for _, p := range si.Sub[0] {
				for _, q := range sj.Sub[2] {
					mark(ci.Orbitals[p], cj.Orbitals[q])
				}
			}
		}
	}

	pairs := orb.Pairs(n)
	kept := make([]int, 0, len(pairs))
	for k, pq := range pairs {
		if !invariant[pq] {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		return nil, errors.Errorf("no independent rotation directions among %d pairs", len(pairs))
	}
	proj := mat.NewDense(len(pairs), len(kept), nil)
	for col, k := range kept {
		proj.Set(k, col, 1)
	}
	return proj, nil
}

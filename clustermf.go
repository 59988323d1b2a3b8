// Package clustermf performs cluster mean-field optimizations of
// electronic systems.
//
// The wavefunction is a tensor product of cluster ground states. Each
// cluster is solved in a mean-field embedding built from the densities
// of the other clusters, iterated to a self-consistent density, while
// an outer loop rotates the global orbital basis to minimize the total
// energy. See Jimenez-Hoyos and Scuseria, Cluster-based mean-field and
// perturbative description of strongly correlated fermion systems,
// Phys. Rev. B 92, 085101 (2015).
package clustermf

import (
	"github.com/pkg/errors"

	"github.com/nbraunsc/clustermf/fci"
)

// Cluster is a fixed subset of the global orbitals treated as one local
// sub-system. Orbital lists of different clusters are disjoint and
// together cover the orbital space.
type Cluster struct {
	Index    int
	Orbitals []int
}

// Sector is the targeted particle-number block of a cluster's local
// Hilbert space.
type Sector struct {
	NAlpha int
	NBeta  int
}

// Ansatz describes the shape of a cluster's local Hilbert space: its
// particle sector, any occupation restrictions, and which local orbital
// rotations leave the cluster energy unchanged.
type Ansatz interface {
	Sector() Sector

	// Dimension is the determinant count of the local sector for a
	// cluster of no orbitals.
	Dimension(no int) int

	// Spaces is the restricted-occupation partition, nil when the full
	// local space is used.
	Spaces(no int) *fci.Spaces

	// InvariantPairs lists the cluster-local orbital pairs (p, q),
	// p < q, whose rotation cannot change the cluster energy.
	InvariantPairs(no int) [][2]int
}

// FCIAnsatz is the unrestricted local space: every determinant of the
// sector participates, so any rotation among the cluster's own orbitals
// is absorbed by the wavefunction.
type FCIAnsatz struct {
	Alpha int
	Beta  int
}

func (a FCIAnsatz) Sector() Sector {
	return Sector{NAlpha: a.Alpha, NBeta: a.Beta}
}

func (a FCIAnsatz) Dimension(no int) int {
	return fci.Dimension(no, a.Alpha, a.Beta, nil)
}

func (a FCIAnsatz) Spaces(no int) *fci.Spaces {
	return nil
}

func (a FCIAnsatz) InvariantPairs(no int) [][2]int {
	pairs := make([][2]int, 0, no*(no-1)/2)
	for p := 0; p < no; p++ {
		for q := p + 1; q < no; q++ {
			pairs = append(pairs, [2]int{p, q})
		}
	}
	return pairs
}

// RASCIAnsatz restricts the local space over a three-way orbital
// partition: at most MaxHoles holes in the first sub-space and at most
// MaxParticles particles in the third. Sub-space orbital indices are
// cluster-local. Only rotations within a sub-space are energy
// invariant.
type RASCIAnsatz struct {
	Alpha        int
	Beta         int
	Sub          [][]int
	MaxHoles     int
	MaxParticles int
}

func (a RASCIAnsatz) Sector() Sector {
	return Sector{NAlpha: a.Alpha, NBeta: a.Beta}
}

func (a RASCIAnsatz) Dimension(no int) int {
	return fci.Dimension(no, a.Alpha, a.Beta, a.Spaces(no))
}

func (a RASCIAnsatz) Spaces(no int) *fci.Spaces {
	return &fci.Spaces{Sub: a.Sub, MaxHoles: a.MaxHoles, MaxParticles: a.MaxParticles}
}

func (a RASCIAnsatz) InvariantPairs(no int) [][2]int {
	var pairs [][2]int
	for _, sub := range a.Sub {
		for i := 0; i < len(sub); i++ {
			for j := i + 1; j < len(sub); j++ {
				p, q := sub[i], sub[j]
				if p > q {
					p, q = q, p
				}
				pairs = append(pairs, [2]int{p, q})
			}
		}
	}
	return pairs
}

// validate checks that the cluster partition is disjoint and covers all
// n orbitals, and that every cluster has an ansatz.
func validate(n int, clusters []Cluster, ansatze []Ansatz) error {
	if len(clusters) != len(ansatze) {
		return errors.Errorf("%d clusters %d ansatze", len(clusters), len(ansatze))
	}
	seen := make(map[int]bool)
	for _, c := range clusters {
		for _, p := range c.Orbitals {
			if p < 0 || p >= n {
				return errors.Errorf("orbital %d out of %d", p, n)
			}
			if seen[p] {
				return errors.Errorf("orbital %d in two clusters", p)
			}
			seen[p] = true
		}
	}
	if len(seen) != n {
		return errors.Errorf("%d orbitals covered of %d", len(seen), n)
	}
	return nil
}

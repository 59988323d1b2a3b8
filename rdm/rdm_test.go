package rdm

import (
	"flag"
	"log"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randRDMs(rng *rand.Rand, n int) (*RDM1, *RDM2) {
	d1 := NewRDM1(n)
	for p := 0; p < n; p++ {
		for q := 0; q <= p; q++ {
			x, y := rng.NormFloat64(), rng.NormFloat64()
			d1.A.Set(p, q, x)
			d1.A.Set(q, p, x)
			d1.B.Set(p, q, y)
			d1.B.Set(q, p, y)
		}
	}
	d2 := NewRDM2(n)
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					d2.AA.Set(p, q, r, s, rng.NormFloat64())
					d2.BB.Set(p, q, r, s, rng.NormFloat64())
					d2.AB.Set(p, q, r, s, rng.NormFloat64())
				}
			}
		}
	}
	return d1, d2
}

func TestSpinAverageIdempotent(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 8))
	const n = 2
	d1, d2 := randRDMs(rng, n)

	SpinAverage(d1, d2)
	once1, once2 := d1.Clone(), d2.Clone()
	SpinAverage(d1, d2)

	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			if d1.A.At(p, q) != d1.B.At(p, q) {
				t.Fatalf("%d %d %f %f", p, q, d1.A.At(p, q), d1.B.At(p, q))
			}
			if math.Abs(d1.A.At(p, q)-once1.A.At(p, q)) > 1e-14 {
				t.Fatalf("%d %d %f %f", p, q, d1.A.At(p, q), once1.A.At(p, q))
			}
		}
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					if d2.AA.At(p, q, r, s) != d2.BB.At(p, q, r, s) {
						t.Fatalf("%d%d%d%d", p, q, r, s)
					}
					if math.Abs(d2.AB.At(p, q, r, s)-d2.AB.At(r, s, p, q)) > 1e-14 {
						t.Fatalf("%d%d%d%d %f %f", p, q, r, s, d2.AB.At(p, q, r, s), d2.AB.At(r, s, p, q))
					}
					if math.Abs(d2.AA.At(p, q, r, s)-once2.AA.At(p, q, r, s)) > 1e-14 {
						t.Fatalf("%d%d%d%d", p, q, r, s)
					}
					if math.Abs(d2.AB.At(p, q, r, s)-once2.AB.At(p, q, r, s)) > 1e-14 {
						t.Fatalf("%d%d%d%d", p, q, r, s)
					}
				}
			}
		}
	}
}

func TestWick(t *testing.T) {
	t.Parallel()
	// Idempotent single determinant density, one alpha electron in
	// orbital 0, one beta in orbital 1.
	const n = 2
	d1 := NewRDM1(n)
	d1.A.Set(0, 0, 1)
	d1.B.Set(1, 1, 1)
	d2 := Wick(d1)

	// Same spin pair densities of a single particle vanish.
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					if d2.AA.At(p, q, r, s) != 0 || d2.BB.At(p, q, r, s) != 0 {
						t.Fatalf("%d%d%d%d %f %f", p, q, r, s, d2.AA.At(p, q, r, s), d2.BB.At(p, q, r, s))
					}
				}
			}
		}
	}
	if d2.AB.At(0, 0, 1, 1) != 1 {
		t.Fatalf("%f", d2.AB.At(0, 0, 1, 1))
	}
	if d2.AB.At(0, 1, 1, 0) != 0 {
		t.Fatalf("%f", d2.AB.At(0, 1, 1, 0))
	}
}

func TestSpinSummed(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(9, 10))
	const n = 2
	_, d2 := randRDMs(rng, n)
	g := d2.SpinSummed()
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					want := d2.AA.At(p, q, r, s) + d2.BB.At(p, q, r, s) +
						d2.AB.At(p, q, r, s) + d2.AB.At(r, s, p, q)
					if math.Abs(g.At(p, q, r, s)-want) > 1e-14 {
						t.Fatalf("%d%d%d%d %f %f", p, q, r, s, g.At(p, q, r, s), want)
					}
				}
			}
		}
	}
}

func TestAssemble(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(11, 12))
	orbLists := [][]int{{0, 1}, {2, 3}}
	blocks1 := make([]*RDM1, 2)
	blocks2 := make([]*RDM2, 2)
	for i := range blocks1 {
		blocks1[i], blocks2[i] = randRDMs(rng, 2)
	}

	full1 := Assemble1(4, orbLists, blocks1)
	for i, orbs := range orbLists {
		for p, gp := range orbs {
			for q, gq := range orbs {
				if full1.A.At(gp, gq) != blocks1[i].A.At(p, q) {
					t.Fatalf("%d %d %d", i, p, q)
				}
			}
		}
	}
	// Off diagonal blocks are zero.
	if full1.A.At(0, 2) != 0 || full1.B.At(1, 3) != 0 {
		t.Fatalf("%f %f", full1.A.At(0, 2), full1.B.At(1, 3))
	}

	full2 := Assemble2(full1, orbLists, blocks2)
	// Intra-cluster blocks carry the solved densities.
	if full2.AA.At(0, 1, 1, 0) != blocks2[0].AA.At(0, 1, 1, 0) {
		t.Fatalf("%f %f", full2.AA.At(0, 1, 1, 0), blocks2[0].AA.At(0, 1, 1, 0))
	}
	if full2.AB.At(2, 3, 3, 2) != blocks2[1].AB.At(0, 1, 1, 0) {
		t.Fatalf("%f %f", full2.AB.At(2, 3, 3, 2), blocks2[1].AB.At(0, 1, 1, 0))
	}
	// Inter-cluster blocks factorize over the one-particle density.
	wick := Wick(full1)
	for _, idx := range [][4]int{{0, 1, 2, 3}, {0, 2, 1, 3}, {1, 0, 3, 2}, {3, 3, 0, 0}} {
		p, q, r, s := idx[0], idx[1], idx[2], idx[3]
		if full2.AA.At(p, q, r, s) != wick.AA.At(p, q, r, s) {
			t.Fatalf("%v %f %f", idx, full2.AA.At(p, q, r, s), wick.AA.At(p, q, r, s))
		}
		if full2.AB.At(p, q, r, s) != wick.AB.At(p, q, r, s) {
			t.Fatalf("%v %f %f", idx, full2.AB.At(p, q, r, s), wick.AB.At(p, q, r, s))
		}
	}

	var tr float64
	for p := 0; p < 4; p++ {
		tr += full1.SpinSummed().At(p, p)
	}
	var trBlocks float64
	for i := range blocks1 {
		trBlocks += mat.Trace(blocks1[i].A) + mat.Trace(blocks1[i].B)
	}
	if math.Abs(tr-trBlocks) > 1e-12 {
		t.Fatalf("%f %f", tr, trBlocks)
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}

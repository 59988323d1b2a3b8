package clustermf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nbraunsc/clustermf/orb"
)

// diis is a bounded subspace of (parameter, error) pairs for direct
// inversion in the iterative subspace. Oldest entries are evicted
// first. See Pulay, Chem. Phys. Lett. 73, 393 (1980).
type diis struct {
	depth int
	xs    [][]float64
	es    [][]float64
}

func newDIIS(depth int) *diis {
	if depth < 2 {
		panic(errors.Errorf("%d", depth))
	}
	return &diis{depth: depth}
}

func (d *diis) push(x, e []float64) {
	d.xs = append(d.xs, append([]float64(nil), x...))
	d.es = append(d.es, append([]float64(nil), e...))
	if len(d.xs) > d.depth {
		d.xs = d.xs[1:]
		d.es = d.es[1:]
	}
}

func (d *diis) size() int {
	return len(d.xs)
}

// extrapolate solves the bordered least-squares system whose
// coefficients sum to one and minimize the extrapolated error, and
// returns the combined parameter and error vectors. The bordered Gram
// matrix is near singular once the subspace is linearly dependent, so
// it is inverted by pseudoinverse.
func (d *diis) extrapolate() ([]float64, []float64, error) {
	m := len(d.xs)
	if m < 2 {
		return nil, nil, errors.Errorf("%d", m)
	}
	b := mat.NewDense(m+1, m+1, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			var dot float64
			for k := range d.es[i] {
				dot += d.es[i][k] * d.es[j][k]
			}
			b.Set(i, j, dot)
		}
		b.Set(i, m, -1)
		b.Set(m, i, -1)
	}
	pinv, err := orb.Pinv(b)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	rhs := mat.NewVecDense(m+1, nil)
	rhs.SetVec(m, -1)
	var c mat.VecDense
	c.MulVec(pinv, rhs)

	nx := len(d.xs[0])
	x := make([]float64, nx)
	e := make([]float64, nx)
	for i := 0; i < m; i++ {
		ci := c.AtVec(i)
		for k := 0; k < nx; k++ {
			x[k] += ci * d.xs[i][k]
			e[k] += ci * d.es[i][k]
		}
	}
	return x, e, nil
}

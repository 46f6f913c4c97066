package interp

import (
	"math"

	"go.ngs.io/forecast-verify/internal/domain"
)

// stencil holds the four reference points surrounding a target point and
// their bilinear weights. Rows come from the latitude span and columns from
// the longitude span, so the same weights serve ascending and descending axes.
//
//	f(t,u) ≈ (1-u)(1-t)f00 + (1-u)t f01 + u(1-t)f10 + ut f11
//
// where t and u are the fractional positions along longitude and latitude.
type stencil struct {
	rows [2]int
	cols [2]int
	w    [2][2]float64
}

func newStencil(y, x span) stencil {
	u, t := y.w, x.w
	return stencil{
		rows: [2]int{y.i0, y.i1},
		cols: [2]int{x.i0, x.i1},
		w: [2][2]float64{
			{(1 - u) * (1 - t), (1 - u) * t},
			{u * (1 - t), u * t},
		},
	}
}

// apply returns the weighted sum of the reference values under the stencil.
// Any corner with non-zero weight that is masked or non-finite makes the
// result invalid; there is no renormalisation over the remaining corners.
func (s stencil) apply(ref *domain.Field2D) (float64, bool) {
	var sum float64
	for a := range s.rows {
		for b := range s.cols {
			w := s.w[a][b]
			v, ok := corner(ref, s.rows[a], s.cols[b], w)
			if !ok {
				return 0, false
			}
			sum += w * v
		}
	}
	return sum, true
}

// corner returns the reference value at (i, j) for use with weight. Corners
// with zero weight do not contribute and never invalidate the result.
func corner(ref *domain.Field2D, i, j int, weight float64) (float64, bool) {
	if weight == 0 {
		return 0, true
	}
	v, ok := ref.At(i, j)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.ngs.io/forecast-verify/internal/domain"
)

// Method selects how reference values are sampled at target points.
type Method string

const (
	// MethodBilinear blends the four surrounding reference points.
	MethodBilinear Method = "bilinear"
	// MethodNearest takes the closest reference point.
	MethodNearest Method = "nearest"
)

// ParseMethod parses an interpolation method name. An empty name selects
// bilinear.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodBilinear:
		return MethodBilinear, nil
	case MethodNearest:
		return MethodNearest, nil
	default:
		return "", fmt.Errorf("unknown interpolation method %q (expected bilinear or nearest)", s)
	}
}

// Config configures a Regridder.
type Config struct {
	Method Method
}

// Regridder resamples reference fields onto target grids. It holds no state
// between calls and is safe for concurrent use.
type Regridder struct {
	method Method
}

// NewRegridder creates a regridder from cfg.
func NewRegridder(cfg Config) (*Regridder, error) {
	m, err := ParseMethod(string(cfg.Method))
	if err != nil {
		return nil, err
	}
	return &Regridder{method: m}, nil
}

// Method returns the configured interpolation method.
func (r *Regridder) Method() Method {
	return r.method
}

// Regrid samples ref at every (lat[i], lon[j]) of the target grid and returns
// a field on that grid. Target longitudes are expressed in the reference
// axis convention before lookup. Points outside the reference grid, and
// points whose contributing reference values are invalid, are marked invalid.
func (r *Regridder) Regrid(ref *domain.Field2D, lat, lon []float64) (*domain.Field2D, error) {
	if ref == nil {
		return nil, &domain.NoReferenceDataError{Cause: errors.New("reference field is nil")}
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reference field: %w", err)
	}
	if ref.ValidCount() == 0 {
		return nil, &domain.NoReferenceDataError{Cause: errors.New("reference field has no valid points")}
	}
	if len(lat) == 0 || len(lon) == 0 {
		return nil, fmt.Errorf("target grid must have at least one latitude and one longitude")
	}

	latIdx := make([]span, len(lat))
	for i, y := range lat {
		latIdx[i] = bracket(ref.Lat, y)
	}
	periodic := isPeriodic(ref.Lon)
	lonIdx := make([]span, len(lon))
	for j, x := range lon {
		x = domain.NormalizeLonForAxis(ref.Lon, x)
		s := bracket(ref.Lon, x)
		if !s.ok && periodic {
			s = wrapBracket(ref.Lon, x)
		}
		lonIdx[j] = s
	}

	out := &domain.Field2D{
		Lat:    lat,
		Lon:    lon,
		Values: make([]float64, len(lat)*len(lon)),
		Valid:  make([]bool, len(lat)*len(lon)),
	}
	for i := range lat {
		for j := range lon {
			k := i*len(lon) + j
			if !latIdx[i].ok || !lonIdx[j].ok {
				out.Values[k] = math.NaN()
				continue
			}
			var v float64
			var ok bool
			switch r.method {
			case MethodNearest:
				v, ok = sampleNearest(ref, latIdx[i], lonIdx[j])
			default:
				v, ok = sampleBilinear(ref, latIdx[i], lonIdx[j])
			}
			if !ok {
				v = math.NaN()
			}
			out.Values[k] = v
			out.Valid[k] = ok
		}
	}
	return out, nil
}

// span locates a coordinate between two axis indices. w is the fractional
// distance from i0 towards i1.
type span struct {
	i0, i1 int
	w      float64
	ok     bool
}

// bracket finds the axis interval containing x. The axis may be ascending or
// descending. Coordinates within a small tolerance of a grid point snap onto it.
func bracket(axis []float64, x float64) span {
	const epsilon = 1e-9
	n := len(axis)
	if n == 1 {
		if math.Abs(x-axis[0]) <= epsilon {
			return span{ok: true}
		}
		return span{}
	}

	asc := axis[1] > axis[0]
	lo, hi := axis[0], axis[n-1]
	if !asc {
		lo, hi = hi, lo
	}
	if x < lo-epsilon || x > hi+epsilon {
		return span{}
	}

	var i int
	if asc {
		i = sort.Search(n, func(k int) bool { return axis[k] > x }) - 1
	} else {
		i = sort.Search(n, func(k int) bool { return axis[k] < x }) - 1
	}
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}

	w := (x - axis[i]) / (axis[i+1] - axis[i])
	switch {
	case w < epsilon:
		w = 0
	case w > 1-epsilon:
		w = 1
	}
	return span{i0: i, i1: i + 1, w: w, ok: true}
}

// isPeriodic reports whether an ascending longitude axis covers the full
// circle, so that the gap between its last and first point is a valid cell.
func isPeriodic(lons []float64) bool {
	n := len(lons)
	if n < 3 || lons[1] <= lons[0] {
		return false
	}
	step := lons[1] - lons[0]
	return math.Abs(lons[n-1]+step-(lons[0]+360)) < step*1e-3
}

// wrapBracket bridges the seam of a periodic longitude axis.
func wrapBracket(lons []float64, x float64) span {
	n := len(lons)
	last, first := lons[n-1], lons[0]+360
	if x < last {
		x += 360
	}
	if x < last || x > first {
		return span{}
	}
	return span{i0: n - 1, i1: 0, w: (x - last) / (first - last), ok: true}
}

func sampleBilinear(ref *domain.Field2D, y, x span) (float64, bool) {
	return newStencil(y, x).apply(ref)
}

func sampleNearest(ref *domain.Field2D, y, x span) (float64, bool) {
	i, j := y.i0, x.i0
	if y.w > 0.5 {
		i = y.i1
	}
	if x.w > 0.5 {
		j = x.i1
	}
	return corner(ref, i, j, 1)
}

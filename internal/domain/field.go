package domain

import (
	"fmt"
	"math"
	"time"
)

// Field2D is a single-timestamp grid of one variable. Values and Valid are
// row-major: index i*len(Lon)+j corresponds to (Lat[i], Lon[j]).
type Field2D struct {
	Lat    []float64
	Lon    []float64
	Values []float64
	Valid  []bool
}

// NewField2D builds a field and checks that its shape is consistent. A nil
// valid mask marks every finite value as valid.
func NewField2D(lat, lon, values []float64, valid []bool) (*Field2D, error) {
	if valid == nil {
		valid = make([]bool, len(values))
		for k, v := range values {
			valid[k] = !math.IsNaN(v) && !math.IsInf(v, 0)
		}
	}
	f := &Field2D{Lat: lat, Lon: lon, Values: values, Valid: valid}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the shape and coordinate invariants of the field.
func (f *Field2D) Validate() error {
	if len(f.Lat) == 0 || len(f.Lon) == 0 {
		return fmt.Errorf("field must have at least one latitude and one longitude")
	}
	n := len(f.Lat) * len(f.Lon)
	if len(f.Values) != n {
		return fmt.Errorf("field has %d values, expected %d (%d x %d)", len(f.Values), n, len(f.Lat), len(f.Lon))
	}
	if len(f.Valid) != n {
		return fmt.Errorf("field mask has %d entries, expected %d", len(f.Valid), n)
	}
	if !StrictlyMonotonic(f.Lat) {
		return fmt.Errorf("latitude coordinates must be strictly monotonic")
	}
	if !StrictlyMonotonic(f.Lon) {
		return fmt.Errorf("longitude coordinates must be strictly monotonic")
	}
	return nil
}

// Shape returns (len(Lat), len(Lon)).
func (f *Field2D) Shape() (int, int) {
	return len(f.Lat), len(f.Lon)
}

// At returns the value at (Lat[i], Lon[j]) and whether it is valid.
func (f *Field2D) At(i, j int) (float64, bool) {
	k := i*len(f.Lon) + j
	return f.Values[k], f.Valid[k]
}

// ValidCount returns the number of valid points.
func (f *Field2D) ValidCount() int {
	n := 0
	for _, ok := range f.Valid {
		if ok {
			n++
		}
	}
	return n
}

// SameGrid reports whether f and g have identical coordinate vectors.
func (f *Field2D) SameGrid(g *Field2D) bool {
	return equalFloats(f.Lat, g.Lat) && equalFloats(f.Lon, g.Lon)
}

// Subset returns the part of f covering r plus one grid cell on every side,
// so that interpolation at the region's edge still has neighbours. When the
// region cannot be expressed on f's longitude axis the whole field is returned.
func (f *Field2D) Subset(r Region) *Field2D {
	i0, i1, ok := indexRange(f.Lat, r.South, r.North)
	if !ok {
		return f
	}
	west := NormalizeLonForAxis(f.Lon, r.West)
	east := NormalizeLonForAxis(f.Lon, r.East)
	if west > east {
		return f
	}
	j0, j1, ok := indexRange(f.Lon, west, east)
	if !ok {
		return f
	}
	if i0 == 0 && j0 == 0 && i1 == len(f.Lat)-1 && j1 == len(f.Lon)-1 {
		return f
	}

	nLat := i1 - i0 + 1
	nLon := j1 - j0 + 1
	out := &Field2D{
		Lat:    append([]float64(nil), f.Lat[i0:i1+1]...),
		Lon:    append([]float64(nil), f.Lon[j0:j1+1]...),
		Values: make([]float64, 0, nLat*nLon),
		Valid:  make([]bool, 0, nLat*nLon),
	}
	for i := i0; i <= i1; i++ {
		row := i * len(f.Lon)
		out.Values = append(out.Values, f.Values[row+j0:row+j1+1]...)
		out.Valid = append(out.Valid, f.Valid[row+j0:row+j1+1]...)
	}
	return out
}

// indexRange returns the inclusive index span of axis covering [lo, hi] with
// one extra index on each side, clamped to the axis.
func indexRange(axis []float64, lo, hi float64) (int, int, bool) {
	first, last := -1, -1
	for k, v := range axis {
		if v >= lo && v <= hi {
			if first < 0 {
				first = k
			}
			last = k
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	if first > 0 {
		first--
	}
	if last < len(axis)-1 {
		last++
	}
	return first, last, true
}

// GriddedField is a time × latitude × longitude field of one variable as read
// from a dataset. Values and Valid are row-major in that order.
type GriddedField struct {
	Name   string
	Unit   string
	Times  []time.Time
	Lat    []float64
	Lon    []float64
	Values []float64
	Valid  []bool
}

// Validate checks the invariants of a gridded field: monotonic coordinates,
// strictly increasing times and a value array matching the coordinate shape.
func (g *GriddedField) Validate() error {
	if len(g.Times) == 0 {
		return fmt.Errorf("field %q has no time steps", g.Name)
	}
	for k := 1; k < len(g.Times); k++ {
		if !g.Times[k].After(g.Times[k-1]) {
			return fmt.Errorf("field %q: times must be strictly increasing (index %d)", g.Name, k)
		}
	}
	if len(g.Lat) == 0 || len(g.Lon) == 0 {
		return fmt.Errorf("field %q has an empty spatial axis", g.Name)
	}
	if !StrictlyMonotonic(g.Lat) {
		return fmt.Errorf("field %q: latitude coordinates must be strictly monotonic", g.Name)
	}
	if !StrictlyMonotonic(g.Lon) {
		return fmt.Errorf("field %q: longitude coordinates must be strictly monotonic", g.Name)
	}
	n := len(g.Times) * len(g.Lat) * len(g.Lon)
	if len(g.Values) != n || len(g.Valid) != n {
		return fmt.Errorf("field %q: %d values / %d mask entries, expected %d (%d x %d x %d)",
			g.Name, len(g.Values), len(g.Valid), n, len(g.Times), len(g.Lat), len(g.Lon))
	}
	return nil
}

// TimeIndex returns the index of t in the field's time axis.
func (g *GriddedField) TimeIndex(t time.Time) (int, bool) {
	for k, ft := range g.Times {
		if ft.Equal(t) {
			return k, true
		}
	}
	return -1, false
}

// Slice returns the 2-D field at time t. The returned field shares
// coordinate vectors with g but owns its value and mask slices.
func (g *GriddedField) Slice(t time.Time) (*Field2D, error) {
	k, ok := g.TimeIndex(t)
	if !ok {
		return nil, fmt.Errorf("field %q has no data at %s", g.Name, t.UTC().Format(time.RFC3339))
	}
	return g.SliceAt(k), nil
}

// SliceAt returns the 2-D field at time index k.
func (g *GriddedField) SliceAt(k int) *Field2D {
	n := len(g.Lat) * len(g.Lon)
	return &Field2D{
		Lat:    g.Lat,
		Lon:    g.Lon,
		Values: append([]float64(nil), g.Values[k*n:(k+1)*n]...),
		Valid:  append([]bool(nil), g.Valid[k*n:(k+1)*n]...),
	}
}

// Region is a latitude/longitude bounding box in degrees.
type Region struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// BoundsOf returns the region spanned by the given coordinate vectors.
func BoundsOf(lat, lon []float64) Region {
	minLat, maxLat := minMax(lat)
	minLon, maxLon := minMax(lon)
	return Region{North: maxLat, South: minLat, West: minLon, East: maxLon}
}

// Union returns the smallest region containing both r and o.
func (r Region) Union(o Region) Region {
	return Region{
		North: math.Max(r.North, o.North),
		South: math.Min(r.South, o.South),
		West:  math.Min(r.West, o.West),
		East:  math.Max(r.East, o.East),
	}
}

// StrictlyMonotonic reports whether v is strictly increasing or strictly
// decreasing. Single-element vectors are monotonic.
func StrictlyMonotonic(v []float64) bool {
	if len(v) < 2 {
		return true
	}
	asc := v[1] > v[0]
	for k := 1; k < len(v); k++ {
		if asc && !(v[k] > v[k-1]) {
			return false
		}
		if !asc && !(v[k] < v[k-1]) {
			return false
		}
	}
	return true
}

// NormalizeLon360 maps arbitrary degree longitudes into the [0, 360) range.
func NormalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon
}

// NormalizeLon180 maps arbitrary degree longitudes into the [-180, 180) range.
func NormalizeLon180(lon float64) float64 {
	lon = NormalizeLon360(lon)
	if lon >= 180 {
		lon -= 360
	}
	return lon
}

// LonAxisIs360 reports whether a longitude axis uses the 0–360° convention.
func LonAxisIs360(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal, maxVal := minMax(lons)
	return minVal >= 0 && maxVal > 180
}

// NormalizeLonForAxis expresses lon in the convention used by the axis lons.
func NormalizeLonForAxis(lons []float64, lon float64) float64 {
	if len(lons) == 0 {
		return lon
	}
	if LonAxisIs360(lons) {
		return NormalizeLon360(lon)
	}
	minVal, _ := minMax(lons)
	if minVal < 0 || lon > 180 {
		return NormalizeLon180(lon)
	}
	return lon
}

func minMax(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

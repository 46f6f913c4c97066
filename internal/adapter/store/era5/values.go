package era5

import (
	"fmt"
	"math"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// toFloat64s converts the 1-D slice types returned by the reader to float64.
func toFloat64s(v any) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return append([]float64(nil), s...), nil
	case []float32:
		return convert(s), nil
	case []int64:
		return convert(s), nil
	case []int32:
		return convert(s), nil
	case []int16:
		return convert(s), nil
	case []int8:
		return convert(s), nil
	default:
		return nil, fmt.Errorf("unsupported coordinate type %T", v)
	}
}

func convert[T int8 | int16 | int32 | int64 | float32](s []T) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

// flatten converts a one-timestep slice ([1][a][b]T) to row-major lat × lon float64.
func flatten(raw any, nLat, nLon int, latFirst bool) ([]float64, error) {
	switch s := raw.(type) {
	case [][][]int16:
		return flattenSlice(s, nLat, nLon, latFirst)
	case [][][]int32:
		return flattenSlice(s, nLat, nLon, latFirst)
	case [][][]float32:
		return flattenSlice(s, nLat, nLon, latFirst)
	case [][][]float64:
		return flattenSlice(s, nLat, nLon, latFirst)
	default:
		return nil, fmt.Errorf("unsupported data type %T", raw)
	}
}

func flattenSlice[T int16 | int32 | float32 | float64](s [][][]T, nLat, nLon int, latFirst bool) ([]float64, error) {
	if len(s) != 1 {
		return nil, fmt.Errorf("expected one time step, got %d", len(s))
	}
	plane := s[0]
	rows, cols := nLat, nLon
	if !latFirst {
		rows, cols = nLon, nLat
	}
	if len(plane) != rows {
		return nil, fmt.Errorf("expected %d rows, got %d", rows, len(plane))
	}
	out := make([]float64, nLat*nLon)
	for r, row := range plane {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, expected %d", r, len(row), cols)
		}
		for c, v := range row {
			if latFirst {
				out[r*nLon+c] = float64(v)
			} else {
				out[c*nLon+r] = float64(v)
			}
		}
	}
	return out, nil
}

// attrString returns a text attribute.
func attrString(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimRight(s, "\x00"), true
}

// attrFloat returns the first element of a numeric attribute. Attributes of
// length one may come back as a scalar or as a one-element slice.
func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int8:
		return float64(x), true
	}
	s, err := toFloat64s(v)
	if err != nil || len(s) == 0 {
		return 0, false
	}
	return s[0], true
}

// packing holds the CF attributes that affect stored values.
type packing struct {
	scale, offset float64
	fill          []float64
}

func newPacking(attrs api.AttributeMap) packing {
	p := packing{scale: 1}
	if s, ok := attrFloat(attrs, "scale_factor"); ok {
		p.scale = s
	}
	if o, ok := attrFloat(attrs, "add_offset"); ok {
		p.offset = o
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if fv, ok := attrFloat(attrs, key); ok {
			p.fill = append(p.fill, fv)
		}
	}
	return p
}

// unpack applies the packing and marks fill values and NaNs invalid.
func unpack(raw []float64, p packing) ([]float64, []bool) {
	values := make([]float64, len(raw))
	valid := make([]bool, len(raw))
	for k, r := range raw {
		if math.IsNaN(r) || p.isFill(r) {
			values[k] = math.NaN()
			continue
		}
		values[k] = r*p.scale + p.offset
		valid[k] = true
	}
	return values, valid
}

func (p packing) isFill(v float64) bool {
	for _, fv := range p.fill {
		if v == fv || (math.Abs(fv) > 1e30 && math.Abs(v-fv) <= math.Abs(fv)*1e-6) {
			return true
		}
	}
	return false
}

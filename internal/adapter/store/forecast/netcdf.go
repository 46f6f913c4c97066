// Package forecast reads gridded model forecasts from NetCDF files.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/adapter/cftime"
	"go.ngs.io/forecast-verify/internal/domain"
)

// Dataset is an open forecast NetCDF file.
type Dataset struct {
	name   string
	path   string
	nc     netcdf.Dataset
	logger *zap.Logger
}

// Open opens a forecast file read-only. name identifies the model in logs and errors.
func Open(path, name string, logger *zap.Logger) (*Dataset, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dataset{name: name, path: path, nc: nc, logger: logger.With(zap.String("model", name))}, nil
}

// Name returns the model name.
func (d *Dataset) Name() string {
	return d.name
}

// Has reports whether the file defines a variable called name. A bare
// dimension does not count: coordinates are read from their variables.
func (d *Dataset) Has(name string) bool {
	_, err := d.nc.Var(name)
	return err == nil
}

// Close closes the file.
func (d *Dataset) Close() error {
	return d.nc.Close()
}

// Load reads the forecast variable into a time × lat × lon field. The data
// variable's dimensions may appear in any order; any extra dimension must
// have length one. Fill values and NaNs become invalid points, and packed
// values are unpacked with scale_factor/add_offset.
func (d *Dataset) Load(mapping domain.CoordinateMapping) (*domain.GriddedField, error) {
	v, err := d.nc.Var(mapping.Variable)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %q: %w", d.name, mapping.Variable, err)
	}

	times, timeDim, err := d.readTimes(mapping.Time)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	lat, latDim, err := d.readAxis(mapping.Latitude)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	lon, lonDim, err := d.readAxis(mapping.Longitude)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}

	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get dimensions: %w", d.name, err)
	}
	layout, err := dimLayout(dims, map[string]int{timeDim: len(times), latDim: len(lat), lonDim: len(lon)},
		[3]string{timeDim, latDim, lonDim})
	if err != nil {
		return nil, fmt.Errorf("%s: variable %q: %w", d.name, mapping.Variable, err)
	}

	total := len(times) * len(lat) * len(lon)
	raw, err := readValues(v, total)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %q: %w", d.name, mapping.Variable, err)
	}

	values, valid := unpack(raw, newPacking(v))
	field := &domain.GriddedField{
		Name:   mapping.Variable,
		Unit:   readText(v, "units"),
		Times:  times,
		Lat:    lat,
		Lon:    lon,
		Values: make([]float64, total),
		Valid:  make([]bool, total),
	}

	// Reorder into (time, lat, lon).
	nLat, nLon := len(lat), len(lon)
	for t := range times {
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				src := t*layout[0] + i*layout[1] + j*layout[2]
				dst := (t*nLat+i)*nLon + j
				field.Values[dst] = values[src]
				field.Valid[dst] = valid[src]
			}
		}
	}

	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}

	d.logger.Debug("Loaded forecast field",
		zap.String("path", d.path),
		zap.String("variable", mapping.Variable),
		zap.String("unit", field.Unit),
		zap.Int("times", len(times)),
		zap.Int("lat", nLat),
		zap.Int("lon", nLon))

	return field, nil
}

// readTimes reads and decodes the time coordinate and returns the name of
// the dimension it runs along.
func (d *Dataset) readTimes(name string) ([]time.Time, string, error) {
	v, err := d.nc.Var(name)
	if err != nil {
		return nil, "", fmt.Errorf("time variable %q: %w", name, err)
	}
	raw, dim, err := readFloat64Var(v)
	if err != nil {
		return nil, "", fmt.Errorf("time variable %q: %w", name, err)
	}
	units := readText(v, "units")
	if units == "" {
		return nil, "", fmt.Errorf("time variable %q has no units attribute", name)
	}
	times, err := cftime.Decode(units, readText(v, "calendar"), raw)
	if err != nil {
		return nil, "", fmt.Errorf("time variable %q: %w", name, err)
	}
	return times, dim, nil
}

// readAxis reads a 1-D coordinate variable.
func (d *Dataset) readAxis(name string) ([]float64, string, error) {
	v, err := d.nc.Var(name)
	if err != nil {
		return nil, "", fmt.Errorf("coordinate variable %q: %w", name, err)
	}
	values, dim, err := readFloat64Var(v)
	if err != nil {
		return nil, "", fmt.Errorf("coordinate variable %q: %w", name, err)
	}
	return values, dim, nil
}

// dimLayout returns the flat-index strides of the time, lat and lon
// dimensions of a variable, matched by dimension name.
func dimLayout(dims []netcdf.Dim, lengths map[string]int, order [3]string) ([3]int, error) {
	names := make([]string, len(dims))
	lens := make([]int, len(dims))
	for k, dim := range dims {
		name, err := dim.Name()
		if err != nil {
			return [3]int{}, fmt.Errorf("failed to get dim%d name: %w", k, err)
		}
		n, err := dim.Len()
		if err != nil {
			return [3]int{}, fmt.Errorf("failed to get dim%d length: %w", k, err)
		}
		names[k] = name
		lens[k] = int(n)
	}

	strides := make([]int, len(dims))
	stride := 1
	for k := len(dims) - 1; k >= 0; k-- {
		strides[k] = stride
		stride *= lens[k]
	}

	var layout [3]int
	var found [3]bool
	for k, name := range names {
		matched := false
		for r, want := range order {
			if name != want {
				continue
			}
			if lens[k] != lengths[want] {
				return layout, fmt.Errorf("dimension %q has length %d, coordinate has %d", name, lens[k], lengths[want])
			}
			layout[r] = strides[k]
			found[r] = true
			matched = true
		}
		if !matched && lens[k] != 1 {
			return layout, fmt.Errorf("unexpected non-singleton dimension %q (length %d)", name, lens[k])
		}
	}
	for r, ok := range found {
		if !ok {
			return layout, fmt.Errorf("missing dimension %q (has %s)", order[r], strings.Join(names, ", "))
		}
	}
	return layout, nil
}

// packing holds the CF attributes that affect stored values.
type packing struct {
	scale, offset float64
	fill          []float64
}

func newPacking(v netcdf.Var) packing {
	p := packing{scale: 1}
	if s, ok := readAttrFloat(v, "scale_factor"); ok {
		p.scale = s
	}
	if o, ok := readAttrFloat(v, "add_offset"); ok {
		p.offset = o
	}
	for _, name := range []string{"_FillValue", "missing_value"} {
		if fv, ok := readAttrFloat(v, name); ok {
			p.fill = append(p.fill, fv)
		}
	}
	return p
}

// unpack applies the packing to raw values and builds the validity mask.
// Fill values are compared before scaling, as stored.
func unpack(raw []float64, p packing) ([]float64, []bool) {
	values := make([]float64, len(raw))
	valid := make([]bool, len(raw))
	for k, r := range raw {
		if math.IsNaN(r) || isFill(r, p.fill) {
			values[k] = math.NaN()
			continue
		}
		v := r*p.scale + p.offset
		if math.IsInf(v, 0) {
			values[k] = math.NaN()
			continue
		}
		values[k] = v
		valid[k] = true
	}
	return values, valid
}

func isFill(v float64, fill []float64) bool {
	for _, fv := range fill {
		if v == fv {
			return true
		}
		// float32 fill values widened to float64 may differ in the last bits.
		if math.Abs(fv) > 1e30 && math.Abs(v-fv) <= math.Abs(fv)*1e-6 {
			return true
		}
	}
	return false
}

// readAttrFloat returns a numeric attribute as float64.
func readAttrFloat(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, n)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, n)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, n)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	bufs := make([]int16, n)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	return 0, false
}

// readText returns a CHAR attribute, or "" if absent.
func readText(v netcdf.Var, name string) string {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

// readFloat64Var reads a 1D variable as float64 and returns its dimension name.
func readFloat64Var(v netcdf.Var) ([]float64, string, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, "", fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	dimName, err := dims[0].Name()
	if err != nil {
		return nil, "", err
	}
	length, err := dims[0].Len()
	if err != nil {
		return nil, "", err
	}
	data, err := readValues(v, int(length))
	if err != nil {
		return nil, "", err
	}
	return data, dimName, nil
}

var errUnsupportedType = errors.New("unsupported var type")

// readValues reads n values of any numeric NetCDF type as float64.
func readValues(v netcdf.Var, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT64:
		tmp := make([]int64, n)
		if err := v.ReadInt64s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("%w: %v", errUnsupportedType, t)
	}
	return out, nil
}

// Package era5 serves reference fields from a local ERA5 reanalysis NetCDF archive.
package era5

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/adapter/cftime"
	"go.ngs.io/forecast-verify/internal/domain"
)

// defaultTimeUnits applies to archives whose time variable carries no units
// attribute (the CDS convention before 2024).
const defaultTimeUnits = "hours since 1900-01-01 00:00:00.0"

// Options configures an Archive.
type Options struct {
	Aliases domain.AliasTable
	// Tolerance enables nearest-time lookup: a request matches the closest
	// archived time within Tolerance. Zero means exact match only.
	Tolerance time.Duration
	Logger    *zap.Logger
}

// Archive reads one timestamp at a time from an ERA5 file. It is safe for
// concurrent use; file reads are serialized.
type Archive struct {
	path      string
	names     map[string]bool
	mapping   domain.CoordinateMapping
	times     []time.Time
	index     map[int64]int
	lat       []float64
	lon       []float64
	latFirst  bool
	unit      string
	pack      packing
	tolerance time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	nc   api.Group
	data api.VarGetter
}

// Open opens an archive and resolves its coordinates with opts.Aliases.
func Open(path string, opts Options) (*Archive, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ERA5 archive %s: %w", path, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archive{
		path:      path,
		names:     make(map[string]bool),
		tolerance: opts.Tolerance,
		logger:    logger.With(zap.String("archive", path)),
		nc:        nc,
	}
	for _, name := range nc.ListVariables() {
		a.names[name] = true
	}

	if err := a.init(opts.Aliases); err != nil {
		nc.Close()
		return nil, err
	}

	a.logger.Info("Opened ERA5 archive",
		zap.String("variable", a.mapping.Variable),
		zap.String("unit", a.unit),
		zap.Int("times", len(a.times)),
		zap.Int("lat", len(a.lat)),
		zap.Int("lon", len(a.lon)),
		zap.Time("first", a.times[0]),
		zap.Time("last", a.times[len(a.times)-1]))
	return a, nil
}

func (a *Archive) init(aliases domain.AliasTable) error {
	var err error
	a.mapping, err = domain.ResolveCoordinates("reference", a, aliases.Merge(domain.DefaultAliases()))
	if err != nil {
		return err
	}

	timeVar, err := a.nc.GetVariable(a.mapping.Time)
	if err != nil {
		return fmt.Errorf("time variable %q: %w", a.mapping.Time, err)
	}
	rawTimes, err := toFloat64s(timeVar.Values)
	if err != nil {
		return fmt.Errorf("time variable %q: %w", a.mapping.Time, err)
	}
	units, _ := attrString(timeVar.Attributes, "units")
	if units == "" {
		units = defaultTimeUnits
	}
	calendar, _ := attrString(timeVar.Attributes, "calendar")
	a.times, err = cftime.Decode(units, calendar, rawTimes)
	if err != nil {
		return fmt.Errorf("time variable %q: %w", a.mapping.Time, err)
	}
	if len(a.times) == 0 {
		return fmt.Errorf("archive %s has no time steps", a.path)
	}
	a.index = make(map[int64]int, len(a.times))
	for k, t := range a.times {
		a.index[t.UnixNano()] = k
	}

	if len(timeVar.Dimensions) != 1 {
		return fmt.Errorf("time variable %q: expected 1D, got %dD", a.mapping.Time, len(timeVar.Dimensions))
	}
	timeDim := timeVar.Dimensions[0]

	var latDim, lonDim string
	if a.lat, latDim, err = a.axis(a.mapping.Latitude); err != nil {
		return err
	}
	if a.lon, lonDim, err = a.axis(a.mapping.Longitude); err != nil {
		return err
	}

	a.data, err = a.nc.GetVarGetter(a.mapping.Variable)
	if err != nil {
		return fmt.Errorf("variable %q: %w", a.mapping.Variable, err)
	}
	dims := a.data.Dimensions()
	if len(dims) != 3 || dims[0] != timeDim {
		return fmt.Errorf("variable %q: expected (time, lat, lon) dimensions, got %v", a.mapping.Variable, dims)
	}
	switch {
	case dims[1] == latDim && dims[2] == lonDim:
		a.latFirst = true
	case dims[1] == lonDim && dims[2] == latDim:
		a.latFirst = false
	default:
		return fmt.Errorf("variable %q: dimensions %v do not match coordinates", a.mapping.Variable, dims)
	}

	attrs := a.data.Attributes()
	a.unit, _ = attrString(attrs, "units")
	a.pack = newPacking(attrs)
	return nil
}

// axis reads a 1-D coordinate variable and returns its dimension name.
func (a *Archive) axis(name string) ([]float64, string, error) {
	v, err := a.nc.GetVariable(name)
	if err != nil {
		return nil, "", fmt.Errorf("coordinate variable %q: %w", name, err)
	}
	if len(v.Dimensions) != 1 {
		return nil, "", fmt.Errorf("coordinate variable %q: expected 1D, got %dD", name, len(v.Dimensions))
	}
	values, err := toFloat64s(v.Values)
	if err != nil {
		return nil, "", fmt.Errorf("coordinate variable %q: %w", name, err)
	}
	if !domain.StrictlyMonotonic(values) {
		return nil, "", fmt.Errorf("coordinate variable %q is not strictly monotonic", name)
	}
	return values, v.Dimensions[0], nil
}

// Has reports whether the archive defines a variable called name.
func (a *Archive) Has(name string) bool {
	return a.names[name]
}

// Mapping returns the resolved coordinate names.
func (a *Archive) Mapping() domain.CoordinateMapping {
	return a.mapping
}

// Unit returns the units attribute of the reference variable.
func (a *Archive) Unit() string {
	return a.unit
}

// Times returns the archived timestamps.
func (a *Archive) Times() []time.Time {
	return append([]time.Time(nil), a.times...)
}

// Bounds returns the spatial extent of the archive.
func (a *Archive) Bounds() domain.Region {
	return domain.BoundsOf(a.lat, a.lon)
}

// Fetch returns the reference field at t, cropped to region with a one-cell margin.
func (a *Archive) Fetch(ctx context.Context, t time.Time, region domain.Region) (*domain.Field2D, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, ok := a.lookup(t)
	if !ok {
		return nil, &domain.NoReferenceDataError{Time: t, Cause: fmt.Errorf("time not in archive %s", a.path)}
	}

	a.mu.Lock()
	raw, err := a.data.GetSlice(int64(k), int64(k)+1)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at index %d: %w", a.mapping.Variable, k, err)
	}

	values, err := flatten(raw, len(a.lat), len(a.lon), a.latFirst)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at index %d: %w", a.mapping.Variable, k, err)
	}
	vals, valid := unpack(values, a.pack)
	field := &domain.Field2D{Lat: a.lat, Lon: a.lon, Values: vals, Valid: valid}
	sub := field.Subset(region)

	if sub.ValidCount() == 0 {
		return nil, &domain.NoReferenceDataError{Time: t, Cause: fmt.Errorf("no valid %s values in region", a.mapping.Variable)}
	}

	a.logger.Debug("Fetched reference field",
		zap.Time("requested", t),
		zap.Time("matched", a.times[k]),
		zap.Int("lat", len(sub.Lat)),
		zap.Int("lon", len(sub.Lon)))
	return sub, nil
}

// lookup finds the archive index for t: exact, or nearest within tolerance.
func (a *Archive) lookup(t time.Time) (int, bool) {
	if k, ok := a.index[t.UnixNano()]; ok {
		return k, true
	}
	if a.tolerance <= 0 {
		return 0, false
	}
	best, bestDiff := -1, time.Duration(math.MaxInt64)
	for k, at := range a.times {
		d := at.Sub(t)
		if d < 0 {
			d = -d
		}
		if d < bestDiff {
			best, bestDiff = k, d
		}
	}
	if best < 0 || bestDiff > a.tolerance {
		return 0, false
	}
	return best, true
}

// Close closes the archive file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nc.Close()
	return nil
}

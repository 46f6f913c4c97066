// Package cftime decodes CF-convention time coordinates ("<unit> since <epoch>").
package cftime

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Units is a parsed CF time units attribute.
type Units struct {
	Step  time.Duration
	Epoch time.Time
}

// epochLayouts are the reference-date forms found in ECMWF and CDS output.
var epochLayouts = []string{
	"2006-1-2 15:4:5.999999999",
	"2006-1-2 15:4:5",
	"2006-1-2 15:4",
	"2006-1-2T15:4:5.999999999Z07:00",
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2T15:4:5",
	"2006-1-2",
}

// ParseUnits parses a units attribute such as "hours since 1900-01-01 00:00:00.0".
func ParseUnits(units string) (Units, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return Units{}, fmt.Errorf("time units %q: expected \"<unit> since <epoch>\"", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return Units{}, fmt.Errorf("time units %q: unsupported unit %q", units, parts[0])
	}

	epoch, err := parseEpoch(parts[1])
	if err != nil {
		return Units{}, fmt.Errorf("time units %q: %w", units, err)
	}
	return Units{Step: step, Epoch: epoch}, nil
}

func parseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " UTC")
	s = strings.TrimSuffix(s, " GMT")
	s = strings.TrimSpace(s)
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised reference date %q", s)
}

// Time converts one coordinate value to an instant, rounded to the second.
func (u Units) Time(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, fmt.Errorf("non-finite time value %v", v)
	}
	secs := math.Round(v * u.Step.Seconds())
	if math.Abs(secs) > math.MaxInt64/float64(time.Second) {
		return time.Time{}, fmt.Errorf("time value %v overflows", v)
	}
	return u.Epoch.Add(time.Duration(secs) * time.Second), nil
}

// Decode converts raw time coordinate values using a units attribute. An
// optional calendar must be one of the Gregorian variants.
func Decode(units, calendar string, values []float64) ([]time.Time, error) {
	if err := checkCalendar(calendar); err != nil {
		return nil, err
	}
	u, err := ParseUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for k, v := range values {
		t, err := u.Time(v)
		if err != nil {
			return nil, fmt.Errorf("time index %d: %w", k, err)
		}
		out[k] = t
	}
	return out, nil
}

func checkCalendar(calendar string) error {
	switch strings.ToLower(strings.TrimSpace(calendar)) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return nil
	default:
		return fmt.Errorf("unsupported calendar %q", calendar)
	}
}

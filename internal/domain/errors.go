package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrShapeMismatch is returned when two fields that must share a grid do not.
var ErrShapeMismatch = errors.New("field shapes do not match")

// CoordinateResolutionError reports that a dataset exposes none of the known
// aliases for a coordinate role. It is fatal for the dataset.
type CoordinateResolutionError struct {
	Dataset string
	Role    Role
	Tried   []string
}

func (e *CoordinateResolutionError) Error() string {
	return fmt.Sprintf("dataset %q: could not resolve %s coordinate (tried: %s)",
		e.Dataset, e.Role, strings.Join(e.Tried, ", "))
}

// NoOverlapError reports that the forecast sources share no valid time.
type NoOverlapError struct {
	Datasets []string
}

func (e *NoOverlapError) Error() string {
	if len(e.Datasets) == 0 {
		return "no overlapping times between the time axes"
	}
	return fmt.Sprintf("no overlapping times between %s", strings.Join(e.Datasets, " and "))
}

// NoReferenceDataError reports that no usable reference field exists for a
// timestamp. The pipeline skips the timestamp and keeps going.
type NoReferenceDataError struct {
	Time  time.Time
	Cause error
}

func (e *NoReferenceDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no reference data at %s: %v", e.Time.UTC().Format(time.RFC3339), e.Cause)
	}
	return fmt.Sprintf("no reference data at %s", e.Time.UTC().Format(time.RFC3339))
}

func (e *NoReferenceDataError) Unwrap() error {
	return e.Cause
}

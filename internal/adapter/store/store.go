package store

import (
	"context"
	"time"

	"go.ngs.io/forecast-verify/internal/domain"
)

// ForecastSource is a dataset holding one model's forecast of the verified variable.
type ForecastSource interface {
	// Has reports whether the dataset exposes a variable or dimension with this name.
	Has(name string) bool

	// Load reads the variable and coordinates named by mapping.
	Load(mapping domain.CoordinateMapping) (*domain.GriddedField, error)

	// Close releases the underlying file.
	Close() error
}

// ReferenceProvider supplies the reference (observed/reanalysis) field for an instant.
type ReferenceProvider interface {
	// Fetch returns the reference field at t covering region. A missing
	// timestamp is reported as *domain.NoReferenceDataError.
	Fetch(ctx context.Context, t time.Time, region domain.Region) (*domain.Field2D, error)
}

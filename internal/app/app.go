// Package app wires configuration, data sources and the verification pipeline.
package app

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/adapter/interp"
	"go.ngs.io/forecast-verify/internal/adapter/store/era5"
	"go.ngs.io/forecast-verify/internal/adapter/store/forecast"
	"go.ngs.io/forecast-verify/internal/adapter/store/reference"
	"go.ngs.io/forecast-verify/internal/config"
	"go.ngs.io/forecast-verify/internal/observability"
	"go.ngs.io/forecast-verify/internal/usecase"
)

// App holds the open datasets and the verifier built from a Config.
type App struct {
	Verifier *usecase.Verifier
	Inputs   []usecase.ModelInput
	Archive  *era5.Archive

	logger  *zap.Logger
	sources []*forecast.Dataset
}

// New opens every input named by cfg and builds the verifier. The caller
// must Close the returned App.
func New(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*App, error) {
	if err := cfg.RequirePaths(); err != nil {
		return nil, err
	}
	method, err := interp.ParseMethod(cfg.Interpolation)
	if err != nil {
		return nil, err
	}
	regridder, err := interp.NewRegridder(interp.Config{Method: method})
	if err != nil {
		return nil, err
	}

	a := &App{logger: logger}

	a.Archive, err = era5.Open(cfg.Reference.Path, era5.Options{
		Aliases:   cfg.Aliases,
		Tolerance: cfg.Reference.TimeTolerance,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	for _, m := range cfg.Models {
		ds, err := forecast.Open(m.Path, m.Name, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		a.sources = append(a.sources, ds)
		a.Inputs = append(a.Inputs, usecase.ModelInput{Name: m.Name, Source: ds})
	}

	clock := clockwork.NewRealClock()
	provider := reference.NewRetrying(a.Archive, reference.RetryConfig{
		Attempts:   cfg.Reference.Retry.Attempts,
		Backoff:    cfg.Reference.Retry.Backoff,
		MaxBackoff: cfg.Reference.Retry.MaxBackoff,
	}, clock, logger, metrics)

	a.Verifier = usecase.NewVerifier(usecase.VerifierConfig{
		Aliases:       cfg.Aliases,
		ReferenceName: cfg.Reference.Name,
		ReferenceUnit: a.Archive.Unit(),
		Workers:       cfg.Workers,
		Region:        cfg.Region,
	}, provider, regridder, clock, logger, metrics)

	logger.Info("Verification inputs ready",
		zap.Int("models", len(a.Inputs)),
		zap.String("reference", cfg.Reference.Path),
		zap.String("interpolation", string(method)),
		zap.Int("workers", cfg.Workers))
	return a, nil
}

// Close closes every open dataset.
func (a *App) Close() {
	for _, ds := range a.sources {
		if err := ds.Close(); err != nil {
			a.logger.Warn("Failed to close forecast file", zap.String("model", ds.Name()), zap.Error(err))
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.logger.Warn("Failed to close reference archive", zap.Error(err))
		}
	}
}

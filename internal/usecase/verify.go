package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/forecast-verify/internal/adapter/interp"
	"go.ngs.io/forecast-verify/internal/adapter/store"
	"go.ngs.io/forecast-verify/internal/domain"
	"go.ngs.io/forecast-verify/internal/observability"
)

// State is the phase a verification run is in.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateResolvingCoordinates
	StateAligningTimes
	StatePerTimestep
	StateAggregating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateResolvingCoordinates:
		return "resolving_coordinates"
	case StateAligningTimes:
		return "aligning_times"
	case StatePerTimestep:
		return "per_timestep"
	case StateAggregating:
		return "aggregating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModelInput is one forecast model to verify.
type ModelInput struct {
	Name   string
	Source store.ForecastSource
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Aliases extends the default coordinate aliases.
	Aliases domain.AliasTable

	// ReferenceName labels the reference dataset in results.
	ReferenceName string

	// ReferenceUnit is the unit of the reference variable. Forecasts in a
	// different temperature unit are converted to it.
	ReferenceUnit string

	// Workers is the number of timestamps scored concurrently (default 1).
	Workers int

	// Region overrides the area requested from the reference provider.
	// When nil the union of the forecast grids is used.
	Region *domain.Region
}

// Verifier runs the verification pipeline.
type Verifier struct {
	cfg       VerifierConfig
	reference store.ReferenceProvider
	regridder *interp.Regridder
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	state     atomic.Int32
}

// NewVerifier creates a new Verifier. A nil clock uses the real clock; nil
// metrics are collected unregistered.
func NewVerifier(cfg VerifierConfig, reference store.ReferenceProvider, regridder *interp.Regridder,
	clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Verifier {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Verifier{
		cfg:       cfg,
		reference: reference,
		regridder: regridder,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// State returns the current pipeline state.
func (v *Verifier) State() State {
	return State(v.state.Load())
}

func (v *Verifier) setState(s State) {
	v.state.Store(int32(s))
	v.metrics.PipelineState.Set(float64(s))
	v.logger.Debug("Pipeline state changed", zap.Stringer("state", s))
}

// loadedModel is a forecast after coordinate resolution and unit conversion.
type loadedModel struct {
	name    string
	mapping domain.CoordinateMapping
	field   *domain.GriddedField
}

// stepOutcome is the result of scoring one timestamp across all models.
type stepOutcome struct {
	records []domain.MetricRecord // parallel to the model list
	skipped *domain.SkippedStep
}

// Run verifies the inputs against the reference. Failures that make the
// whole run meaningless (unresolvable coordinates, unreadable forecasts, no
// common timestamps) are returned before any timestamp is scored. Failures
// at a single timestamp are recorded in the result and the run continues.
func (v *Verifier) Run(ctx context.Context, inputs []ModelInput) (*domain.VerificationResult, error) {
	started := v.clock.Now()
	runID := uuid.New().String()
	logger := v.logger.With(zap.String("run_id", runID))

	v.metrics.RunInProgress.Set(1)
	defer v.metrics.RunInProgress.Set(0)

	result, err := v.run(ctx, logger, runID, started, inputs)
	v.metrics.RunDuration.Observe(v.clock.Since(started).Seconds())
	if err != nil {
		v.setState(StateFailed)
		v.metrics.Runs.WithLabelValues("failed").Inc()
		logger.Error("Verification run failed", zap.Error(err))
		return nil, err
	}
	v.setState(StateDone)
	v.metrics.Runs.WithLabelValues("success").Inc()
	logger.Info("Verification run complete",
		zap.Int("attempted", result.Attempted),
		zap.Int("scored", result.Scored),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

func (v *Verifier) run(ctx context.Context, logger *zap.Logger, runID string, started time.Time, inputs []ModelInput) (*domain.VerificationResult, error) {
	v.setState(StateInitializing)
	if len(inputs) < 2 {
		return nil, fmt.Errorf("at least two forecast inputs are required, got %d", len(inputs))
	}
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.Name == "" || in.Source == nil {
			return nil, fmt.Errorf("forecast input must have a name and a source")
		}
		if seen[in.Name] {
			return nil, fmt.Errorf("duplicate forecast name %q", in.Name)
		}
		seen[in.Name] = true
	}

	v.setState(StateResolvingCoordinates)
	models, err := v.loadModels(logger, inputs)
	if err != nil {
		return nil, err
	}

	v.setState(StateAligningTimes)
	names := make([]string, len(models))
	axes := make([][]time.Time, len(models))
	for i, m := range models {
		names[i] = m.name
		axes[i] = m.field.Times
	}
	common, err := domain.IntersectAll(names, axes)
	if err != nil {
		return nil, err
	}
	logger.Info("Aligned forecast times",
		zap.Int("common", common.Len()),
		zap.Time("first", common.First()),
		zap.Time("last", common.Last()))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	region := v.region(models)

	v.setState(StatePerTimestep)
	times := common.Times()
	outcomes := make([]stepOutcome, len(times))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for i, t := range times {
		g.Go(func() error {
			out, err := v.scoreStep(gctx, logger, t, region, models)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.setState(StateAggregating)
	result := &domain.VerificationResult{
		RunID:     runID,
		StartedAt: started,
		Reference: v.cfg.ReferenceName,
		Variable:  models[0].mapping.Variable,
		Unit:      v.resultUnit(models),
		Models:    names,
		Records:   make(map[string][]domain.MetricRecord, len(models)),
		Summary:   make(map[string]domain.ModelSummary, len(models)),
		Attempted: len(times),
		Skipped:   []domain.SkippedStep{},
	}
	for _, name := range names {
		result.Records[name] = []domain.MetricRecord{}
	}
	for _, out := range outcomes {
		if out.skipped != nil {
			result.Skipped = append(result.Skipped, *out.skipped)
			continue
		}
		result.Scored++
		for mi, rec := range out.records {
			result.Records[names[mi]] = append(result.Records[names[mi]], rec)
		}
	}
	domain.SortRecords(result.Records)

	for _, name := range names {
		s := domain.Summarize(result.Records[name])
		result.Summary[name] = s
		v.exportMeans(name, s)
	}
	result.FinishedAt = v.clock.Now()
	return result, nil
}

// loadModels resolves coordinates and reads every forecast. The first failure is fatal.
func (v *Verifier) loadModels(logger *zap.Logger, inputs []ModelInput) ([]loadedModel, error) {
	aliases := v.cfg.Aliases.Merge(domain.DefaultAliases())
	models := make([]loadedModel, 0, len(inputs))
	for _, in := range inputs {
		mapping, err := domain.ResolveCoordinates(in.Name, in.Source, aliases)
		if err != nil {
			return nil, err
		}
		field, err := in.Source.Load(mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to load forecast %q: %w", in.Name, err)
		}
		if err := field.Validate(); err != nil {
			return nil, fmt.Errorf("invalid forecast %q: %w", in.Name, err)
		}
		field = v.toReferenceUnit(logger, in.Name, field)

		logger.Info("Loaded forecast",
			zap.String("model", in.Name),
			zap.String("variable", mapping.Variable),
			zap.String("unit", field.Unit),
			zap.Int("times", len(field.Times)),
			zap.Int("lat", len(field.Lat)),
			zap.Int("lon", len(field.Lon)))
		models = append(models, loadedModel{name: in.Name, mapping: mapping, field: field})
	}
	return models, nil
}

// toReferenceUnit converts a forecast to the reference unit when both are
// known temperature units. Otherwise the field is compared as-is.
func (v *Verifier) toReferenceUnit(logger *zap.Logger, name string, field *domain.GriddedField) *domain.GriddedField {
	if v.cfg.ReferenceUnit == "" || field.Unit == "" || domain.SameUnit(field.Unit, v.cfg.ReferenceUnit) {
		return field
	}
	converted, err := field.InUnit(v.cfg.ReferenceUnit)
	if err != nil {
		logger.Warn("Forecast and reference units differ, comparing as-is",
			zap.String("model", name),
			zap.String("forecast_unit", field.Unit),
			zap.String("reference_unit", v.cfg.ReferenceUnit))
		return field
	}
	logger.Info("Converted forecast units",
		zap.String("model", name),
		zap.String("from", field.Unit),
		zap.String("to", v.cfg.ReferenceUnit))
	return converted
}

func (v *Verifier) region(models []loadedModel) domain.Region {
	if v.cfg.Region != nil {
		return *v.cfg.Region
	}
	r := domain.BoundsOf(models[0].field.Lat, models[0].field.Lon)
	for _, m := range models[1:] {
		r = r.Union(domain.BoundsOf(m.field.Lat, m.field.Lon))
	}
	return r
}

func (v *Verifier) resultUnit(models []loadedModel) string {
	if v.cfg.ReferenceUnit != "" {
		return v.cfg.ReferenceUnit
	}
	return models[0].field.Unit
}

// scoreStep scores all models at t. A timestamp is scored for every model or
// skipped for all of them. Only context cancellation is returned as an error.
func (v *Verifier) scoreStep(ctx context.Context, logger *zap.Logger, t time.Time, region domain.Region, models []loadedModel) (stepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return stepOutcome{}, err
	}

	records, err := v.scoreModels(ctx, t, region, models)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stepOutcome{}, ctxErr
		}
		var noData *domain.NoReferenceDataError
		if errors.As(err, &noData) && noData.Time.IsZero() {
			noData.Time = t
		}
		logger.Warn("Skipping timestep", zap.Time("time", t), zap.Error(err))
		v.metrics.Timesteps.WithLabelValues("skipped").Inc()
		return stepOutcome{skipped: &domain.SkippedStep{Time: t, Reason: err.Error()}}, nil
	}

	v.metrics.Timesteps.WithLabelValues("scored").Inc()
	logger.Debug("Scored timestep", zap.Time("time", t))
	return stepOutcome{records: records}, nil
}

func (v *Verifier) scoreModels(ctx context.Context, t time.Time, region domain.Region, models []loadedModel) ([]domain.MetricRecord, error) {
	ref, err := v.reference.Fetch(ctx, t, region)
	if err != nil {
		return nil, err
	}

	records := make([]domain.MetricRecord, len(models))
	for i, m := range models {
		forecast, err := m.field.Slice(t)
		if err != nil {
			return nil, err
		}
		regridded, err := v.regridder.Regrid(ref, forecast.Lat, forecast.Lon)
		if err != nil {
			return nil, fmt.Errorf("failed to regrid reference onto %q: %w", m.name, err)
		}
		rec, err := domain.ComputeMetrics(t, forecast, regridded)
		if err != nil {
			return nil, fmt.Errorf("failed to score %q: %w", m.name, err)
		}
		records[i] = rec
	}
	return records, nil
}

func (v *Verifier) exportMeans(model string, s domain.ModelSummary) {
	for metric, summary := range map[string]domain.MetricSummary{"mae": s.MAE, "rmse": s.RMSE, "r2": s.R2} {
		if mean, ok := summary.Mean.Get(); ok {
			v.metrics.LastRunMean.WithLabelValues(model, metric).Set(mean)
		} else {
			v.metrics.LastRunMean.DeleteLabelValues(model, metric)
		}
	}
}

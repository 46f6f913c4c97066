package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/adapter/interp"
	"go.ngs.io/forecast-verify/internal/domain"
	"go.ngs.io/forecast-verify/internal/observability"
)

var (
	gridLat = []float64{51, 50}
	gridLon = []float64{0, 1, 2}
)

func hourT(h int) time.Time {
	return time.Date(2026, 2, 1, h, 0, 0, 0, time.UTC)
}

// truth is the reference temperature (K) at time index h and grid point (i, j).
func truth(h, i, j int) float64 {
	return 270 + float64(h) + 0.5*float64(i) + 0.25*float64(j)
}

type fakeSource struct {
	names   map[string]bool
	field   *domain.GriddedField
	loadErr error
}

func (s *fakeSource) Has(name string) bool { return s.names[name] }

func (s *fakeSource) Load(mapping domain.CoordinateMapping) (*domain.GriddedField, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.field, nil
}

func (s *fakeSource) Close() error { return nil }

// newSource builds a forecast with standard names whose value is truth + bias.
func newSource(unit string, hours []int, bias float64, conv func(float64) float64) *fakeSource {
	field := &domain.GriddedField{Name: "t2m", Unit: unit, Lat: gridLat, Lon: gridLon}
	for _, h := range hours {
		field.Times = append(field.Times, hourT(h))
		for i := range gridLat {
			for j := range gridLon {
				v := truth(h, i, j) + bias
				if conv != nil {
					v = conv(v)
				}
				field.Values = append(field.Values, v)
				field.Valid = append(field.Valid, true)
			}
		}
	}
	return &fakeSource{
		names: map[string]bool{"time": true, "lat": true, "lon": true, "t2m": true},
		field: field,
	}
}

type fakeReference struct {
	mu      sync.Mutex
	missing map[int]bool
	calls   int
	block   chan struct{}
}

func (r *fakeReference) Fetch(ctx context.Context, t time.Time, _ domain.Region) (*domain.Field2D, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	h := t.Hour()
	if r.missing[h] {
		return nil, &domain.NoReferenceDataError{Time: t}
	}
	values := make([]float64, 0, len(gridLat)*len(gridLon))
	for i := range gridLat {
		for j := range gridLon {
			values = append(values, truth(h, i, j))
		}
	}
	return domain.NewField2D(gridLat, gridLon, values, nil)
}

func (r *fakeReference) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newVerifier(t *testing.T, ref *fakeReference, cfg VerifierConfig) (*Verifier, *observability.Metrics) {
	t.Helper()
	regridder, err := interp.NewRegridder(interp.Config{Method: interp.MethodBilinear})
	require.NoError(t, err)
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(hourT(0))
	return NewVerifier(cfg, ref, regridder, clock, zap.NewNop(), metrics), metrics
}

func TestVerifier_PartialOverlapWithMissingReference(t *testing.T) {
	ref := &fakeReference{missing: map[int]bool{3: true}}
	v, metrics := newVerifier(t, ref, VerifierConfig{ReferenceName: "era5", ReferenceUnit: "K"})

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2, 3}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{2, 3, 4}, 1, nil)},
	})
	require.NoError(t, err)

	assert.Equal(t, StateDone, v.State())
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Scored)
	require.Len(t, result.Skipped, 1)
	assert.True(t, result.Skipped[0].Time.Equal(hourT(3)))
	assert.Contains(t, result.Skipped[0].Reason, "no reference data")
	assert.Equal(t, []string{"ifs", "aifs"}, result.Models)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "t2m", result.Variable)

	require.Len(t, result.Records["ifs"], 1)
	require.Len(t, result.Records["aifs"], 1)
	ifs := result.Records["ifs"][0]
	aifs := result.Records["aifs"][0]
	assert.True(t, ifs.Time.Equal(hourT(2)))
	assert.Equal(t, 6, ifs.ValidCount)

	mae, ok := ifs.MAE.Get()
	require.True(t, ok)
	assert.InDelta(t, 0, mae, 1e-9)
	r2, ok := ifs.R2.Get()
	require.True(t, ok)
	assert.InDelta(t, 1, r2, 1e-9)

	mae, _ = aifs.MAE.Get()
	rmse, _ := aifs.RMSE.Get()
	assert.InDelta(t, 1, mae, 1e-9)
	assert.InDelta(t, 1, rmse, 1e-9)

	summary := result.Summary["aifs"]
	assert.Equal(t, 1, summary.Scored)
	mean, ok := summary.MAE.Mean.Get()
	require.True(t, ok)
	assert.InDelta(t, 1, mean, 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Timesteps.WithLabelValues("scored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Timesteps.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("success")))
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.LastRunMean.WithLabelValues("aifs", "mae")), 1e-9)
	assert.Equal(t, float64(StateDone), testutil.ToFloat64(metrics.PipelineState))
}

func TestVerifier_NilDependencies(t *testing.T) {
	regridder, err := interp.NewRegridder(interp.Config{Method: interp.MethodBilinear})
	require.NoError(t, err)
	v := NewVerifier(VerifierConfig{ReferenceUnit: "K"}, &fakeReference{}, regridder, nil, nil, nil)

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{1, 2}, 1, nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scored)
	assert.Equal(t, StateDone, v.State())
}

func TestVerifier_FewerThanTwoInputs(t *testing.T) {
	ref := &fakeReference{}
	v, metrics := newVerifier(t, ref, VerifierConfig{})

	_, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1}, 0, nil)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two")
	assert.Equal(t, StateFailed, v.State())
	assert.Equal(t, 0, ref.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("failed")))
}

func TestVerifier_DuplicateNames(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{})

	_, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1}, 0, nil)},
		{Name: "ifs", Source: newSource("K", []int{1}, 0, nil)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestVerifier_CoordinateResolutionIsFatal(t *testing.T) {
	ref := &fakeReference{}
	v, _ := newVerifier(t, ref, VerifierConfig{})

	broken := newSource("K", []int{1, 2}, 0, nil)
	delete(broken.names, "t2m")

	_, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: broken},
	})
	var cre *domain.CoordinateResolutionError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, "aifs", cre.Dataset)
	assert.Equal(t, domain.RoleVariable, cre.Role)
	assert.Equal(t, 0, ref.Calls())
	assert.Equal(t, StateFailed, v.State())
}

func TestVerifier_CustomAliases(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{
		Aliases: domain.AliasTable{Variable: []string{"tas"}},
	})

	renamed := newSource("K", []int{1, 2}, 0, nil)
	delete(renamed.names, "t2m")
	renamed.names["tas"] = true

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "cmip", Source: renamed},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scored)
}

func TestVerifier_LoadFailureIsFatal(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{})

	broken := newSource("K", []int{1, 2}, 0, nil)
	broken.loadErr = errors.New("truncated file")

	_, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: broken},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"aifs"`)
	assert.Contains(t, err.Error(), "truncated file")
}

func TestVerifier_NoOverlap(t *testing.T) {
	ref := &fakeReference{}
	v, _ := newVerifier(t, ref, VerifierConfig{})

	_, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{3, 4}, 0, nil)},
	})
	var noOverlap *domain.NoOverlapError
	require.ErrorAs(t, err, &noOverlap)
	assert.Equal(t, []string{"ifs", "aifs"}, noOverlap.Datasets)
	assert.Equal(t, 0, ref.Calls())
}

func TestVerifier_AllReferenceMissing(t *testing.T) {
	ref := &fakeReference{missing: map[int]bool{1: true, 2: true}}
	v, _ := newVerifier(t, ref, VerifierConfig{})

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{1, 2}, 0, nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scored)
	assert.Len(t, result.Skipped, 2)
	assert.Empty(t, result.Records["ifs"])
	_, ok := result.Summary["ifs"].MAE.Mean.Get()
	assert.False(t, ok)
}

func TestVerifier_ConvertsForecastUnits(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{ReferenceUnit: "K"})
	toC := func(k float64) float64 { return k - 273.15 }

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("degC", []int{1, 2}, 0, toC)},
		{Name: "aifs", Source: newSource("K", []int{1, 2}, 0, nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, "K", result.Unit)
	for _, rec := range result.Records["ifs"] {
		mae, ok := rec.MAE.Get()
		require.True(t, ok)
		assert.InDelta(t, 0, mae, 1e-9)
	}
}

func TestVerifier_UnknownUnitComparedAsIs(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{ReferenceUnit: "K"})

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("kelvin-ish", []int{1}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{1}, 0, nil)},
	})
	require.NoError(t, err)
	mae, _ := result.Records["ifs"][0].MAE.Get()
	assert.InDelta(t, 0, mae, 1e-9)
}

func TestVerifier_ParallelMatchesSequential(t *testing.T) {
	hours := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	inputs := func() []ModelInput {
		return []ModelInput{
			{Name: "ifs", Source: newSource("K", hours, 0.5, nil)},
			{Name: "aifs", Source: newSource("K", hours, -0.25, nil)},
		}
	}
	missing := map[int]bool{4: true, 7: true}

	seq, _ := newVerifier(t, &fakeReference{missing: missing}, VerifierConfig{Workers: 1})
	par, _ := newVerifier(t, &fakeReference{missing: missing}, VerifierConfig{Workers: 4})

	want, err := seq.Run(context.Background(), inputs())
	require.NoError(t, err)
	got, err := par.Run(context.Background(), inputs())
	require.NoError(t, err)

	if diff := cmp.Diff(want.Records, got.Records); diff != "" {
		t.Errorf("records differ (-sequential +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(want.Skipped, got.Skipped); diff != "" {
		t.Errorf("skipped differ (-sequential +parallel):\n%s", diff)
	}
	assert.Equal(t, 8, got.Scored)
}

func TestVerifier_Cancelled(t *testing.T) {
	ref := &fakeReference{block: make(chan struct{})}
	v, _ := newVerifier(t, ref, VerifierConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Run(ctx, []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{1, 2}, 0, nil)},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, v.State())
}

func TestVerifier_SummaryStatistics(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{})

	result, err := v.Run(context.Background(), []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1, 2, 3}, 2, nil)},
		{Name: "aifs", Source: newSource("K", []int{1, 2, 3}, 0, nil)},
	})
	require.NoError(t, err)

	s := result.Summary["ifs"]
	assert.Equal(t, 3, s.MAE.Count)
	mean, _ := s.MAE.Mean.Get()
	median, _ := s.MAE.Median.Get()
	std, _ := s.MAE.StdDev.Get()
	if math.Abs(mean-2) > 1e-9 || math.Abs(median-2) > 1e-9 || math.Abs(std) > 1e-9 {
		t.Errorf("expected mean=median=2 std=0, got mean=%.6f median=%.6f std=%.6f", mean, median, std)
	}
}

func TestRunService_RejectsConcurrentRun(t *testing.T) {
	ref := &fakeReference{block: make(chan struct{})}
	v, _ := newVerifier(t, ref, VerifierConfig{})
	svc := NewRunService(v, []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1}, 0, nil)},
		{Name: "aifs", Source: newSource("K", []int{1}, 0, nil)},
	}, time.Minute, zap.NewNop())

	_, err := svc.Latest()
	assert.ErrorIs(t, err, ErrNoResult)

	done, err := svc.Start()
	require.NoError(t, err)
	assert.True(t, svc.Running())

	_, err = svc.Start()
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(ref.block)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.False(t, svc.Running())
	result, err := svc.Latest()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scored)
	assert.NoError(t, svc.LastError())
}

func TestRunService_RunNowFailure(t *testing.T) {
	v, _ := newVerifier(t, &fakeReference{}, VerifierConfig{})
	svc := NewRunService(v, []ModelInput{
		{Name: "ifs", Source: newSource("K", []int{1}, 0, nil)},
	}, 0, zap.NewNop())

	_, err := svc.RunNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, svc.LastError())
	_, err = svc.Latest()
	assert.Equal(t, svc.LastError(), err)
}

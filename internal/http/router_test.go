package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/forecast-verify/internal/domain"
	"go.ngs.io/forecast-verify/internal/usecase"
)

type fakeRuns struct {
	result  *domain.VerificationResult
	err     error
	running bool
	started int
}

func (f *fakeRuns) Start() (<-chan struct{}, error) {
	if f.running {
		return nil, usecase.ErrRunInProgress
	}
	f.started++
	done := make(chan struct{})
	close(done)
	return done, nil
}

func (f *fakeRuns) Latest() (*domain.VerificationResult, error) {
	if f.result == nil && f.err == nil {
		return nil, usecase.ErrNoResult
	}
	return f.result, f.err
}

func (f *fakeRuns) LastError() error     { return f.err }
func (f *fakeRuns) Running() bool        { return f.running }
func (f *fakeRuns) State() usecase.State { return usecase.StateDone }

func sampleResult() *domain.VerificationResult {
	t := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	records := []domain.MetricRecord{
		{Time: t, MAE: domain.DefinedMetric(1), RMSE: domain.DefinedMetric(1.5), R2: domain.Undefined, ValidCount: 4},
	}
	return &domain.VerificationResult{
		RunID:     "3f1c",
		Reference: "ERA5",
		Variable:  "t2m",
		Unit:      "K",
		Models:    []string{"IFS"},
		Records:   map[string][]domain.MetricRecord{"IFS": records},
		Summary:   map[string]domain.ModelSummary{"IFS": domain.Summarize(records)},
		Attempted: 2,
		Scored:    1,
		Skipped:   []domain.SkippedStep{{Time: t.Add(6 * time.Hour), Reason: "no reference data"}},
	}
}

func serve(t *testing.T, runs RunController, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := SetupRouter(runs)
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := serve(t, &fakeRuns{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "done", body["state"])
	assert.NotContains(t, body, "last_error")
}

func TestGetVerification_NoResultYet(t *testing.T) {
	rec := serve(t, &fakeRuns{}, http.MethodGet, "/v1/verification")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVerification_LastRunFailed(t *testing.T) {
	rec := serve(t, &fakeRuns{err: errors.New("no overlapping times")}, http.MethodGet, "/v1/verification")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no overlapping times")
}

func TestGetVerification(t *testing.T) {
	rec := serve(t, &fakeRuns{result: sampleResult()}, http.MethodGet, "/v1/verification")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID   string `json:"run_id"`
		Records map[string][]struct {
			MAE *float64 `json:"mae"`
			R2  *float64 `json:"r2"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "3f1c", body.RunID)
	require.Len(t, body.Records["IFS"], 1)
	require.NotNil(t, body.Records["IFS"][0].MAE)
	assert.Equal(t, 1.0, *body.Records["IFS"][0].MAE)
	assert.Nil(t, body.Records["IFS"][0].R2)
}

func TestGetSummary(t *testing.T) {
	rec := serve(t, &fakeRuns{result: sampleResult()}, http.MethodGet, "/v1/verification/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Attempted)
	assert.Equal(t, 1, body.Scored)
	assert.Equal(t, 1, body.Skipped)
	mean, ok := body.Models["IFS"].MAE.Mean.Get()
	assert.True(t, ok)
	assert.Equal(t, 1.0, mean)
}

func TestTriggerRun(t *testing.T) {
	runs := &fakeRuns{}
	rec := serve(t, runs, http.MethodPost, "/v1/verification/runs")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, runs.started)
}

func TestTriggerRun_Conflict(t *testing.T) {
	runs := &fakeRuns{running: true}
	rec := serve(t, runs, http.MethodPost, "/v1/verification/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, runs.started)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, &fakeRuns{}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORSAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://maps.example.org")
	gin.SetMode(gin.TestMode)
	router := SetupRouter(&fakeRuns{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://maps.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

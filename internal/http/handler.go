package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/forecast-verify/internal/domain"
	"go.ngs.io/forecast-verify/internal/usecase"
)

// RunController starts verification runs and exposes their results.
type RunController interface {
	Start() (<-chan struct{}, error)
	Latest() (*domain.VerificationResult, error)
	LastError() error
	Running() bool
	State() usecase.State
}

// Handler handles HTTP requests for verification results.
type Handler struct {
	runs RunController
}

// NewHandler creates a new HTTP handler.
func NewHandler(runs RunController) *Handler {
	return &Handler{
		runs: runs,
	}
}

// SummaryResponse is the response for GET /v1/verification/summary.
type SummaryResponse struct {
	RunID      string                         `json:"run_id"`
	FinishedAt time.Time                      `json:"finished_at"`
	Reference  string                         `json:"reference"`
	Variable   string                         `json:"variable"`
	Unit       string                         `json:"unit"`
	Attempted  int                            `json:"timestamps_attempted"`
	Scored     int                            `json:"timestamps_scored"`
	Skipped    int                            `json:"timestamps_skipped"`
	Models     map[string]domain.ModelSummary `json:"models"`
}

// GetVerification handles GET /v1/verification.
func (h *Handler) GetVerification(c *gin.Context) {
	result, ok := h.latest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSummary handles GET /v1/verification/summary.
func (h *Handler) GetSummary(c *gin.Context) {
	result, ok := h.latest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SummaryResponse{
		RunID:      result.RunID,
		FinishedAt: result.FinishedAt,
		Reference:  result.Reference,
		Variable:   result.Variable,
		Unit:       result.Unit,
		Attempted:  result.Attempted,
		Scored:     result.Scored,
		Skipped:    len(result.Skipped),
		Models:     result.Summary,
	})
}

// TriggerRun handles POST /v1/verification/runs.
func (h *Handler) TriggerRun(c *gin.Context) {
	if _, err := h.runs.Start(); err != nil {
		if errors.Is(err, usecase.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"state":   h.runs.State().String(),
		"running": h.runs.Running(),
	}
	if err := h.runs.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// latest writes an error response and returns false when no result is available.
func (h *Handler) latest(c *gin.Context) (*domain.VerificationResult, bool) {
	result, err := h.runs.Latest()
	if err == nil {
		return result, true
	}
	if errors.Is(err, usecase.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "running": h.runs.Running()})
		return nil, false
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "last verification run failed: " + err.Error()})
	return nil, false
}

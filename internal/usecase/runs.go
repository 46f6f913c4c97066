package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/domain"
)

// ErrRunInProgress is returned when a run is requested while another is executing.
var ErrRunInProgress = errors.New("a verification run is already in progress")

// ErrNoResult is returned when no run has completed yet.
var ErrNoResult = errors.New("no verification result available")

// RunService executes verification runs in the background and keeps the
// latest result for the HTTP API. At most one run executes at a time.
type RunService struct {
	verifier *Verifier
	inputs   []ModelInput
	timeout  time.Duration
	logger   *zap.Logger

	running atomic.Bool

	mu      sync.RWMutex
	latest  *domain.VerificationResult
	lastErr error
}

// NewRunService creates a RunService verifying inputs. A zero timeout means no deadline.
func NewRunService(verifier *Verifier, inputs []ModelInput, timeout time.Duration, logger *zap.Logger) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunService{verifier: verifier, inputs: inputs, timeout: timeout, logger: logger}
}

// Start launches a run in the background. The returned channel is closed
// when the run finishes.
func (s *RunService) Start() (<-chan struct{}, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	s.logger.Info("Starting background verification run", zap.Duration("timeout", s.timeout))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.running.Store(false)

		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		s.execute(ctx)
	}()
	return done, nil
}

// RunNow executes a run synchronously.
func (s *RunService) RunNow(ctx context.Context) (*domain.VerificationResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

func (s *RunService) execute(ctx context.Context) (*domain.VerificationResult, error) {
	result, err := s.verifier.Run(ctx, s.inputs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		return nil, err
	}
	s.latest = result
	s.lastErr = nil
	return result, nil
}

// Running reports whether a run is executing.
func (s *RunService) Running() bool {
	return s.running.Load()
}

// State returns the pipeline state.
func (s *RunService) State() State {
	return s.verifier.State()
}

// Latest returns the most recent successful result and the error of the
// most recent run, if it failed.
func (s *RunService) Latest() (*domain.VerificationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		if s.lastErr != nil {
			return nil, s.lastErr
		}
		return nil, ErrNoResult
	}
	return s.latest, nil
}

// LastError returns the error of the most recent run, or nil.
func (s *RunService) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

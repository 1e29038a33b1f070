package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// SideEffects runs fallible steps whose failure must not change the primary result.
// Every step is recorded in order; failures and panics are logged at warn level.
type SideEffects struct {
	logger *logger.Logger

	mu       sync.Mutex
	outcomes []models.StepOutcome
}

// NewSideEffects creates a recorder that logs through log
func NewSideEffects(log *logger.Logger) *SideEffects {
	return &SideEffects{logger: log}
}

// Attempt runs fn, records its outcome and reports whether it succeeded
func (s *SideEffects) Attempt(ctx context.Context, step string, fn func(ctx context.Context) error) bool {
	start := time.Now()
	err := safeCall(ctx, fn)
	outcome := models.StepOutcome{
		Step:     step,
		OK:       err == nil,
		Duration: time.Since(start),
	}
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Warn().Err(err).Str("step", step).Msg("best-effort step failed")
	}

	s.mu.Lock()
	s.outcomes = append(s.outcomes, outcome)
	s.mu.Unlock()

	return err == nil
}

// Outcomes returns a copy of the recorded outcomes
func (s *SideEffects) Outcomes() []models.StepOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StepOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Failed returns the names of steps that did not succeed
func (s *SideEffects) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []string
	for _, o := range s.outcomes {
		if !o.OK {
			failed = append(failed, o.Step)
		}
	}
	return failed
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

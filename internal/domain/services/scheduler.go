package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// FrameworkEvaluator runs one framework evaluation
type FrameworkEvaluator interface {
	EvaluateFrameworkControls(ctx context.Context, orgID, frameworkCode string) (*models.EvaluationResult, error)
}

// RunStatus represents the status of a recompute sweep
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// SchedulerRun records one sweep over every enabled (org, framework) pair
type SchedulerRun struct {
	ID          uuid.UUID     `json:"id"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Evaluated   int           `json:"evaluated"`
	Empty       int           `json:"empty"`
	Denied      int           `json:"denied"`
	Failed      int           `json:"failed"`
	Error       string        `json:"error,omitempty"`
}

const sweepLockKey = "scheduler:sweep"

// Scheduler periodically re-evaluates every enabled framework of every organization
type Scheduler struct {
	cfg        config.SchedulerConfig
	compliance ComplianceStore
	evaluator  FrameworkEvaluator
	locker     Locker
	logger     *logger.Logger

	mu      sync.RWMutex
	last    *SchedulerRun
	runs    int
	running bool
	stopCh  chan struct{}
}

// NewScheduler creates a new Scheduler. locker may be nil for a single replica.
func NewScheduler(cfg config.SchedulerConfig, compliance ComplianceStore, evaluator FrameworkEvaluator, locker Locker, log *logger.Logger) *Scheduler {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &Scheduler{
		cfg:        cfg,
		compliance: compliance,
		evaluator:  evaluator,
		locker:     locker,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("workers", s.cfg.WorkerPoolSize).
		Msg("scheduler started")

	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-initial.C:
			s.RunOnce(ctx)
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	s.logger.Info().Msg("scheduler stopped")
}

// RunOnce sweeps every enabled (org, framework) pair through the worker pool
func (s *Scheduler) RunOnce(ctx context.Context) *SchedulerRun {
	run := &SchedulerRun{ID: uuid.New(), Status: RunStatusRunning, StartedAt: time.Now()}
	log := s.logger.WithRun(run.ID.String())

	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.cfg.Interval)
		if err != nil || !ok {
			if err == nil {
				err = ErrLockHeld
			}
			log.Warn().Err(err).Msg("could not acquire sweep lock, skipping")
			run.Status = RunStatusSkipped
			run.Error = err.Error()
			s.finish(run)
			return run
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				log.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	pairs, err := s.compliance.ListOrgFrameworks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list enabled frameworks")
		run.Status = RunStatusFailed
		run.Error = err.Error()
		s.finish(run)
		return run
	}

	jobs := make(chan models.OrgFramework)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range s.cfg.WorkerPoolSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pair := range jobs {
				outcome := s.evaluate(ctx, pair)
				mu.Lock()
				switch outcome {
				case outcomeEvaluated:
					run.Evaluated++
				case outcomeEmpty:
					run.Empty++
				case outcomeDenied:
					run.Denied++
				default:
					run.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- pair:
		}
	}
	close(jobs)
	wg.Wait()

	run.Status = RunStatusCompleted
	s.finish(run)

	log.Info().
		Int("pairs", len(pairs)).
		Int("evaluated", run.Evaluated).
		Int("denied", run.Denied).
		Int("failed", run.Failed).
		Dur("duration", run.Duration).
		Msg("recompute sweep completed")

	return run
}

type sweepOutcome int

const (
	outcomeEvaluated sweepOutcome = iota
	outcomeEmpty
	outcomeDenied
	outcomeFailed
)

func (s *Scheduler) evaluate(ctx context.Context, pair models.OrgFramework) sweepOutcome {
	code := models.FrameworkCodeForSlug(pair.FrameworkSlug)
	result, err := s.evaluator.EvaluateFrameworkControls(ctx, pair.OrgID, code)
	switch {
	case errors.Is(err, ErrEntitlementDenied):
		s.logger.Debug().Str("org_id", pair.OrgID).Str("framework", code).Msg("skipping org without entitlement")
		return outcomeDenied
	case err != nil:
		s.logger.Error().Err(err).Str("org_id", pair.OrgID).Str("framework", code).Msg("evaluation failed")
		return outcomeFailed
	case result == nil:
		return outcomeEmpty
	default:
		return outcomeEvaluated
	}
}

func (s *Scheduler) finish(run *SchedulerRun) {
	now := time.Now()
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt)

	s.mu.Lock()
	s.last = run
	s.runs++
	s.mu.Unlock()
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SchedulerStats{
		Running:   s.running,
		TotalRuns: s.runs,
		Interval:  s.cfg.Interval,
	}
	if s.last != nil {
		last := *s.last
		stats.LastRun = &last
	}
	return stats
}

// SchedulerStats holds scheduler statistics
type SchedulerStats struct {
	Running   bool          `json:"running"`
	TotalRuns int           `json:"total_runs"`
	Interval  time.Duration `json:"interval"`
	LastRun   *SchedulerRun `json:"last_run,omitempty"`
}

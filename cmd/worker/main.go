package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/services"
	"formaos-compliance/internal/infrastructure/cache"
	"formaos-compliance/internal/infrastructure/database"
	"formaos-compliance/internal/infrastructure/database/repository"
	"formaos-compliance/internal/streaming"
	"formaos-compliance/pkg/logger"
)

const (
	historyName = "recompute"
	historyKeep = 100

	maxRetries     = 3
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.FromConfig(cfg.App.Environment, cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.TimeFormat).WithService(cfg.App.Name)
	log = log.WithComponent("recompute-worker")
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting recompute worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, redisCache, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer func() {
		db.Close()
		_ = redisCache.Close()
	}()

	var publisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		publisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, sweep events stay local")
		} else {
			defer publisher.Close()
		}
	}

	worker := NewRecomputeWorker(cfg, repository.NewRepositories(db.Pool(), log), redisCache, publisher, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("worker stopped with error")
			cancel()
		}
	}()

	select {
	case <-quit:
	case <-done:
	}
	log.Info().Msg("shutting down recompute worker...")
	cancel()

	select {
	case <-done:
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn().Msg("worker did not stop in time")
	}
	log.Info().Msg("shutdown complete")
}

// RecomputeWorker runs scheduler sweeps outside the API process
type RecomputeWorker struct {
	config    *config.Config
	cache     *cache.RedisCache
	scheduler *services.Scheduler
	logger    *logger.Logger
}

// NewRecomputeWorker wires an evaluator and scheduler over the repositories.
// publisher may be nil.
func NewRecomputeWorker(
	cfg *config.Config,
	repos *repository.Repositories,
	redisCache *cache.RedisCache,
	publisher *streaming.NATSPublisher,
	log *logger.Logger,
) *RecomputeWorker {
	var broker streaming.Broker
	if publisher != nil {
		broker = publisher
	}
	events := streaming.NewEventBusPublisher(streaming.NewEventBus(broker, log), nil)

	evaluator := services.NewEvaluator(cfg.Evaluation, services.EvaluatorDeps{
		Compliance:   repos.Compliance,
		Evidence:     repos.Evidence,
		Evaluations:  repos.Evaluations,
		Blocks:       repos.Blocks,
		ActivityLog:  repos.Audit,
		Schema:       services.NewSchemaDetector(repos.Compliance),
		Entitlements: repos.Entitlements,
		Audit:        repos.Audit,
		Activity:     repos.Audit,
		Events:       events,
		Locker:       redisCache,
		Cache:        redisCache,
	}, log)

	return &RecomputeWorker{
		config:    cfg,
		cache:     redisCache,
		scheduler: services.NewScheduler(cfg.Scheduler, repos.Compliance, evaluator, redisCache, log),
		logger:    log,
	}
}

// Run sweeps immediately and then on every scheduler interval
func (w *RecomputeWorker) Run(ctx context.Context) error {
	interval := w.config.Scheduler.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	w.logger.Info().
		Dur("interval", interval).
		Int("workers", w.config.Scheduler.WorkerPoolSize).
		Int("max_retries", maxRetries).
		Msg("starting recompute loop")

	w.runWithRetry(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("recompute loop stopped")
			return ctx.Err()
		case <-ticker.C:
			w.runWithRetry(ctx)
		}
	}
}

// runWithRetry repeats failed sweeps with exponential backoff. Skipped sweeps
// (another instance holds the lock) are not retried.
func (w *RecomputeWorker) runWithRetry(ctx context.Context) {
	var last *services.SchedulerRun

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			w.logger.Info().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying sweep after delay")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		last = w.scheduler.RunOnce(ctx)
		w.recordRun(ctx, last)

		if last.Status != services.RunStatusFailed {
			return
		}
		w.logger.Warn().
			Str("error", last.Error).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Msg("sweep failed")
	}

	w.logger.Error().
		Str("error", last.Error).
		Int("attempts", maxRetries+1).
		Msg("sweep failed after all retries")
}

func (w *RecomputeWorker) recordRun(ctx context.Context, run *services.SchedulerRun) {
	if err := w.cache.PushHistory(ctx, historyName, run, historyKeep); err != nil {
		w.logger.Warn().Err(err).Msg("failed to record sweep history")
	}
}

// calculateBackoff calculates exponential backoff delay
func calculateBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	return min(delay, maxRetryDelay)
}

// initInfrastructure connects to PostgreSQL and Redis. Redis is required for
// the cross-instance sweep lock.
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, *cache.RedisCache, error) {
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return db, redisCache, nil
}

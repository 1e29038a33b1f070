package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formaos-compliance/internal/api"
	"formaos-compliance/internal/api/handlers"
	apimiddleware "formaos-compliance/internal/api/middleware"
	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/services"
	"formaos-compliance/internal/frameworks"
	grpchealth "formaos-compliance/internal/grpc/health"
	"formaos-compliance/internal/infrastructure/cache"
	"formaos-compliance/internal/infrastructure/database"
	"formaos-compliance/internal/infrastructure/database/repository"
	"formaos-compliance/internal/infrastructure/graph"
	"formaos-compliance/internal/streaming"
	"formaos-compliance/pkg/logger"
)

// infrastructure holds the optional backing services. Only db is required.
type infrastructure struct {
	db    *database.PostgresDB
	redis *cache.RedisCache
	neo4j *graph.Neo4jClient
	nats  *streaming.NATSPublisher
}

func (i *infrastructure) close() {
	if i.nats != nil {
		i.nats.Close()
	}
	if i.neo4j != nil {
		_ = i.neo4j.Close(context.Background())
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		i.db.Close()
	}
}

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.FromConfig(cfg.App.Environment, cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.TimeFormat).WithService(cfg.App.Name)
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Bool("framework_engine", cfg.Features.EnableFrameworkEngine).
		Msg("starting compliance engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := initInfrastructure(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize infrastructure")
	}
	defer infra.close()

	repos := repository.NewRepositories(infra.db.Pool(), log)

	// Events fan out to NATS (when connected), local subscribers and WebSocket clients
	var broker streaming.Broker
	if infra.nats != nil {
		broker = infra.nats
	}
	eventBus := streaming.NewEventBus(broker, log)
	defer eventBus.Close()

	wsHub := streaming.NewWebSocketHub(cfg.CORS.AllowedOrigins, log)
	go wsHub.Run(ctx)

	events := streaming.NewEventBusPublisher(eventBus, wsHub)

	var mappingGraph services.MappingGraph
	if infra.neo4j != nil {
		mappingGraph = graph.NewGraphRepository(infra.neo4j, log)
	}

	var embedded fs.FS
	if cfg.Packs.Embedded {
		embedded = frameworks.Packs()
	}

	schema := services.NewSchemaDetector(repos.Compliance)
	loader := services.NewCatalogLoader(repos.Catalog, mappingGraph, events, log)
	installer := services.NewPackInstaller(loader, repos.Catalog, repos.Compliance, schema, embedded, cfg.Packs.Dir, log)
	registry := services.NewRegistry(cfg.Features, repos.Catalog, installer, mappingGraph, log)
	provisioner := services.NewProvisioner(cfg.Features, installer, repos.Catalog, repos.Compliance, repos.Evidence, repos.Evaluations, schema, events, log)

	deps := services.EvaluatorDeps{
		Compliance:   repos.Compliance,
		Evidence:     repos.Evidence,
		Evaluations:  repos.Evaluations,
		Blocks:       repos.Blocks,
		ActivityLog:  repos.Audit,
		Schema:       schema,
		Entitlements: repos.Entitlements,
		Audit:        repos.Audit,
		Activity:     repos.Audit,
		Events:       events,
	}

	// Redis serializes evaluations across instances; without it locks are process local
	var locker services.Locker = services.NewLocalLocker()
	if infra.redis != nil {
		locker = infra.redis
		deps.Cache = infra.redis
		provisioner.WithSnapshotCache(infra.redis)
	}
	deps.Locker = locker

	evaluator := services.NewEvaluator(cfg.Evaluation, deps, log)
	readiness := services.NewReadinessProjector(evaluator, log)

	if cfg.Features.EnableFrameworkEngine {
		if err := installer.EnsureInstalled(ctx); err != nil {
			log.Warn().Err(err).Msg("framework pack install failed, catalog may be incomplete")
		}
	}

	checks := healthChecks(infra)

	h := handlers.NewHandlers(handlers.Dependencies{
		Catalog:     registry,
		Loader:      loader,
		Installer:   installer,
		Provisioner: provisioner,
		Evaluator:   evaluator,
		Readiness:   readiness,
		Checks:      checks,
		Version:     cfg.App.Version,
		Logger:      log,
	})

	var limits apimiddleware.RateLimitStore
	if infra.redis != nil {
		limits = infra.redis
	}
	router := api.NewRouter(*cfg, h, limits, wsHub.ServeWebSocket, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcChecks := make(map[string]grpchealth.Check, len(checks))
	for name, check := range checks {
		grpcChecks[name] = grpchealth.Check(check)
	}
	healthServer := grpchealth.NewServer(grpcChecks, log)
	grpcServer := grpchealth.NewGRPCServer(log)
	healthServer.Register(grpcServer)
	go healthServer.Run(ctx, 10*time.Second)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	var scheduler *services.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = services.NewScheduler(cfg.Scheduler, repos.Compliance, evaluator, locker, log)
		go func() {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("scheduler stopped with error")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	healthServer.Shutdown()
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*infrastructure, error) {
	infra := &infrastructure{}

	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	infra.db = db

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing with local locks and no snapshot cache")
		} else {
			infra.redis = redisCache
		}
	}

	if cfg.Neo4j.Enabled {
		client, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Neo4j, related-control lookups disabled")
		} else {
			infra.neo4j = client
		}
	}

	if cfg.NATS.Enabled {
		publisher, err := streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing with local events only")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
			infra.nats = publisher
		}
	}

	return infra, nil
}

func healthChecks(infra *infrastructure) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": infra.db.Ping,
	}
	if infra.redis != nil {
		checks["redis"] = infra.redis.Ping
	}
	if infra.neo4j != nil {
		checks["neo4j"] = infra.neo4j.Health
	}
	if infra.nats != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !infra.nats.IsConnected() {
				return streaming.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

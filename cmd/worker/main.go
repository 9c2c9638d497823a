// Package main - точка входа воркера Nur Learning Hub.
//
// Воркер держит движок прогресса целиком:
// - HTTP API для плеера уроков и экрана прогресса
// - приём снимков с устройств из Redis Stream и их слияние
// - еженедельная выдача заморозок серии
// - публикация доменных событий и сброс кэша профилей
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nurkids/nur-learning-hub/config"
	"github.com/nurkids/nur-learning-hub/internal/application/command"
	"github.com/nurkids/nur-learning-hub/internal/application/eventhandler"
	"github.com/nurkids/nur-learning-hub/internal/application/query"
	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/internal/infrastructure/messaging"
	"github.com/nurkids/nur-learning-hub/internal/infrastructure/persistence/postgres"
	"github.com/nurkids/nur-learning-hub/internal/infrastructure/persistence/redis"
	"github.com/nurkids/nur-learning-hub/internal/infrastructure/scheduler"
	"github.com/nurkids/nur-learning-hub/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/nurkids/nur-learning-hub/internal/interface/http"
	"github.com/nurkids/nur-learning-hub/internal/interface/http/handlers"
	"github.com/nurkids/nur-learning-hub/pkg/circuitbreaker"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus is what both bus implementations provide.
type eventBus interface {
	shared.EventBus
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.InstanceID == "" {
		cfg.App.InstanceID = "worker-" + uuid.NewString()[:8]
	}

	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting Nur Learning Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("instance", cfg.App.InstanceID),
		logger.String("timezone", cfg.App.Timezone),
	)
	for _, f := range cfg.Features.All() {
		log.Debug("feature flag", logger.String("name", f.Name), logger.Bool("enabled", f.Enabled))
	}

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	catalog := postgres.NewCatalogRepository(dbConn.Pool())
	if cfg.Engine.CatalogFile != "" {
		n, err := seedCatalog(ctx, catalog, cfg.Engine.CatalogFile)
		if err != nil {
			return fmt.Errorf("failed to seed lesson catalog: %w", err)
		}
		log.Info("lesson catalog seeded", logger.Int("lessons", n))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально в разработке)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache   *redis.Cache
		locker       command.KeyLocker = command.NewLocalKeyLocker()
		profileCache query.ProfileCache
		invalidator  eventhandler.ProfileInvalidator
		deduper      command.SnapshotDeduper
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisCache.Close()

		locker = redis.NewKeyLocker(redisCache, cfg.Engine.LockTTL, log)
		pc := redis.NewProfileCache(redisCache, cfg.Engine.ProfileCacheTTL)
		profileCache, invalidator = pc, pc
		deduper = redis.NewSnapshotDeduper(redisCache, cfg.Engine.DedupeTTL)
	} else {
		log.Warn("Redis disabled: in-process locks, no profile cache, no snapshot feed")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Events.Async,
		WorkerPoolSize: cfg.Events.WorkerPoolSize,
		Middlewares:    messaging.DefaultMiddlewares(log),
		Logger:         log,
		EnableMetrics:  true,
	}

	var bus eventBus
	if redisCache != nil && cfg.Features.EventFanoutEnabled() {
		bus, err = messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         redisCache.Client(),
			Channel:        cfg.Events.Channel,
			InstanceID:     cfg.App.InstanceID,
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event fan-out: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if invalidator != nil {
		if err := eventhandler.NewOnProfileChangedHandler(invalidator, log).Register(bus); err != nil {
			return fmt.Errorf("failed to register event handlers: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	uow := postgres.NewUnitOfWorkFactory(dbConn)

	phaseConfig := command.DefaultCompletePhaseHandlerConfig()
	phaseConfig.CategoryBonus = cfg.Features.CategoryBonusEnabled()

	completePhase := command.NewCompletePhaseHandler(uow, catalog, locker, bus, log, phaseConfig)
	submitPractice := command.NewSubmitPracticeAnswerHandler(uow, locker, bus, log, nil)
	restartLesson := command.NewRestartLessonHandler(uow, locker, bus, log, nil)
	recordFamily := command.NewRecordFamilyActivityHandler(uow, catalog, locker, bus, log, nil, nil)
	markSeen := command.NewMarkAchievementSeenHandler(uow, log)
	resetLearner := command.NewResetLearnerHandler(uow, locker, bus, log, nil, nil)
	grantFreeze := command.NewGrantFreezeHandler(uow, locker, bus, log, nil)

	reconcileConfig := command.DefaultReconcileSnapshotHandlerConfig()
	reconcileConfig.Deduper = deduper
	reconcileSnapshot := command.NewReconcileSnapshotHandler(uow, catalog, locker, bus, log, reconcileConfig)
	reconcileBatch := command.NewReconcileBatchHandler(reconcileSnapshot, cfg.Engine.ReconcileConcurrency, log)

	getProgress := query.NewGetLearnerProgressHandler(
		postgres.NewLearnerRepository(dbConn.Pool()),
		postgres.NewProgressRepository(dbConn.Pool()),
		postgres.NewAchievementRepository(dbConn.Pool()),
		profileCache,
		log,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SNAPSHOT FEED
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.StoreBreaker(shared.IsRetryable, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	})

	var feed *redis.SnapshotFeed
	if redisCache != nil {
		feedConfig := redis.DefaultFeedConfig(cfg.App.InstanceID)
		feedConfig.BatchSize = cfg.Engine.SnapshotBatchSize
		feedConfig.Block = cfg.Engine.SnapshotBlock
		feedConfig.ReclaimIdle = cfg.Engine.SnapshotReclaimIdle
		feed = redis.NewSnapshotFeed(redisCache, feedConfig, breaker, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(dbConn))
	if redisCache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(redisCache))
	}
	health.AddCheck("snapshot_store_breaker", func(context.Context) error {
		if breaker.IsOpen() {
			return circuitbreaker.ErrCircuitOpen
		}
		return nil
	})

	deps := httpserver.Dependencies{
		CompletePhase:       completePhase,
		SubmitPractice:      submitPractice,
		RestartLesson:       restartLesson,
		RecordFamily:        recordFamily,
		MarkAchievementSeen: markSeen,
		ResetLearner:        resetLearner,
		GetProgress:         getProgress,
		HealthChecker:       health,
		Logger:              log,
	}
	if feed != nil && cfg.Features.SnapshotAPIEnabled() {
		deps.Snapshots = feed
	}
	server := httpserver.NewServer(httpConfig(cfg.HTTP), deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		EnableMetrics: true,
	})
	if cfg.Features.FreezeGrantsEnabled() {
		schedule, err := scheduler.ParseCronExpressionIn(cfg.Scheduler.FreezeGrantCron, cfg.App.Location)
		if err != nil {
			return fmt.Errorf("invalid freeze grant schedule: %w", err)
		}
		job := jobs.NewGrantFreezesJob(
			postgres.NewLearnerRepository(dbConn.Pool()),
			grantFreeze,
			jobs.GrantFreezesConfig{
				Concurrency: cfg.Scheduler.FreezeConcurrency,
				Timeout:     cfg.Scheduler.JobTimeout,
			},
			log,
		)
		if err := sched.Register(job, schedule); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if feed != nil && cfg.Features.RemoteReconcileEnabled() {
		handle := reconcileBatchFunc(reconcileBatch)
		g.Go(func() error { return feed.Run(gctx, handle) })
	}

	if cfg.Scheduler.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	}

	log.Info("Nur Learning Hub worker is running",
		logger.String("http", cfg.HTTP.Host+fmt.Sprintf(":%d", cfg.HTTP.Port)))

	err = g.Wait()
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// reconcileBatchFunc adapts the batch command to the feed's callback.
func reconcileBatchFunc(h *command.ReconcileBatchHandler) redis.SnapshotBatchHandler {
	return func(ctx context.Context, snaps []reconcile.Snapshot) (map[int]error, error) {
		res, err := h.Handle(ctx, command.ReconcileBatchCommand{
			Snapshots:     snaps,
			CorrelationID: uuid.NewString(),
		})
		if err != nil {
			return nil, err
		}
		return res.Failures, nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("instance", cfg.App.InstanceID),
	)
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.Host, pc.Port, pc.Database = c.Host, c.Port, c.Name
	pc.User, pc.Password, pc.SSLMode = c.User, c.Password, c.SSLMode
	pc.MaxConns, pc.MinConns = c.MaxConns, c.MinConns
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host, rc.Port = c.Host, c.Port
	rc.Password, rc.DB = c.Password, c.DB
	rc.PoolSize, rc.MinIdleConns = c.PoolSize, c.MinIdleConns
	rc.DialTimeout, rc.ReadTimeout, rc.WriteTimeout = c.DialTimeout, c.ReadTimeout, c.WriteTimeout
	return rc
}

func httpConfig(c config.HTTPConfig) httpserver.Config {
	return httpserver.Config{
		Host:         c.Host,
		Port:         c.Port,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
		MaxBodyBytes: c.MaxBodyBytes,
	}
}

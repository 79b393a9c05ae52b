package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	apihttp "github.com/spec-kit/query-management/internal/api/http"
	"github.com/spec-kit/query-management/internal/api/http/handlers"
	"github.com/spec-kit/query-management/internal/approval"
	"github.com/spec-kit/query-management/internal/auth"
	"github.com/spec-kit/query-management/internal/config"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/events"
	"github.com/spec-kit/query-management/internal/matcher"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/persistence"
	"github.com/spec-kit/query-management/internal/repository"
	"github.com/spec-kit/query-management/internal/service"
	"github.com/spec-kit/query-management/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	postgres, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer postgres.Close()

	var (
		ticketRepo repository.TicketRepository
		userRepo   repository.UserRepository
		refRepo    repository.ReferenceRepository
	)
	if pool := postgres.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
		}
		ticketRepo = repository.NewTicketRepository(pool)
		userRepo = repository.NewUserRepository(pool)
		refRepo = repository.NewReferenceRepository(pool)
	} else {
		logger.Warn("running with in-memory stores; data will not survive restart")
		ticketRepo = repository.NewMemoryTicketRepository()
		userRepo = repository.NewMemoryUserRepository()
		refRepo = repository.NewMemoryReferenceRepository()
	}

	// With in-memory stores there is a single process by definition, so the
	// channel locker suffices and redis is not required to boot.
	var redisStore *persistence.Redis
	var locker engine.Locker
	if postgres.PoolHandle() != nil {
		redisStore = persistence.NewRedis(cfg.Redis, logger)
		defer redisStore.Close()
		locker = engine.NewRedisLocker(redisStore.Client, 30*time.Second)
	} else {
		locker = engine.NewMemoryLocker()
	}

	dispatcher := events.NewInMemoryDispatcher(logger)

	eng := engine.New(engine.Dependencies{
		TicketRepo: ticketRepo,
		UserRepo:   userRepo,
		Matcher:    matcher.New(refRepo),
		Locker:     locker,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	approvalTokens := approval.NewTokenService(cfg.Approval)
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Tokens:     approvalTokens,
		UserRepo:   userRepo,
		Notifier:   service.NewLogNotifier(logger, cfg.Notification),
		Logger:     logger,
		BaseURL:    cfg.App.BaseURL,
	})
	notifications.RegisterHandlers()

	authService := service.NewAuthService(*cfg, userRepo)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:    ticketRepo,
		ReferenceRepo: refRepo,
		Engine:        eng,
	})
	analyticsService := service.NewAnalyticsService(ticketRepo)

	app := apihttp.NewApp(apihttp.RouterDependencies{
		ReadTimeout: cfg.App.RequestTimeout(),

		Logger:    logger,
		Metrics:   metrics,
		Auth:      auth.NewAuthMiddleware(authService.TokenManager(), userRepo),
		Health:    handlers.NewHealthHandler(postgres, redisStore),
		Users:     handlers.NewUsersHandler(authService),
		Tickets:   handlers.NewTicketsHandler(ticketService),
		Analytics: handlers.NewAnalyticsHandler(analyticsService),
		Approvals: handlers.NewApprovalsHandler(approvalTokens, eng, logger),
	})

	agent := worker.NewBatchAgent(eng, ticketRepo, logger, metrics, cfg.Agent)
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		agent.Run(ctx)
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	select {
	case <-agentDone:
	case <-shutdownCtx.Done():
		logger.Warn("batch agent did not stop in time")
	}
	logger.Info("stopped")
}

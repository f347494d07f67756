package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/lumina-api/internal/api/http"
	"github.com/spec-kit/lumina-api/internal/api/http/handlers"
	"github.com/spec-kit/lumina-api/internal/auth"
	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/observability"
	"github.com/spec-kit/lumina-api/internal/persistence"
	"github.com/spec-kit/lumina-api/internal/realtime"
	"github.com/spec-kit/lumina-api/internal/repository"
	"github.com/spec-kit/lumina-api/internal/revocation"
	"github.com/spec-kit/lumina-api/internal/service"
	"github.com/spec-kit/lumina-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	var store revocation.Store
	switch cfg.Auth.RevocationBackend {
	case "redis":
		store = revocation.NewRedisStore(redis.Client)
		logger.Info("using redis revocation store")
	default:
		memStore := revocation.NewMemoryStore()
		go memStore.RunJanitor(ctx, time.Minute)
		store = memStore
	}

	codec := auth.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.JWTKeyID)
	issuer := auth.NewIssuer(codec, store, cfg.Auth)
	validator := auth.NewValidator(codec, store, cfg.Auth)

	registry := realtime.NewRegistry(validator, cfg.Realtime.OutboundQueueSize, logger)
	dispatcher := realtime.NewDispatcher(registry, logger, metrics)

	// Refresh token reuse revokes every session of the subject; the same
	// signal tears down the subject's live connections.
	issuer.OnRevokeAll(func(subject string) {
		registry.EvictSubject(subject)
	})

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	sessions := service.NewSessionService(*cfg, service.SessionDependencies{
		UserRepo: userRepo,
		Issuer:   issuer,
		Registry: registry,
		Logger:   logger,
	})

	bridge := worker.NewEventBridge(redis.Client, cfg.Redis.EventChannel, dispatcher, logger)
	go bridge.Run(ctx)

	authMiddleware := auth.NewMiddleware(validator)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, registry),
		Auth:           handlers.NewAuthHandler(sessions),
		WS:             handlers.NewWSHandler(registry, logger, metrics, cfg.Realtime.WriteTimeout()),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	registry.CloseAll()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

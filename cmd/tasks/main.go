package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskmanager/internal/auth"
	"taskmanager/internal/logger"
	"taskmanager/internal/metrics"
	"taskmanager/internal/ratelimit"
	"taskmanager/internal/server"
	"taskmanager/internal/suggest"
	"taskmanager/internal/tasks"
	"taskmanager/repository/db"
	storage "taskmanager/repository/inmemory"
	"taskmanager/repository/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Store is everything the service needs from a backend.
type Store interface {
	tasks.Store
	auth.UserStore
	server.HealthChecker
	Close()
}

// API is the lifecycle of the HTTP server.
type API interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func main() {
	cfg, err := server.LoadConfig(os.Args[1:])
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(2)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)
	log.Info("starting task service", slog.String("storage", cfg.Storage), slog.String("environment", cfg.Environment))
	if cfg.JWTSecret == server.DefaultJWTSecret {
		log.Warn("JWT_SECRET is not set, using the development default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, log)
	defer store.Close()

	limiter, closeLimiter := newLimiter(cfg, log)
	defer closeLimiter()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	accounts := auth.NewService(store, auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
		auth.WithBcryptCost(cfg.BcryptCost), auth.WithLogger(log))

	gemini, err := suggest.NewGeminiClient(ctx, suggest.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.SuggestTimeout,
	})
	if err != nil {
		log.Error("failed to create suggestion client", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, task generation will fail")
	}
	engine := tasks.NewEngine(store,
		tasks.WithSuggester(suggest.NewCoalescing(gemini)),
		tasks.WithMetrics(collector),
		tasks.WithLogger(log),
	)

	api := server.NewTaskAPI(server.Deps{
		Accounts: accounts,
		Tasks:    engine,
		Health:   store,
		Limiter:  limiter,
		Metrics:  collector,
		Gatherer: reg,
		Logger:   log,
	}, cfg)
	if api == nil {
		log.Error("failed to initialise API")
		os.Exit(1)
	}

	if err := serve(ctx, api, cfg.ShutdownTimeout, log); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("task service stopped")
}

// openStore picks the configured backend. An unreachable Postgres falls
// back to memory so the service still starts.
func openStore(ctx context.Context, cfg *server.Config, log *slog.Logger) Store {
	switch cfg.Storage {
	case server.StorageMemory:
		log.Info("using in-memory storage")
		return storage.NewStorage()

	case server.StorageSQLite:
		s, err := sqlite.NewStorage(cfg.SQLitePath, log)
		if err != nil {
			log.Warn("failed to open sqlite, using memory", slog.String("path", cfg.SQLitePath), slog.Any("error", err))
			return storage.NewStorage()
		}
		log.Info("using sqlite storage", slog.String("path", cfg.SQLitePath))
		return s

	default:
		if cfg.Migrate {
			if err := db.Migration(cfg.DBStr); err != nil {
				log.Warn("failed to apply migrations", slog.Any("error", err))
			} else {
				log.Info("migrations applied")
			}
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := db.NewStorage(connectCtx, cfg.DBStr, log)
		if err != nil {
			log.Warn("failed to connect to postgres, using memory", slog.Any("error", err))
			return storage.NewStorage()
		}
		log.Info("using postgres storage")
		return s
	}
}

// newLimiter returns the Redis limiter when an address is configured and
// reachable, otherwise the in-process one.
func newLimiter(cfg *server.Config, log *slog.Logger) (ratelimit.Limiter, func()) {
	rlCfg := ratelimit.Config{Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			log.Info("using redis rate limiter", slog.String("addr", cfg.RedisAddr))
			return ratelimit.NewRedisLimiter(client, rlCfg, ""), func() { _ = client.Close() }
		}
		log.Warn("redis unreachable, using in-memory rate limiter", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
		_ = client.Close()
	}

	mem := ratelimit.NewMemoryLimiter(rlCfg)
	return mem, mem.Stop
}

// serve runs api until ctx is cancelled or the server fails, then shuts it
// down within timeout.
func serve(ctx context.Context, api API, timeout time.Duration, log *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- api.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		return errors.Join(errors.New("graceful shutdown failed"), err)
	}
	if err := <-serverErr; err != nil {
		return err
	}
	log.Info("graceful shutdown complete")
	return nil
}

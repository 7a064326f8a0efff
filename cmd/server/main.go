package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/internal/api"
	"github.com/eldtechnologies/chatmesh/internal/api/middleware"
	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/config"
	"github.com/eldtechnologies/chatmesh/internal/dispatch"
	"github.com/eldtechnologies/chatmesh/internal/handlers"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/presence"
	"github.com/eldtechnologies/chatmesh/internal/ratelimit"
	"github.com/eldtechnologies/chatmesh/internal/routing"
	"github.com/eldtechnologies/chatmesh/internal/store"
	"github.com/eldtechnologies/chatmesh/internal/transport"
	"github.com/eldtechnologies/chatmesh/internal/validation"
)

// logDeliverer stands in for the Redis transport when REDIS_URL is unset.
type logDeliverer struct {
	logger zerolog.Logger
}

func (d logDeliverer) Deliver(_ context.Context, env models.Envelope, recipients []uuid.UUID) error {
	d.logger.Info().
		Str("message_id", env.ID.String()).
		Str("channel", env.Channel.String()).
		Int("recipients", len(recipients)).
		Msg("no transport configured, envelope not fanned out")
	return nil
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Channel catalog source
	var source catalog.Source = catalog.DefaultSource{}
	switch {
	case cfg.DatabaseURL != "":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		seedCatalog(ctx, logger, pgStore)
		source = pgStore
		logger.Info().Msg("channel catalog backed by PostgreSQL")
	case cfg.SQLitePath != "":
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		seedCatalog(ctx, logger, sqliteStore)
		source = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("channel catalog backed by SQLite")
	case cfg.CatalogFile != "":
		source = catalog.FileSource{Path: cfg.CatalogFile}
		logger.Info().Str("path", cfg.CatalogFile).Msg("channel catalog backed by file")
	}

	cat := catalog.New(source, logger)
	if err := cat.Reload(ctx); err != nil {
		logger.Fatal().Err(err).Msg("channel catalog load failed")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Channel rate limiter
	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == config.BackendRedis {
		limiter = ratelimit.NewRedis(redisStore.Client())
	} else {
		mem := ratelimit.NewMemory()
		go sweepLimiter(ctx, mem)
		limiter = mem
	}

	registry := presence.NewRegistry()
	router := routing.NewRouter(cat, registry, logger,
		routing.WithPositionCache(cfg.PositionCacheSize, cfg.PositionCacheTTL))
	policy := validation.NewPolicy(cat, limiter, logger)

	var deliverer dispatch.Deliverer = logDeliverer{logger: logger}
	if redisStore != nil {
		deliverer = transport.NewPublisher(transport.NewRedisBus(redisStore.Client()))
	}
	dispatcher := dispatch.New(policy, router, registry, deliverer, logger)

	if redisStore != nil {
		srv := transport.NewServer(redisStore.Client(), transport.NewRedisBus(redisStore.Client()), dispatcher, cat, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Fatal().Err(err).Msg("transport server failed")
			}
		}()
	}

	// HTTP surface
	var pinger handlers.Pinger
	var counter middleware.Counter = middleware.NewMemoryCounter(10 * time.Minute)
	var blocker middleware.Blocker = middleware.NewMemoryBlocker()
	if redisStore != nil {
		pinger = redisStore
		counter = middleware.NewRedisCounter(redisStore.Client())
		blocker = middleware.NewRedisBlocker(redisStore.Client())
	}
	httpLimiter := middleware.NewRateLimiter(counter, blocker, logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	handler := handlers.NewHandler(cat, dispatcher, registry, pinger, logger)
	mux := api.NewRouter(api.Options{
		Logger:      logger,
		Handler:     handler,
		RateLimiter: httpLimiter,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Int("channels", cat.Len()).
			Msg("starting chatmesh server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	stop()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// seedCatalog writes the built-in channels into an empty registry table.
func seedCatalog(ctx context.Context, logger zerolog.Logger, s store.ChannelStore) {
	n, err := s.SeedChannelConfigs(ctx, catalog.Defaults())
	if err != nil {
		logger.Fatal().Err(err).Msg("seeding channel registry failed")
	}
	if n > 0 {
		logger.Info().Int("channels", n).Msg("seeded channel registry")
	}
}

func sweepLimiter(ctx context.Context, mem *ratelimit.Memory) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mem.Sweep(now)
		}
	}
}

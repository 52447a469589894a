package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/recelilious/Anicargo/internal/api"
	"github.com/recelilious/Anicargo/internal/auth"
	"github.com/recelilious/Anicargo/internal/cache"
	"github.com/recelilious/Anicargo/internal/catalog"
	"github.com/recelilious/Anicargo/internal/config"
	"github.com/recelilious/Anicargo/internal/hls"
	"github.com/recelilious/Anicargo/internal/jobs"
	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/matcher"
	"github.com/recelilious/Anicargo/internal/metrics"
	"github.com/recelilious/Anicargo/internal/store"
	"github.com/recelilious/Anicargo/internal/telemetry"
)

var (
	version = "v0.1.0"
	commit = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "anicargo", Version: version})
	logger := log.WithComponent("daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled: cfg.TracingEnabled,
		ServiceName: "anicargo",
		ServiceVersion: version,
		SamplingRate: cfg.TracingSamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open database")
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing database")
		}
	}()

	if err := bootstrapAdmin(ctx, s, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "auth.bootstrap_failed").Msg("failed to provision bootstrap admin")
	}

	cacheLogger := log.WithComponent("cache")
	var c cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.RedisAddr}, cacheLogger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis cache unavailable, falling back to in-memory cache")
			c = cache.NewMemoryCache(10 * time.Minute)
		} else {
			c = rc
		}
	} else {
		c = cache.NewMemoryCache(10 * time.Minute)
	}

	if cfg.CatalogBaseURL == "" {
		logger.Warn().Msg("catalog_base_url not set: auto-match and candidate lookup will have no collaborator")
	}
	cat := catalog.NewHTTPClient(cfg.CatalogBaseURL, 5, c)

	m := matcher.New(s, cat)

	hlsOrch := hls.New(hls.Config{
		Root: cfg.CacheDir + "/hls",
		TranscoderPath: cfg.TranscoderPath,
		SegmentSecs: cfg.HLSSegmentSecs,
		PlaylistLen: cfg.HLSPlaylistLen,
		LockTimeoutSecs: cfg.HLSLockTimeoutSecs,
		Transcode: cfg.Transcode,
		MaxConcurrency: int64(cfg.MaxHLSConcurrency),
	})

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL())
	if err != nil {
		logger.Fatal().Err(err).Str("event", "auth.token_manager_failed").Msg("failed to build token manager")
	}

	pool := jobs.NewPool(s, m, hlsOrch, jobs.Config{
		Workers: cfg.JobWorkers,
		PollInterval: cfg.JobPollInterval(),
		CleanupInterval: time.Duration(cfg.JobCleanupIntervalSecs) * time.Second,
		RunningTimeoutSecs: cfg.JobRunningTimeoutSecs,
		RetentionHours: cfg.JobRetentionHours,
		MediaDir: cfg.MediaDir,
		ScanSemaphore: semaphore.NewWeighted(int64(cfg.MaxScanConcurrency)),
	})
	pool.Run(ctx)

	go metrics.NewCollector(s).Run(ctx, 15*time.Second)

	var idempotencyStore store.IdempotencyStore
	if cfg.IdempotencyStorePath != "" {
		bs, err := store.OpenBadgerIdempotencyStore(cfg.IdempotencyStorePath)
		if err != nil {
			logger.Fatal().Err(err).Str("event", "idempotency.open_failed").Msg("failed to open idempotency store")
		}
		defer func() {
			if err := bs.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing idempotency store")
			}
		}()
		idempotencyStore = bs
	} else {
		idempotencyStore = store.NewMemoryIdempotencyStore()
	}

	gw := api.New(cfg, s, m, hlsOrch, cat, tokens, idempotencyStore)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw.Handler())

	srv := &http.Server{
		Addr: cfg.Bind,
		Handler: mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Bind).
		Msg("starting anicargo")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server exiting")
}

// bootstrapAdmin provisions the level-5 bootstrap admin from admin_user/
// admin_password on every startup, forcing its role level back to 5 even if
// it was previously demoted.
func bootstrapAdmin(ctx context.Context, s *store.Store, cfg config.Settings) error {
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	existing, err := s.GetUserByUsername(ctx, cfg.AdminUser)
	if err != nil {
		if err == sql.ErrNoRows {
			id := uuid.New().String()
			if err := s.CreateUser(ctx, id, cfg.AdminUser, hash, 5); err != nil {
				return fmt.Errorf("create bootstrap admin: %w", err)
			}
			log.AuditInfo(ctx, "auth.bootstrap_admin_created", "bootstrap admin provisioned", map[string]any{
				"username": cfg.AdminUser,
			})
			return nil
		}
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}

	if existing.RoleLevel != 5 {
		if err := s.UpdateUserRole(ctx, existing.ID, 5); err != nil {
			return fmt.Errorf("re-promote bootstrap admin: %w", err)
		}
		log.AuditInfo(ctx, "auth.bootstrap_admin_repromoted", "bootstrap admin forced back to role level 5", map[string]any{
			"username": cfg.AdminUser,
		})
	}
	return nil
}

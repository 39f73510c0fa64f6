package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audience-activation/internal/config"
	"audience-activation/internal/domain/identity"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	platformAdapters "audience-activation/internal/infra/adapters/platform"
	pg "audience-activation/internal/infra/db/postgres"
	httpapi "audience-activation/internal/infra/http"
	"audience-activation/internal/infra/logging"
	"audience-activation/internal/infra/metrics"
	red "audience-activation/internal/infra/redis"
	"audience-activation/internal/infra/retry"
	"audience-activation/internal/infra/sched"
	"audience-activation/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop adapters for unconfigured platforms)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	actRepo := pg.NewActivationRepo(pool)
	orphanRepo := pg.NewOrphanRepo(pool)

	// ---- Redis (optional; rate limiting degrades to noop without it) ----
	var limiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	// ---- Platform adapters ----
	policy := retry.Policy{MaxRetries: cfg.Activation.MaxRetries, BaseDelay: cfg.Activation.BaseDelay}
	adapters := map[model.Platform]adapter.AudiencePlatformAdapter{}

	if cfg.Platforms.GoogleAds.AccessToken != "" {
		ga, err := platformAdapters.NewGoogleAdsAdapter(cfg.Platforms.GoogleAds, limiter, policy, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("google ads adapter")
		}
		adapters[model.PlatformGoogleAds] = ga
	}
	if cfg.Platforms.Meta.AccessToken != "" {
		ma, err := platformAdapters.NewMetaAdapter(cfg.Platforms.Meta, limiter, policy)
		if err != nil {
			logger.Fatal().Err(err).Msg("meta adapter")
		}
		adapters[model.PlatformMeta] = ma
	}
	if cfg.Platforms.TikTok.AccessToken != "" {
		ta, err := platformAdapters.NewTikTokAdapter(cfg.Platforms.TikTok, limiter, policy)
		if err != nil {
			logger.Fatal().Err(err).Msg("tiktok adapter")
		}
		adapters[model.PlatformTikTok] = ta
	}
	if cfg.Runtime.Dev {
		for _, p := range []model.Platform{model.PlatformGoogleAds, model.PlatformMeta, model.PlatformTikTok} {
			if _, ok := adapters[p]; !ok {
				adapters[p] = platformAdapters.NewNoopAdapter(p)
				logger.Warn().Str("platform", string(p)).Msg("no credentials; using noop adapter")
			}
		}
	}
	if len(adapters) == 0 {
		logger.Fatal().Msg("no platform adapters configured")
	}

	// ---- Use case ----
	hasher := identity.NewHasher(cfg.Activation.HashSalt)
	uc := usecase.NewActivationUseCase(adapters, hasher, actRepo, orphanRepo, policy, logger)

	// ---- Orphan reconciler ----
	reconciler := sched.NewOrphanReconciler(cfg.Activation.ReconcileInterval, orphanRepo, adapters, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- HTTP ----
	srv := httpapi.NewServer(cfg, uc, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}

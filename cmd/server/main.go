package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/config"
	"dukapos/backend/internal/events"
	"dukapos/backend/internal/httpapi"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/service"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
	pgstore "dukapos/backend/internal/store/postgres"
)

const serviceName = "dukapos-backend"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(serviceName, cfg.IsDevelopment())
	logger.SetLevel(cfg.LogLevel)
	log := logger.Logger

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("storage ready")
	} else {
		repo = memory.NewSeeded(cfg.DefaultShopID)
		log.Info().Str("repository", "memory").Str("shop_id", cfg.DefaultShopID).Msg("storage ready")
	}

	var ruleCache cache.PricingRuleCache = cache.NoopPricingRuleCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisPricingRuleCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, pricing rules will not be cached")
		} else {
			ruleCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("cache", "redis").Msg("pricing cache ready")
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaStockTopic, cfg.KafkaShiftTopic)
		if err != nil {
			log.Warn().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("kafka unavailable, events will not be published")
		} else {
			publisher = kafka
			closers = append(closers, kafka.Close)
			log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("event publisher ready")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	svc := service.New(repo, service.Options{
		Cache:         ruleCache,
		Publisher:     publisher,
		Metrics:       m,
		DefaultShopID: cfg.DefaultShopID,
		PricingTTL:    time.Duration(cfg.PricingCacheTTLSeconds) * time.Second,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.DefaultShopID, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("env", cfg.AppEnv).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// validateSecurityConfig requires a real signing secret everywhere except
// local development, where the auth manager's dev secret is tolerated.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.IsDevelopment() && cfg.AuthSecret == "" {
		return nil
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && !cfg.IsDevelopment() {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin outside development")
	}
	return nil
}

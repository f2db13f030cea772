package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/sms-gateway/internal/auth"
	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
	"github.com/af-corp/sms-gateway/internal/filter/phishing"
	"github.com/af-corp/sms-gateway/internal/filter/policy"
	"github.com/af-corp/sms-gateway/internal/filter/secrets"
	"github.com/af-corp/sms-gateway/internal/gateway"
	"github.com/af-corp/sms-gateway/internal/ratelimit"
	"github.com/af-corp/sms-gateway/internal/router"
	"github.com/af-corp/sms-gateway/internal/store"
	"github.com/af-corp/sms-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := telemetry.NewLogger("info", "json")

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	slog.SetDefault(logger)

	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	} else {
		defer stopWatch()
	}

	// Connect to PostgreSQL
	var dbPool *pgxpool.Pool
	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Warn("invalid database config (auth and send log disabled)", "error", err)
	} else if err := pool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (gateway will start but auth will fail)", "error", err)
		dbPool = pool
	} else {
		logger.Info("database connected")
		dbPool = pool
	}
	if dbPool != nil {
		defer dbPool.Close()
	}

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (key cache and rate limits disabled)", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			logger.Info("redis connected")
			defer rdb.Close()
		}
	}

	// Build provider registry
	providerRegistry, err := router.BuildFromConfig(loader.Providers(), logger)
	if err != nil {
		logger.Error("failed to build providers", "error", err)
		os.Exit(1)
	}
	loader.OnReload(func() {
		next, err := router.BuildFromConfig(loader.Providers(), logger)
		if err != nil {
			logger.Error("provider reload rejected, keeping previous providers", "error", err)
			return
		}
		providerRegistry.Replace(next)
		logger.Info("provider registry reloaded", "providers", providerRegistry.Names())
	})

	cb := cfg.Routing.CircuitBreaker
	health := router.NewHealthTracker(cb.FailureThreshold, cb.RecoveryProbeInterval)
	metrics := telemetry.NewMetrics(nil)

	// Content filters
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy }, logger)
	if cfg.Filter.Policy.Enabled {
		if err := policyEval.Load(); err != nil {
			logger.Error("failed to load sms policies", "error", err, "path", cfg.Filter.Policy.BundlePath)
			os.Exit(1)
		}
	}
	loader.OnReload(func() {
		if !loader.Config().Filter.Policy.Enabled {
			return
		}
		if err := policyEval.Load(); err != nil {
			logger.Error("policy reload failed, keeping previous policies", "error", err)
		}
	})
	filters := filter.NewChain(
		secrets.NewScanner(func() config.SecretsFilterConfig { return loader.Config().Filter.Secrets }),
		phishing.NewScanner(func() config.PhishingFilterConfig { return loader.Config().Filter.Phishing }),
		policyEval,
	)

	limiter := ratelimit.NewLimiter(rdb)
	quota := ratelimit.NewQuotaTracker(rdb)

	var sendLog *store.SendLog
	if dbPool != nil {
		sendLog = store.NewSendLog(dbPool)
	}

	handler := gateway.NewHandler(gateway.Deps{
		Registry: providerRegistry,
		Health:   health,
		Config:   loader.Config,
		Filters:  filters,
		Limiter:  limiter,
		Quota:    quota,
		SendLog:  sendLog,
		Metrics:  metrics,
		Logger:   logger,
		Version:  version,
	})

	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	rateMW := ratelimit.Middleware(limiter, quota,
		func() config.RateLimitConfig { return loader.Config().RateLimit },
		metrics, logger)
	r := gateway.Routes(handler, auth.Middleware(keyStore, logger), rateMW,
		cfg.Telemetry.MetricsPath, promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("sms gateway starting", "addr", addr, "version", version, "providers", providerRegistry.Names())
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdown := cfg.Server.GracefulShutdown
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("sms gateway stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/ai"
	"github.com/ngoyal88/docgen/pkg/ai/openai"
	"github.com/ngoyal88/docgen/pkg/api"
	"github.com/ngoyal88/docgen/pkg/cache"
	"github.com/ngoyal88/docgen/pkg/config"
	"github.com/ngoyal88/docgen/pkg/documents"
	"github.com/ngoyal88/docgen/pkg/middleware"
	"github.com/ngoyal88/docgen/pkg/storage"
	"github.com/ngoyal88/docgen/pkg/users"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs/config.yaml)")
	flag.Parse()

	// 1. Load config with hot reload
	bootCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(bootCfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfgStore, err := config.LoadAndWatch(*configPath, logger)
	if err != nil {
		logger.Fatal("failed to watch config", zap.Error(err))
	}
	cfg := cfgStore.Get()

	// 2. Redis: users, shared rate limits, QA cache
	if !cfg.Redis.Enabled {
		logger.Fatal("redis is required for the user directory; set redis.enabled")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("could not connect to redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	logger.Info("connected to redis", zap.String("address", cfg.Redis.Address))

	// 3. Relational store for documents (and request logs by default)
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatal("could not open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	var logs storage.Store
	switch cfg.RequestLog.Backend {
	case "sql":
		logs = db
	case "redis":
		logs = storage.NewRedisStore(rdb, time.Duration(cfg.RequestLog.RetentionDays)*24*time.Hour)
	}
	logger.Info("request log sink", zap.String("backend", cfg.RequestLog.Backend))

	// 4. Executor over the OpenAI adapter
	var sink ai.LogSink
	if logs != nil {
		sink = logs
	}
	exec := ai.New(ai.Options{
		APIKey:     cfg.OpenAI.APIKey,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
		BaseDelay:  cfg.OpenAI.BaseDelay,
		MaxDelay:   cfg.OpenAI.MaxDelay,
	}, openai.Factory(openai.Config{
		BaseURL:         cfg.OpenAI.BaseURL,
		BreakerFailures: cfg.OpenAI.BreakerFailures,
		BreakerTimeout:  cfg.OpenAI.BreakerTimeout,
	}), sink, logger.Named("ai"))

	svc := documents.NewService(exec, db, documents.Config{
		Model:           cfg.Documents.Model,
		QAModel:         cfg.Documents.QAModel,
		MaxTokens:       cfg.Documents.MaxTokens,
		MaxPromptTokens: cfg.Documents.MaxPromptTokens,
		VectorStoreDays: cfg.Documents.VectorStoreDays,
		Pricing:         cfg.Models,
	}, logger)

	// 5. Auth
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = users.GenerateSecret("")
		if err != nil {
			logger.Fatal("could not generate jwt secret", zap.Error(err))
		}
		logger.Warn("auth.jwt_secret not set; tokens will not survive a restart")
	}
	tokens, err := middleware.NewTokenIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatal("invalid jwt settings", zap.Error(err))
	}
	if cfg.Auth.AdminKey == "" {
		logger.Warn("auth.admin_key not set; admin API only reachable with admin tokens")
	}

	// 6. Rate limiting, hot-reloadable
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(rdb, middleware.Limits{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger.Named("ratelimit"))
		cfgStore.OnChange(func(c *config.Config) {
			limiter.SetLimits(middleware.Limits{
				RequestsPerMinute: c.RateLimit.RequestsPerMinute,
				Burst:             c.RateLimit.Burst,
			})
		})
	}

	var qaCache *cache.Client
	if cfg.Cache.Enabled {
		qaCache = rdb
	}

	checks := map[string]api.HealthCheck{
		"database": db.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Redis().Ping(ctx).Err() },
	}
	if cfg.RequestLog.Backend == "redis" {
		checks["request_log"] = logs.Ping
	}

	handler := api.NewRouter(api.Deps{
		Documents:      svc,
		Users:          users.New(rdb),
		Tokens:         tokens,
		Logs:           logs,
		Cache:          qaCache,
		Limiter:        limiter,
		AdminKey:       cfg.Auth.AdminKey,
		QACache:        cfg.Cache.QATTL,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Checks:         checks,
		Logger:         logger,
	})

	// 7. Start server
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.Port),
			zap.Bool("ai_ready", exec.Ready() == nil),
			zap.Bool("rate_limit", limiter != nil),
			zap.Bool("qa_cache", qaCache != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

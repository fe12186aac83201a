package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ritten/internal/backend"
	"ritten/internal/cache"
	"ritten/internal/cli"
	apphttp "ritten/internal/http"
	applog "ritten/internal/log"
	"ritten/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	loc, _ := cfg.Location()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	svcCfg := services.MileageServiceConfig{
		Location: loc,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	}
	// A nil *amqp.Client must not become a non-nil Publisher
	if be.Publisher != nil {
		svcCfg.Publisher = be.Publisher
	}
	mileage := services.NewMileageService(be.Repository, svcCfg)

	cacheManager := cache.NewManager(logger)
	cacheManager.Register(mileage.OverviewCache())
	cacheManager.StartCleanup(10 * time.Minute)

	srv := apphttp.NewServer(mileage, apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              be.Ping,
		Logger:             logger,
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cacheManager.Stop()
		if be.Publisher != nil {
			if err := be.Publisher.Close(); err != nil {
				logger.Warn("AMQP close error", applog.FieldError, err)
			}
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", applog.FieldError, err)
			}
		}
	})

	logger.Info("Starting ritten server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"timezone", loc.String(),
		"amqp_enabled", be.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

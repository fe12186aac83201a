package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ritten/internal/amqp"
	"ritten/internal/cli"
	applog "ritten/internal/log"
	"ritten/internal/services"
	gsheet "ritten/internal/sheets/google"
	"ritten/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting ritten-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required by the worker")
		os.Exit(1)
	}

	// The API and the worker share the database, so the worker always uses sqlite
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	loc, _ := cfg.Location()
	mileage := services.NewMileageService(repo, services.MileageServiceConfig{
		Location: loc,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Options{
		SpreadsheetID:    cfg.GoogleSpreadsheetID,
		WorkSheetName:    cfg.GoogleWorkSheetName,
		SummarySheetName: cfg.GoogleSummarySheetName,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP disabled, relying on periodic sync only")
	}

	syncWorker := worker.NewSyncWorker(mileage, sheetsClient, sheetsClient, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", applog.FieldError, err)
			}
		}
	})

	// Catch up on changes made while the worker was down
	if err := syncWorker.PullWorkMileage(ctx); err != nil {
		logger.Error("Startup work mileage pull failed", applog.FieldError, err)
	}
	if err := syncWorker.StartupSync(ctx); err != nil {
		logger.Error("Startup summary sync failed", applog.FieldError, err)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeMileageChanged(ctx, syncWorker.HandleMileageChanged)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err)
			}
		}()
	}

	go syncWorker.Run(ctx, cfg.SyncInterval)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}

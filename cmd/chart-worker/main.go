package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/backend"
	"ledgersheet/internal/chart"
	"ledgersheet/internal/cli"
	"ledgersheet/internal/log"
	"ledgersheet/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required by the chart worker",
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	logger.Info("Starting chart worker", log.FieldOperation, log.OpStartup)

	store := cli.OpenStore(logger, cfg)
	renderer := chart.NewRenderer(chart.Options{Width: cfg.ChartWidth, Height: cfg.ChartHeight}, logger)

	publisher, err := backend.NewFactory(logger).OpenPublisher(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets publisher", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	w := worker.NewDatasetWorker(store, renderer, publisher, cfg.ChartDir, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("Failed to close AMQP client", log.FieldError, err)
		}
	})

	// Catch up on datasets written while the worker was down
	logger.Info("Performing startup sweep")
	if err := w.ProcessAll(ctx); err != nil {
		logger.Error("Startup sweep failed", log.FieldError, err)
	}

	if err := amqpClient.ConsumeDatasetChanged(ctx, w.HandleDatasetChanged); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Chart worker stopped")
}

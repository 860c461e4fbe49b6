package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledgersheet/internal/backend"
	"ledgersheet/internal/chart"
	"ledgersheet/internal/cli"
	"ledgersheet/internal/export"
	apphttp "ledgersheet/internal/http"
	"ledgersheet/internal/importer"
	"ledgersheet/internal/log"
	"ledgersheet/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.OpenStore(logger, cfg)
	exporter, err := export.New(store, logger)
	if err != nil {
		logger.Error("Failed to initialize exporter", log.FieldError, err)
		os.Exit(1)
	}
	renderer := chart.NewRenderer(chart.Options{Width: cfg.ChartWidth, Height: cfg.ChartHeight}, logger)

	// Optional integrations: change events over AMQP and Google Sheets publishing
	integrations, err := backend.NewFactory(logger).Build(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize integrations", log.FieldError, err)
		os.Exit(1)
	}

	svc := services.NewDatasetService(services.Config{
		ExpensesDataset: cfg.ExpensesDataset,
		ImportDataset:   cfg.ImportDataset,
		ExtendedDataset: cfg.ExtendedDataset,
		ChartDataset:    cfg.ChartDataset,
		ChartOutput:     cfg.ChartOutput,
		ChartDir:        cfg.ChartDir,
	}, services.Deps{
		Store:     store,
		Importer:  importer.New(store, cfg.ImportDataset, logger),
		Renderer:  renderer,
		Exporter:  exporter,
		Notifier:  integrations.Notifier,
		Publisher: integrations.Publisher,
		Logger:    logger,
	})

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	}, svc)

	// Configure server timeouts and limits
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := integrations.Cleanup(); err != nil {
			logger.Error("Failed to close integrations", log.FieldError, err)
		}
	})

	logger.Info("Starting ledgersheet server",
		"port", cfg.Port,
		"output_dir", cfg.OutputDir,
		"chart_output", cfg.ChartOutput,
		"amqp", integrations.Notifier != nil,
		"sheets", integrations.Publisher != nil,
		log.FieldOperation, log.OpStartup)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

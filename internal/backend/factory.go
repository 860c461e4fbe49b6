package backend

import (
	"context"
	"errors"
	"fmt"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/config"
	"ledgersheet/internal/log"
	"ledgersheet/internal/services"
	"ledgersheet/internal/sheets"
	gsheet "ledgersheet/internal/sheets/google"
)

// CleanupFunc releases resources opened by the factory.
type CleanupFunc func() error

// Result holds the optional integrations of the service. Nil fields mean the
// integration is switched off.
type Result struct {
	Notifier  services.ChangeNotifier
	Publisher sheets.DatasetPublisher
	Cleanup   CleanupFunc
}

// Factory builds the integrations described by the application config.
type Factory struct {
	logger *log.Logger

	// dialAMQP is replaced in tests.
	dialAMQP func(url, exchange, queue string, logger *log.Logger) (*amqp.Client, error)
	// openSheets is replaced in tests.
	openSheets func(ctx context.Context, cfg gsheet.Config, logger *log.Logger) (sheets.DatasetPublisher, error)
}

func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &Factory{
		logger:   logger.WithComponent(log.ComponentApp),
		dialAMQP: amqp.NewClient,
		openSheets: func(ctx context.Context, cfg gsheet.Config, logger *log.Logger) (sheets.DatasetPublisher, error) {
			return gsheet.New(ctx, cfg, logger)
		},
	}
}

// Build wires the integrations. A broker that cannot be reached is logged and
// skipped so the HTTP service still starts; a configured sheet that cannot be
// opened is an error.
func (f *Factory) Build(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, errors.New("app config is nil")
	}
	res := &Result{}
	var closers []func() error

	if cfg.AMQPEnabled() {
		client, err := f.dialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change events",
				log.FieldError, err)
		} else {
			res.Notifier = NewAMQPNotifier(client)
			closers = append(closers, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	pub, err := f.OpenPublisher(ctx, cfg)
	if err != nil {
		_ = closeAll(closers)
		return nil, err
	}
	res.Publisher = pub

	res.Cleanup = func() error { return closeAll(closers) }
	return res, nil
}

// OpenPublisher opens the Google Sheets publisher, or returns nil when no
// spreadsheet is configured.
func (f *Factory) OpenPublisher(ctx context.Context, cfg *config.Config) (sheets.DatasetPublisher, error) {
	if cfg == nil || !cfg.SheetsEnabled() {
		return nil, nil
	}
	pub, err := f.openSheets(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets publisher: %w", err)
	}
	f.logger.Info("Initialized Google Sheets publisher",
		log.FieldSheetsRef, cfg.GoogleSpreadsheetID)
	return pub, nil
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

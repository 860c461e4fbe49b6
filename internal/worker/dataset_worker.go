package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/chart"
	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/log"
	"ledgersheet/internal/sheets"
)

// DatasetWorker reacts to dataset change events: it rewrites the charts of
// the changed dataset under its own directory and, when a publisher is set,
// pushes the dataset to the spreadsheet.
type DatasetWorker struct {
	store     *dataset.Store
	renderer  *chart.Renderer
	publisher sheets.DatasetPublisher
	chartDir  string
	logger    *log.Logger
}

// NewDatasetWorker creates a worker. publisher may be nil.
func NewDatasetWorker(store *dataset.Store, renderer *chart.Renderer, publisher sheets.DatasetPublisher, chartDir string, logger *log.Logger) *DatasetWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &DatasetWorker{
		store:     store,
		renderer:  renderer,
		publisher: publisher,
		chartDir:  chartDir,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// ChartDir returns the directory charts of the named dataset are written to.
func (w *DatasetWorker) ChartDir(name string) string {
	return filepath.Join(w.chartDir, name)
}

// HandleDatasetChanged processes one change event. Events for datasets that
// no longer exist are dropped; any other failure is returned so the message
// is requeued.
func (w *DatasetWorker) HandleDatasetChanged(ctx context.Context, msg *amqp.DatasetChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing dataset change",
		log.FieldDataset, msg.Dataset,
		log.FieldOperation, msg.Operation,
		log.FieldRows, msg.Rows)

	err := w.process(ctx, msg.Dataset)
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) {
		w.logger.WarnContext(ctx, "Dropping change event",
			log.FieldDataset, msg.Dataset,
			log.FieldError, err)
		return nil
	}
	return err
}

// ProcessAll re-renders every dataset in the store. It backs up the event
// path when messages were lost while the worker was down.
func (w *DatasetWorker) ProcessAll(ctx context.Context) error {
	names, err := w.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	if len(names) == 0 {
		return nil
	}
	w.logger.InfoContext(ctx, "Processing all datasets", "count", len(names))

	var errs []error
	for _, name := range names {
		if err := w.process(ctx, name); err != nil {
			w.logger.ErrorContext(ctx, "Failed to process dataset",
				log.FieldDataset, name,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (w *DatasetWorker) process(ctx context.Context, name string) error {
	if err := dataset.ValidateName(name); err != nil {
		return err
	}
	ds, err := w.store.Load(ctx, name)
	if err != nil {
		return err
	}

	files, err := w.renderer.WriteDir(ctx, ds, w.ChartDir(name))
	if err != nil {
		return fmt.Errorf("render charts: %w", err)
	}

	ref := ""
	if w.publisher != nil {
		if ref, err = w.publisher.Publish(ctx, ds); err != nil {
			return fmt.Errorf("publish dataset: %w", err)
		}
	}

	w.logger.InfoContext(ctx, "Dataset processed",
		log.FieldDataset, name,
		log.FieldRows, len(ds.Rows),
		log.FieldCharts, len(files),
		log.FieldSheetsRef, ref)
	return nil
}

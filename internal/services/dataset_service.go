package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ledgersheet/internal/chart"
	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/export"
	"ledgersheet/internal/importer"
	"ledgersheet/internal/log"
	"ledgersheet/internal/sheets"
)

// ErrPublishDisabled is returned by Publish when no sheet is configured.
var ErrPublishDisabled = errors.New("spreadsheet publishing is not configured")

// Chart output modes
const (
	ChartsInline    = "inline"
	ChartsDirectory = "directory"
)

// Change describes a committed dataset write.
type Change struct {
	Dataset   string
	Operation string
	Path      string
	Rows      int
}

// ChangeNotifier is told about every committed write. Failures are logged
// and never undo the write.
type ChangeNotifier interface {
	NotifyDatasetChanged(ctx context.Context, c Change) error
}

// Config names the datasets each operation works on.
type Config struct {
	ExpensesDataset string
	ImportDataset   string
	ExtendedDataset string
	ChartDataset    string
	ChartOutput     string
	ChartDir        string
}

// Deps are the collaborators of DatasetService. Notifier and Publisher are
// optional.
type Deps struct {
	Store     *dataset.Store
	Importer  *importer.Importer
	Renderer  *chart.Renderer
	Exporter  *export.Exporter
	Notifier  ChangeNotifier
	Publisher sheets.DatasetPublisher
	Logger    *log.Logger
}

// DatasetService orchestrates the dataset operations exposed over HTTP.
type DatasetService struct {
	cfg       Config
	store     *dataset.Store
	importer  *importer.Importer
	renderer  *chart.Renderer
	exporter  *export.Exporter
	notifier  ChangeNotifier
	publisher sheets.DatasetPublisher
	logger    *log.Logger
	sl        *log.StructuredLogger
}

func NewDatasetService(cfg Config, deps Deps) *DatasetService {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.ChartDataset == "" {
		cfg.ChartDataset = cfg.ExpensesDataset
	}
	if cfg.ChartOutput == "" {
		cfg.ChartOutput = ChartsInline
	}
	return &DatasetService{
		cfg:       cfg,
		store:     deps.Store,
		importer:  deps.Importer,
		renderer:  deps.Renderer,
		exporter:  deps.Exporter,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		logger:    logger.WithComponent(log.ComponentService),
		sl:        log.NewStructuredLogger(logger),
	}
}

// Config returns the dataset configuration in use.
func (s *DatasetService) Config() Config { return s.cfg }

// PublishEnabled reports whether a spreadsheet publisher is configured.
func (s *DatasetService) PublishEnabled() bool { return s.publisher != nil }

// Ready checks that the dataset directory is usable.
func (s *DatasetService) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Stat(s.store.Dir())
	if err != nil {
		return core.StorageErr("stat output directory", err)
	}
	if !st.IsDir() {
		return core.StorageErr("stat output directory", fmt.Errorf("%s is not a directory", s.store.Dir()))
	}
	return nil
}

// WriteResult reports where a write landed.
type WriteResult struct {
	Dataset string
	Path    string
	Rows    int
	Columns []string
}

// ExpenseBatch is one add-expenses call: Shared applies to every item unless
// the item sets the same field itself.
type ExpenseBatch struct {
	Shared map[string]any
	Items  []map[string]any
}

// AddExpenses appends the batch to the expense dataset, creating it with the
// canonical columns on first use.
func (s *DatasetService) AddExpenses(ctx context.Context, batch ExpenseBatch) (WriteResult, error) {
	if len(batch.Items) == 0 {
		return WriteResult{}, core.Validationf("expenses must be provided")
	}
	schema := s.store.Schema()
	shared, err := ExpenseRow(schema, batch.Shared)
	if err != nil {
		return WriteResult{}, err
	}
	rows := make([]core.Row, len(batch.Items))
	for i, item := range batch.Items {
		row, err := ExpenseRow(schema, item)
		if err != nil {
			return WriteResult{}, fmt.Errorf("expense %d: %w", i, err)
		}
		rows[i] = row
	}

	ds, err := s.store.Append(ctx, s.cfg.ExpensesDataset, rows, shared)
	if err != nil {
		return WriteResult{}, err
	}
	return s.committed(ctx, log.OpAppend, ds), nil
}

// ImportCSV replaces the import dataset with the uploaded CSV.
func (s *DatasetService) ImportCSV(ctx context.Context, filename string, r io.Reader) (WriteResult, error) {
	ds, err := s.importer.Import(ctx, filename, r)
	if err != nil {
		return WriteResult{}, err
	}
	return s.committed(ctx, log.OpImport, ds), nil
}

// ColumnRow is one add-column-row call.
type ColumnRow struct {
	Column string
	Row    map[string]any
	// Base is the dataset extended; empty means the import dataset.
	Base string
}

// AddColumnRow adds Column to the base dataset when missing, backfilling the
// existing rows, then appends Row. The result is written to the extended
// dataset; the base file is not modified.
func (s *DatasetService) AddColumnRow(ctx context.Context, req ColumnRow) (WriteResult, error) {
	column := strings.TrimSpace(req.Column)
	if column == "" {
		return WriteResult{}, core.Validationf("column name is required")
	}
	if len(req.Row) == 0 {
		return WriteResult{}, core.Validationf("row values are required")
	}
	base, err := s.datasetName(req.Base, s.cfg.ImportDataset)
	if err != nil {
		return WriteResult{}, err
	}

	ds, err := s.store.Derive(ctx, base, s.cfg.ExtendedDataset, func(ds *core.Dataset) error {
		if !ds.HasColumn(column) {
			kind := InferValueKind(req.Row[column])
			if err := ds.AddColumn(core.Column{Name: column, Kind: kind}); err != nil {
				return err
			}
		}
		row := make(core.Row, len(req.Row))
		for name, raw := range req.Row {
			col, ok := ds.Column(strings.TrimSpace(name))
			if !ok {
				return core.Validationf("unknown column %q", name)
			}
			v, err := CellValue(col.Kind, raw)
			if err != nil {
				return core.Validationf("column %q: %v", name, err)
			}
			row[col.Name] = v
		}
		return ds.AppendRow(row)
	})
	if err != nil {
		return WriteResult{}, err
	}
	return s.committed(ctx, log.OpAddColumn, ds), nil
}

// ChartResult carries either inline images or the files written.
type ChartResult struct {
	Dataset   string
	Mode      string
	Images    []chart.Image
	Directory string
	Files     []string
}

// GenerateCharts renders the named dataset, or the configured chart dataset
// when name is empty. Charts are rebuilt from the file on every call.
func (s *DatasetService) GenerateCharts(ctx context.Context, name string) (ChartResult, error) {
	name, err := s.datasetName(name, s.cfg.ChartDataset)
	if err != nil {
		return ChartResult{}, err
	}
	ds, err := s.store.Load(ctx, name)
	if err != nil {
		return ChartResult{}, err
	}
	return s.RenderDataset(ctx, ds)
}

// RenderDataset renders an already loaded dataset in the configured mode.
func (s *DatasetService) RenderDataset(ctx context.Context, ds *core.Dataset) (ChartResult, error) {
	res := ChartResult{Dataset: ds.Name, Mode: s.cfg.ChartOutput}
	if s.cfg.ChartOutput == ChartsDirectory {
		files, err := s.renderer.WriteDir(ctx, ds, s.cfg.ChartDir)
		if err != nil {
			return ChartResult{}, err
		}
		res.Directory = s.cfg.ChartDir
		res.Files = make([]string, len(files))
		for i, f := range files {
			res.Files[i] = filepath.Base(f)
		}
		s.sl.LogChartsRendered(ctx, ds.Name, res.Mode, len(files))
		return res, nil
	}
	images, err := s.renderer.Render(ctx, ds)
	if err != nil {
		return ChartResult{}, err
	}
	res.Images = images
	s.sl.LogChartsRendered(ctx, ds.Name, res.Mode, len(images))
	return res, nil
}

// Spreadsheet returns the xlsx bytes and download name of a dataset.
func (s *DatasetService) Spreadsheet(ctx context.Context, name string) ([]byte, string, error) {
	name, err := s.datasetName(name, s.cfg.ExpensesDataset)
	if err != nil {
		return nil, "", err
	}
	return s.exporter.Spreadsheet(ctx, name)
}

// HTMLView renders a dataset as a table fragment. Without explicit columns
// the expense dataset shows its schema view and other datasets show all
// columns.
func (s *DatasetService) HTMLView(ctx context.Context, name string, columns []string) (string, error) {
	name, err := s.datasetName(name, s.cfg.ExpensesDataset)
	if err != nil {
		return "", err
	}
	ds, err := s.store.Load(ctx, name)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 && name == s.cfg.ExpensesDataset {
		columns = export.PresentColumns(ds, s.store.Schema().View)
	}
	return s.exporter.ToHTML(ds, columns)
}

// Publish pushes a dataset to the configured Google sheet.
func (s *DatasetService) Publish(ctx context.Context, name string) (string, error) {
	if s.publisher == nil {
		return "", ErrPublishDisabled
	}
	name, err := s.datasetName(name, s.cfg.ExpensesDataset)
	if err != nil {
		return "", err
	}
	ds, err := s.store.Load(ctx, name)
	if err != nil {
		return "", err
	}
	ref, err := s.publisher.Publish(ctx, ds)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *DatasetService) datasetName(name, def string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = def
	}
	if err := dataset.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func (s *DatasetService) committed(ctx context.Context, op string, ds *core.Dataset) WriteResult {
	res := WriteResult{
		Dataset: ds.Name,
		Path:    s.store.Path(ds.Name),
		Rows:    len(ds.Rows),
		Columns: ds.ColumnNames(),
	}
	if s.notifier == nil {
		return res
	}
	if err := s.notifier.NotifyDatasetChanged(ctx, Change{
		Dataset:   res.Dataset,
		Operation: op,
		Path:      res.Path,
		Rows:      res.Rows,
	}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish dataset change",
			log.FieldDataset, res.Dataset,
			log.FieldOperation, op,
			log.FieldError, err)
	}
	return res
}

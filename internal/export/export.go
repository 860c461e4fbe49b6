// Package export projects stored datasets into downloadable spreadsheets and
// HTML table fragments.
package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/log"
	"ledgersheet/web"
)

// ContentTypeXLSX is the media type of the spreadsheet download.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exporter reads datasets from a store and serializes them.
type Exporter struct {
	store  *dataset.Store
	tmpl   *template.Template
	logger *log.Logger
}

// New parses the embedded table template.
func New(store *dataset.Store, logger *log.Logger) (*Exporter, error) {
	tmpl, err := template.ParseFS(web.TemplatesFS, "templates/table.html")
	if err != nil {
		return nil, fmt.Errorf("parse table template: %w", err)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{store: store, tmpl: tmpl, logger: logger.WithComponent(log.ComponentExport)}, nil
}

// Spreadsheet returns the named dataset as xlsx bytes together with the
// download file name.
func (e *Exporter) Spreadsheet(ctx context.Context, name string) ([]byte, string, error) {
	ds, err := e.store.Load(ctx, name)
	if err != nil {
		return nil, "", err
	}
	data, err := ToSpreadsheet(ds)
	if err != nil {
		return nil, "", err
	}
	e.logger.DebugContext(ctx, "Spreadsheet exported",
		log.FieldDataset, name, log.FieldRows, len(ds.Rows), log.FieldBytes, len(data))
	return data, name + dataset.Extension, nil
}

// ToSpreadsheet encodes ds with its own column and row order.
func ToSpreadsheet(ds *core.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := dataset.WriteXLSX(&buf, ds); err != nil {
		return nil, core.StorageErr("encode "+ds.Name, err)
	}
	return buf.Bytes(), nil
}

// HTML renders the named dataset as a table fragment. Empty columns means
// every column.
func (e *Exporter) HTML(ctx context.Context, name string, columns []string) (string, error) {
	ds, err := e.store.Load(ctx, name)
	if err != nil {
		return "", err
	}
	return e.ToHTML(ds, columns)
}

type tableView struct {
	Columns []string
	Rows    [][]string
}

// ToHTML renders the selected columns of ds, in the order given, without a
// row index column.
func (e *Exporter) ToHTML(ds *core.Dataset, columns []string) (string, error) {
	if len(columns) == 0 {
		columns = ds.ColumnNames()
	}
	for _, c := range columns {
		if !ds.HasColumn(c) {
			return "", core.Validationf("unknown column %q", c)
		}
	}

	view := tableView{Columns: columns, Rows: make([][]string, len(ds.Rows))}
	for i := range ds.Rows {
		cells := make([]string, len(columns))
		for j, c := range columns {
			cells[j] = ds.Get(i, c).String()
		}
		view.Rows[i] = cells
	}

	var sb strings.Builder
	if err := e.tmpl.ExecuteTemplate(&sb, "table", view); err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	return sb.String(), nil
}

// PresentColumns keeps the names of wanted that ds has, in order.
func PresentColumns(ds *core.Dataset, wanted []string) []string {
	var out []string
	for _, w := range wanted {
		if ds.HasColumn(w) {
			out = append(out, w)
		}
	}
	return out
}

// Package importer turns uploaded CSV payloads into datasets.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/log"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Importer parses CSV uploads and persists them under a fixed dataset name.
type Importer struct {
	store  *dataset.Store
	target string
	logger *log.Logger
}

// New returns an importer that writes every import to the dataset target.
func New(store *dataset.Store, target string, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Importer{
		store:  store,
		target: target,
		logger: logger.WithComponent(log.ComponentImporter),
	}
}

// Target returns the dataset name imports are written to.
func (im *Importer) Target() string { return im.target }

// Import parses the upload and replaces the target dataset with it.
// filename is only checked for presence.
func (im *Importer) Import(ctx context.Context, filename string, r io.Reader) (*core.Dataset, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, core.Validationf("no file selected")
	}
	ds, err := Parse(r, im.target)
	if err != nil {
		im.logger.WarnContext(ctx, "CSV rejected",
			log.NewFields().WithOperation(log.OpImport).WithError(err).ToSlice()...)
		return nil, err
	}
	if err := im.store.Save(ctx, ds); err != nil {
		return nil, err
	}
	im.logger.InfoContext(ctx, "CSV imported",
		log.FieldDataset, ds.Name,
		log.FieldRows, len(ds.Rows),
		log.FieldColumns, len(ds.Columns),
		"filename", filename)
	return ds, nil
}

// Parse reads comma separated text with a header line. Column kinds are
// inferred: a column is numeric when every non-empty cell parses as a number.
func Parse(r io.Reader, name string) (*core.Dataset, error) {
	if r == nil {
		return nil, core.Validationf("empty file")
	}
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.Validationf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	names, err := headerNames(header)
	if err != nil {
		return nil, err
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		if len(rec) > len(names) {
			if !blank(rec[len(names):]) {
				return nil, core.Validationf("line %d has %d fields, header has %d", line, len(rec), len(names))
			}
			rec = rec[:len(names)]
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		for len(rec) < len(names) {
			rec = append(rec, "")
		}
		records = append(records, rec)
	}

	columns := make([]core.Column, len(names))
	for j, n := range names {
		values := make([]string, len(records))
		for i, rec := range records {
			values[i] = rec[j]
		}
		columns[j] = core.Column{Name: n, Kind: core.InferKind(values)}
	}

	ds := core.NewDataset(name, 0, columns)
	for i, rec := range records {
		row := make(core.Row, len(columns))
		for j, c := range columns {
			v, err := core.Coerce(c.Kind, rec[j])
			if err != nil {
				return nil, core.Validationf("record %d column %q: %v", i+1, c.Name, err)
			}
			row[c.Name] = v
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func headerNames(header []string) ([]string, error) {
	for len(header) > 0 && strings.TrimSpace(header[len(header)-1]) == "" {
		header = header[:len(header)-1]
	}
	if len(header) == 0 {
		return nil, core.Validationf("header line is empty")
	}
	seen := make(map[string]bool, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, core.Validationf("header column %d has no name", i+1)
		}
		if seen[h] {
			return nil, core.Validationf("duplicate header column %q", h)
		}
		seen[h] = true
		names[i] = h
	}
	return names, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

package dataset

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ledgersheet/internal/core"
)

const (
	// DataSheet holds the header row and the records.
	DataSheet = "Dados"
	// SchemaSheet is hidden and records the version and the kind of every column.
	SchemaSheet = "_schema"

	tableStyle = "TableStyleMedium9"
)

var tableNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]`)

// WriteXLSX encodes ds as a workbook into w.
func WriteXLSX(w io.Writer, ds *core.Dataset) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(ds.Columns))
	for i, c := range ds.Columns {
		header[i] = c.Name
	}
	if len(header) > 0 {
		if err := f.SetSheetRow(DataSheet, "A1", &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, row := range ds.Rows {
		for j, c := range ds.Columns {
			v := row[c.Name]
			if v.IsEmpty() {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			// Numbers keep their exact decimal text in a numeric cell.
			if v.IsNumeric() {
				err = f.SetCellDefault(DataSheet, cell, v.Number.String())
			} else {
				err = f.SetCellValue(DataSheet, cell, v.Text)
			}
			if err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	if len(ds.Rows) > 0 && len(ds.Columns) > 0 {
		last, err := excelize.CoordinatesToCellName(len(ds.Columns), len(ds.Rows)+1)
		if err != nil {
			return err
		}
		if err := f.AddTable(DataSheet, &excelize.Table{
			Range:     "A1:" + last,
			Name:      tableName(ds.Name),
			StyleName: tableStyle,
		}); err != nil {
			return fmt.Errorf("format table: %w", err)
		}
	}

	if err := writeSchemaSheet(f, ds); err != nil {
		return err
	}
	return f.Write(w)
}

func writeSchemaSheet(f *excelize.File, ds *core.Dataset) error {
	if _, err := f.NewSheet(SchemaSheet); err != nil {
		return fmt.Errorf("create schema sheet: %w", err)
	}
	if err := f.SetSheetRow(SchemaSheet, "A1", &[]interface{}{"version", ds.Version}); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	for i, c := range ds.Columns {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SchemaSheet, cell, &[]interface{}{c.Name, string(c.Kind)}); err != nil {
			return fmt.Errorf("write schema column %q: %w", c.Name, err)
		}
	}
	if err := f.SetSheetVisible(SchemaSheet, false); err != nil {
		return fmt.Errorf("hide schema sheet: %w", err)
	}
	return nil
}

// ReadXLSX decodes a workbook written by WriteXLSX. Workbooks produced
// elsewhere are read from their first sheet with kinds inferred per column.
func ReadXLSX(r io.Reader, name string) (*core.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	sheet := ""
	for _, s := range sheets {
		if s == DataSheet {
			sheet = s
			break
		}
	}
	if sheet == "" {
		for _, s := range sheets {
			if s != SchemaSheet {
				sheet = s
				break
			}
		}
	}
	if sheet == "" {
		return nil, fmt.Errorf("no data sheet in workbook")
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	version, kinds, err := readSchemaSheet(f)
	if err != nil {
		return nil, err
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
		rows = rows[1:]
	}
	for len(header) > 0 && strings.TrimSpace(header[len(header)-1]) == "" {
		header = header[:len(header)-1]
	}

	columns := make([]core.Column, len(header))
	for j, h := range header {
		h = strings.TrimSpace(h)
		kind, ok := kinds[h]
		if !ok {
			values := make([]string, 0, len(rows))
			for _, rec := range rows {
				if j < len(rec) {
					values = append(values, rec[j])
				}
			}
			kind = core.InferKind(values)
		}
		columns[j] = core.Column{Name: h, Kind: kind}
	}

	ds := core.NewDataset(name, version, columns)
	for i, rec := range rows {
		row := make(core.Row, len(columns))
		for j, c := range columns {
			raw := ""
			if j < len(rec) {
				raw = rec[j]
			}
			v, err := core.Coerce(c.Kind, raw)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+2, c.Name, err)
			}
			row[c.Name] = v
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func readSchemaSheet(f *excelize.File) (int, map[string]core.Kind, error) {
	kinds := map[string]core.Kind{}
	if idx, err := f.GetSheetIndex(SchemaSheet); err != nil || idx < 0 {
		return 0, kinds, nil
	}
	rows, err := f.GetRows(SchemaSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, nil, fmt.Errorf("read schema sheet: %w", err)
	}
	version := 0
	for i, rec := range rows {
		if len(rec) < 2 {
			continue
		}
		if i == 0 && rec[0] == "version" {
			if v, err := strconv.Atoi(strings.TrimSpace(rec[1])); err == nil {
				version = v
			}
			continue
		}
		kind := core.Kind(strings.TrimSpace(rec[1]))
		if !kind.IsValid() {
			return 0, nil, fmt.Errorf("schema sheet: column %q has unknown kind %q", rec[0], rec[1])
		}
		kinds[strings.TrimSpace(rec[0])] = kind
	}
	return version, kinds, nil
}

// tableName derives a valid Excel table name from the dataset name.
func tableName(dataset string) string {
	n := tableNameSanitizer.ReplaceAllString(dataset, "_")
	if n == "" {
		n = "Tabela"
	}
	return "T_" + n
}

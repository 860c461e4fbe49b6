package sheets

import (
	"context"

	"ledgersheet/internal/core"
)

// Ports for outbound adapters.
type (
	// DatasetPublisher replaces the content of a remote sheet with a dataset.
	DatasetPublisher interface {
		Publish(ctx context.Context, ds *core.Dataset) (ref string, err error)
	}
)

// Grid lays ds out as a header row followed by one row per record. Numbers
// are float64, empty cells are empty strings.
func Grid(ds *core.Dataset) [][]any {
	out := make([][]any, 0, len(ds.Rows)+1)
	header := make([]any, len(ds.Columns))
	for i, c := range ds.Columns {
		header[i] = c.Name
	}
	out = append(out, header)
	for i := range ds.Rows {
		row := make([]any, len(ds.Columns))
		for j, c := range ds.Columns {
			v := ds.Get(i, c.Name)
			switch {
			case v.IsEmpty():
				row[j] = ""
			case v.IsNumeric():
				row[j] = v.Float64()
			default:
				row[j] = v.Text
			}
		}
		out = append(out, row)
	}
	return out
}

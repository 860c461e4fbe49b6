package core

import "fmt"

// Expense column names. They match the headers of the spreadsheets the tool
// has always produced.
const (
	ColDescription = "Descrição"
	ColAmount      = "Valor (R$)"
	ColCut         = "Corte"
	ColWeight      = "Peso (kg)"
	ColUnitPrice   = "Preço Unitário (R$)"
	ColQuantity    = "Quantidade"
)

// Schema is a versioned column descriptor. Each version only appends columns
// to the previous one, so migrating a dataset never reorders existing data.
type Schema struct {
	Version  int
	Columns  []Column
	Required []string
	// View lists the columns shown by default in the HTML fragment.
	View []string
}

// Migration describes the columns one schema version appends.
type Migration struct {
	Version int
	Add     []Column
}

var expenseMigrations = []Migration{
	{Version: 1, Add: []Column{
		{Name: ColDescription, Kind: KindText},
		{Name: ColAmount, Kind: KindCurrency},
		{Name: ColCut, Kind: KindText},
	}},
	{Version: 2, Add: []Column{
		{Name: ColWeight, Kind: KindNumber},
		{Name: ColUnitPrice, Kind: KindCurrency},
		{Name: ColQuantity, Kind: KindNumber},
	}},
}

// LatestExpenseVersion is the newest expense schema version.
var LatestExpenseVersion = expenseMigrations[len(expenseMigrations)-1].Version

// ExpenseSchema returns the expense schema at the given version.
func ExpenseSchema(version int) (Schema, error) {
	if version < 1 || version > LatestExpenseVersion {
		return Schema{}, fmt.Errorf("unknown expense schema version %d (latest %d)", version, LatestExpenseVersion)
	}
	s := Schema{
		Version:  version,
		Required: []string{ColDescription, ColAmount},
		View:     []string{ColDescription, ColAmount, ColCut},
	}
	for _, m := range expenseMigrations {
		if m.Version > version {
			break
		}
		s.Columns = append(s.Columns, m.Add...)
	}
	return s, nil
}

// NewDataset materializes an empty dataset with the canonical columns.
func (s Schema) NewDataset(name string) *Dataset {
	return NewDataset(name, s.Version, s.Columns)
}

// Migrate brings ds up to the schema: missing columns are appended on the
// right and backfilled empty. Columns the schema does not know are kept.
func (s Schema) Migrate(ds *Dataset) (added []string, err error) {
	for _, c := range s.Columns {
		existing, ok := ds.Column(c.Name)
		if ok {
			if existing.Kind != c.Kind && !(existing.Kind.IsNumeric() && c.Kind.IsNumeric()) {
				return added, Validationf("column %q is %s, schema v%d expects %s", c.Name, existing.Kind, s.Version, c.Kind)
			}
			continue
		}
		if err := ds.AddColumn(c); err != nil {
			return added, err
		}
		added = append(added, c.Name)
	}
	if ds.Version < s.Version {
		ds.Version = s.Version
	}
	return added, nil
}

// CheckRequired fails when a required column is empty in row.
func (s Schema) CheckRequired(row Row) error {
	for _, name := range s.Required {
		if row[name].IsEmpty() {
			return Validationf("missing required field %q", name)
		}
	}
	return nil
}

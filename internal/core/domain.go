package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KindText     Kind = "text"
	KindNumber   Kind = "number"
	KindCurrency Kind = "currency"
)

type (
	// Kind is the scalar type of a column.
	Kind string

	// Value is a single cell. The zero Value is the empty value used to
	// backfill rows when a column is added.
	Value struct {
		Kind   Kind
		Text   string
		Number decimal.Decimal
		set    bool
	}

	Column struct {
		Name string
		Kind Kind
	}

	// Row maps column name to value.
	Row map[string]Value

	// Dataset is an ordered set of rows over an ordered set of columns.
	Dataset struct {
		Name    string
		Version int
		Columns []Column
		Rows    []Row
	}
)

// IsNumeric reports whether values of this kind are numbers.
func (k Kind) IsNumeric() bool {
	return k == KindNumber || k == KindCurrency
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindNumber, KindCurrency:
		return true
	default:
		return false
	}
}

// Text returns a text value. Blank strings are the empty value.
func Text(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindText, Text: s, set: true}
}

// Number returns a plain numeric value.
func Number(d decimal.Decimal) Value {
	return Value{Kind: KindNumber, Number: d, set: true}
}

// Currency returns a numeric value rounded to two decimals.
func Currency(d decimal.Decimal) Value {
	return Value{Kind: KindCurrency, Number: d.Round(2), set: true}
}

// IsEmpty reports whether the cell holds no value.
func (v Value) IsEmpty() bool {
	return !v.set
}

// IsNumeric reports whether the cell holds a number.
func (v Value) IsNumeric() bool {
	return v.set && v.Kind.IsNumeric()
}

// Float64 returns the numeric value, or 0 for empty and text cells.
func (v Value) Float64() float64 {
	if !v.IsNumeric() {
		return 0
	}
	return v.Number.InexactFloat64()
}

// String renders the value for display. Currency always carries two decimals.
func (v Value) String() string {
	switch {
	case !v.set:
		return ""
	case v.Kind == KindCurrency:
		return v.Number.StringFixed(2)
	case v.Kind == KindNumber:
		return v.Number.String()
	default:
		return v.Text
	}
}

// Equal compares kind and content.
func (v Value) Equal(o Value) bool {
	if v.set != o.set || v.Kind != o.Kind {
		return false
	}
	if v.Kind.IsNumeric() {
		return v.Number.Equal(o.Number)
	}
	return v.Text == o.Text
}

// Coerce converts raw text into a value of the given kind.
func Coerce(kind Kind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Value{}, nil
	}
	switch kind {
	case KindNumber:
		d, err := ParseNumber(raw)
		if err != nil {
			return Value{}, err
		}
		return Number(d), nil
	case KindCurrency:
		d, err := ParseNumber(raw)
		if err != nil {
			return Value{}, err
		}
		return Currency(d), nil
	default:
		return Text(raw), nil
	}
}

// NewDataset returns an empty dataset over a copy of columns.
func NewDataset(name string, version int, columns []Column) *Dataset {
	return &Dataset{
		Name:    name,
		Version: version,
		Columns: append([]Column(nil), columns...),
	}
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name.
func (d *Dataset) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether a column with this name exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.Column(name)
	return ok
}

// AddColumn appends a column on the right. Existing rows read it as empty.
func (d *Dataset) AddColumn(col Column) error {
	name := strings.TrimSpace(col.Name)
	if name == "" {
		return Validationf("column name is required")
	}
	if !col.Kind.IsValid() {
		return Validationf("invalid kind %q for column %q", col.Kind, name)
	}
	if d.HasColumn(name) {
		return Validationf("column %q already exists", name)
	}
	d.Columns = append(d.Columns, Column{Name: name, Kind: col.Kind})
	for _, r := range d.Rows {
		r[name] = Value{}
	}
	return nil
}

// AppendRow checks the row against the columns and appends a normalized copy.
// Missing columns become empty; unknown columns and kind mismatches fail.
func (d *Dataset) AppendRow(row Row) error {
	for name := range row {
		if !d.HasColumn(name) {
			return Validationf("unknown column %q", name)
		}
	}
	out := make(Row, len(d.Columns))
	for _, c := range d.Columns {
		v := row[c.Name]
		switch {
		case v.IsEmpty():
			v = Value{}
		case c.Kind.IsNumeric() && !v.IsNumeric():
			return Validationf("column %q expects a number, got %q", c.Name, v.Text)
		case c.Kind == KindCurrency:
			v = Currency(v.Number)
		case c.Kind == KindNumber:
			v = Number(v.Number)
		case c.Kind == KindText && v.IsNumeric():
			v = Text(v.String())
		}
		out[c.Name] = v
	}
	d.Rows = append(d.Rows, out)
	return nil
}

// Get returns the value at row i for column name.
func (d *Dataset) Get(i int, name string) Value {
	if i < 0 || i >= len(d.Rows) {
		return Value{}
	}
	return d.Rows[i][name]
}

// NumericColumns returns the columns eligible for charting: numeric kind, at
// least one number and no text cells.
func (d *Dataset) NumericColumns() []Column {
	var out []Column
	for _, c := range d.Columns {
		if !c.Kind.IsNumeric() {
			continue
		}
		mixed, seen := false, false
		for _, r := range d.Rows {
			v := r[c.Name]
			if v.IsEmpty() {
				continue
			}
			if !v.IsNumeric() {
				mixed = true
				break
			}
			seen = true
		}
		if seen && !mixed {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := NewDataset(d.Name, d.Version, d.Columns)
	out.Rows = make([]Row, len(d.Rows))
	for i, r := range d.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

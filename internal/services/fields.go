package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledgersheet/internal/core"
)

// FieldColumns maps request field names, English and Portuguese, to the
// expense columns.
var FieldColumns = map[string]string{
	"description":    core.ColDescription,
	"descricao":      core.ColDescription,
	"amount":         core.ColAmount,
	"valor":          core.ColAmount,
	"cut":            core.ColCut,
	"corte":          core.ColCut,
	"weight":         core.ColWeight,
	"peso":           core.ColWeight,
	"unit_price":     core.ColUnitPrice,
	"preco_unitario": core.ColUnitPrice,
	"quantity":       core.ColQuantity,
	"quantidade":     core.ColQuantity,
}

// ExpenseRow converts request fields into a row of the schema. Unknown
// fields, fields whose column the schema version lacks, and values of the
// wrong shape are validation errors.
func ExpenseRow(schema core.Schema, fields map[string]any) (core.Row, error) {
	row := make(core.Row, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name, ok := FieldColumns[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return nil, core.Validationf("unknown field %q", key)
		}
		col, ok := schemaColumn(schema, name)
		if !ok {
			return nil, core.Validationf("field %q is not part of schema v%d", key, schema.Version)
		}
		if _, dup := row[name]; dup {
			return nil, core.Validationf("field %q given twice", key)
		}
		var v core.Value
		var err error
		if name == core.ColAmount {
			v, err = AmountValue(fields[key])
		} else {
			v, err = CellValue(col.Kind, fields[key])
		}
		if err != nil {
			return nil, core.Validationf("field %q: %v", key, err)
		}
		row[name] = v
	}
	return row, nil
}

func schemaColumn(s core.Schema, name string) (core.Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return core.Column{}, false
}

// AmountValue converts a decoded JSON value into an expense amount with
// core.ParseAmount. Signed and zero amounts are accepted.
func AmountValue(raw any) (core.Value, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return core.Value{}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return core.Value{}, nil
		}
		text = v
	case json.Number:
		text = v.String()
	case float64:
		text = decimal.NewFromFloat(v).String()
	case int:
		text = fmt.Sprint(v)
	default:
		return core.Value{}, core.ErrInvalidAmount
	}
	d, err := core.ParseAmount(text)
	if err != nil {
		return core.Value{}, err
	}
	return core.Currency(d), nil
}

// CellValue converts a decoded JSON value into a value of kind. Strings go
// through the same parsing as CSV cells.
func CellValue(kind core.Kind, raw any) (core.Value, error) {
	switch v := raw.(type) {
	case nil:
		return core.Value{}, nil
	case string:
		return core.Coerce(kind, v)
	case json.Number:
		return core.Coerce(kind, v.String())
	case float64:
		return core.Coerce(kind, decimal.NewFromFloat(v).String())
	case int:
		return core.Coerce(kind, fmt.Sprint(v))
	case bool:
		return core.Value{}, fmt.Errorf("boolean values are not supported")
	default:
		return core.Value{}, fmt.Errorf("unsupported value of type %T", raw)
	}
}

// InferValueKind picks the kind for a column created from a single value:
// numbers and numeric strings make a number column, anything else text.
func InferValueKind(raw any) core.Kind {
	switch v := raw.(type) {
	case json.Number, float64, int:
		return core.KindNumber
	case string:
		if core.IsNumber(v) {
			return core.KindNumber
		}
	}
	return core.KindText
}

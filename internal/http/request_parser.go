// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies decoded with json.Number so amounts keep their digits, the
// expense batch and column-row shapes, and query parameters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ledgersheet/internal/core"
	"ledgersheet/internal/services"
)

// Accepted names for the expense list and the column-row fields.
var (
	expenseListKeys = []string{"expenses", "despesas"}
	columnKeys      = []string{"column", "coluna"}
	rowKeys         = []string{"row", "linha"}
	datasetKeys     = []string{"dataset"}
)

// DecodeJSONObject reads a JSON object from the request body. Bodies over
// the server limit surface as *http.MaxBytesError.
func DecodeJSONObject(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, core.Validationf("request body is empty or invalid")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, core.Validationf("request body is empty or invalid: %v", err)
	}
	if obj == nil {
		return nil, core.Validationf("request body is empty or invalid")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, core.Validationf("request body must hold a single JSON object")
	}
	return obj, nil
}

// pick removes and returns the first of keys present in body. Giving more
// than one alias is a validation error.
func pick(body map[string]any, keys []string) (any, bool, error) {
	var (
		found string
		value any
	)
	for _, k := range keys {
		v, ok := body[k]
		if !ok {
			continue
		}
		if found != "" {
			return nil, false, core.Validationf("fields %q and %q are the same; give only one", found, k)
		}
		found, value = k, v
		delete(body, k)
	}
	return value, found != "", nil
}

// ParseExpenseBatch splits an add-expenses body into the expense list and
// the context fields shared by every item.
func ParseExpenseBatch(body map[string]any) (services.ExpenseBatch, error) {
	raw, ok, err := pick(body, expenseListKeys)
	if err != nil {
		return services.ExpenseBatch{}, err
	}
	if !ok || raw == nil {
		return services.ExpenseBatch{}, core.Validationf("expenses must be provided")
	}
	list, ok := raw.([]any)
	if !ok {
		return services.ExpenseBatch{}, core.Validationf("expenses must be a list")
	}
	items := make([]map[string]any, len(list))
	for i, it := range list {
		obj, ok := it.(map[string]any)
		if !ok {
			return services.ExpenseBatch{}, core.Validationf("expense %d must be an object", i)
		}
		items[i] = obj
	}
	return services.ExpenseBatch{Shared: body, Items: items}, nil
}

// ParseColumnRow reads an add-column-row body.
func ParseColumnRow(body map[string]any) (services.ColumnRow, error) {
	var req services.ColumnRow

	col, _, err := pick(body, columnKeys)
	if err != nil {
		return req, err
	}
	if col != nil {
		name, ok := col.(string)
		if !ok {
			return req, core.Validationf("column must be a string")
		}
		req.Column = sanitizeInput(name)
	}

	row, _, err := pick(body, rowKeys)
	if err != nil {
		return req, err
	}
	if row != nil {
		obj, ok := row.(map[string]any)
		if !ok {
			return req, core.Validationf("row must be an object")
		}
		req.Row = obj
	}

	base, _, err := pick(body, datasetKeys)
	if err != nil {
		return req, err
	}
	if base != nil {
		name, ok := base.(string)
		if !ok {
			return req, core.Validationf("dataset must be a string")
		}
		req.Base = sanitizeInput(name)
	}

	for k := range body {
		return req, core.Validationf("unknown field %q", k)
	}
	return req, nil
}

// DatasetParam returns the dataset query parameter.
func DatasetParam(query url.Values) string {
	return sanitizeInput(query.Get("dataset"))
}

// ColumnsParam splits the comma separated columns query parameter.
func ColumnsParam(query url.Values) []string {
	var out []string
	for _, v := range query["columns"] {
		for _, c := range strings.Split(v, ",") {
			if c = sanitizeInput(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"ledgersheet/internal/core"
)

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/add-expenses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDecodeJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"object", `{"cut": "Picanha", "expenses": []}`, false},
		{"trailing whitespace", "{\"a\": 1}\n\n", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"null", "null", true},
		{"array", `[1, 2]`, true},
		{"malformed", `{"a": `, true},
		{"two objects", `{"a": 1}{"b": 2}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSONObject(jsonRequest(tt.body))
			if tt.wantErr {
				if !errors.Is(err, core.ErrValidation) {
					t.Errorf("error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeJSONObject_KeepsNumbers(t *testing.T) {
	obj, err := DecodeJSONObject(jsonRequest(`{"amount": 12.10}`))
	if err != nil {
		t.Fatalf("DecodeJSONObject() error = %v", err)
	}
	if n, ok := obj["amount"].(json.Number); !ok || n.String() != "12.10" {
		t.Errorf("amount = %#v, want json.Number 12.10", obj["amount"])
	}
}

func TestDecodeJSONObject_TooLarge(t *testing.T) {
	req := jsonRequest(`{"description": "a very long description"}`)
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 8)

	_, err := DecodeJSONObject(req)
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		t.Errorf("error = %v, want *http.MaxBytesError", err)
	}
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	obj, err := DecodeJSONObject(jsonRequest(body))
	if err != nil {
		t.Fatalf("DecodeJSONObject(%s) error = %v", body, err)
	}
	return obj
}

func TestParseExpenseBatch(t *testing.T) {
	batch, err := ParseExpenseBatch(decode(t, `{"cut": "Picanha", "expenses": [{"description": "Sal", "amount": 5}]}`))
	if err != nil {
		t.Fatalf("ParseExpenseBatch() error = %v", err)
	}
	if len(batch.Items) != 1 || batch.Items[0]["description"] != "Sal" {
		t.Errorf("Items = %v", batch.Items)
	}
	if !reflect.DeepEqual(batch.Shared, map[string]any{"cut": "Picanha"}) {
		t.Errorf("Shared = %v", batch.Shared)
	}

	batch, err = ParseExpenseBatch(decode(t, `{"corte": "Cupim", "despesas": [{"descricao": "Carvão", "valor": "30,00"}]}`))
	if err != nil {
		t.Fatalf("ParseExpenseBatch() portuguese error = %v", err)
	}
	if batch.Shared["corte"] != "Cupim" || batch.Items[0]["valor"] != "30,00" {
		t.Errorf("batch = %+v", batch)
	}
}

func TestParseExpenseBatch_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing list", `{"cut": "x"}`},
		{"null list", `{"expenses": null}`},
		{"not a list", `{"expenses": {"description": "a"}}`},
		{"item not an object", `{"expenses": ["a"]}`},
		{"both aliases", `{"expenses": [], "despesas": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExpenseBatch(decode(t, tt.body))
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

func TestParseColumnRow(t *testing.T) {
	req, err := ParseColumnRow(decode(t, `{"column": " c ", "row": {"a": 1, "c": "x"}, "dataset": "base"}`))
	if err != nil {
		t.Fatalf("ParseColumnRow() error = %v", err)
	}
	if req.Column != "c" || req.Base != "base" || len(req.Row) != 2 {
		t.Errorf("req = %+v", req)
	}

	req, err = ParseColumnRow(decode(t, `{"coluna": "c", "linha": {"c": 2}}`))
	if err != nil || req.Column != "c" || req.Row["c"] != json.Number("2") {
		t.Errorf("portuguese req = %+v, err = %v", req, err)
	}

	req, err = ParseColumnRow(decode(t, `{}`))
	if err != nil || req.Column != "" || req.Row != nil {
		t.Errorf("empty body should parse to zero request, got %+v, %v", req, err)
	}

	for _, body := range []string{
		`{"column": 3}`,
		`{"row": [1]}`,
		`{"dataset": true}`,
		`{"column": "c", "coluna": "d"}`,
		`{"column": "c", "extra": 1}`,
	} {
		if _, err := ParseColumnRow(decode(t, body)); !errors.Is(err, core.ErrValidation) {
			t.Errorf("ParseColumnRow(%s) error = %v, want validation error", body, err)
		}
	}
}

func TestQueryParams(t *testing.T) {
	q := url.Values{
		"dataset": {" planilha_importada "},
		"columns": {"a, b", ",c,"},
	}
	if got := DatasetParam(q); got != "planilha_importada" {
		t.Errorf("DatasetParam() = %q", got)
	}
	if got := ColumnsParam(q); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("ColumnsParam() = %v", got)
	}
	if got := ColumnsParam(url.Values{}); got != nil {
		t.Errorf("ColumnsParam(empty) = %v, want nil", got)
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  a\x00b\tc  "); got != "ab\tc" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}

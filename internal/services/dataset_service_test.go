package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersheet/internal/chart"
	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/export"
	"ledgersheet/internal/importer"
	"ledgersheet/internal/sheets/memory"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (n *recordingNotifier) NotifyDatasetChanged(_ context.Context, c Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

type fixture struct {
	svc       *DatasetService
	store     *dataset.Store
	notifier  *recordingNotifier
	publisher *memory.Store
	dir       string
}

func newFixture(t *testing.T, mutate func(*Config)) fixture {
	t.Helper()
	dir := t.TempDir()
	schema, err := core.ExpenseSchema(core.LatestExpenseVersion)
	require.NoError(t, err)
	store := dataset.NewStore(dir, schema, nil)
	exp, err := export.New(store, nil)
	require.NoError(t, err)

	cfg := Config{
		ExpensesDataset: "tabela_despesas",
		ImportDataset:   "planilha_importada",
		ExtendedDataset: "planilha_atualizada",
		ChartDir:        filepath.Join(dir, "graficos"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	n := &recordingNotifier{}
	pub := memory.New()
	svc := NewDatasetService(cfg, Deps{
		Store:     store,
		Importer:  importer.New(store, cfg.ImportDataset, nil),
		Renderer:  chart.NewRenderer(chart.Options{Width: 200, Height: 150}, nil),
		Exporter:  exp,
		Notifier:  n,
		Publisher: pub,
	})
	return fixture{svc: svc, store: store, notifier: n, publisher: pub, dir: dir}
}

func batch(cut string, items ...map[string]any) ExpenseBatch {
	return ExpenseBatch{Shared: map[string]any{"cut": cut}, Items: items}
}

func TestAddExpenses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.AddExpenses(ctx, batch("Picanha",
		map[string]any{"description": "Sal", "amount": json.Number("12.5")},
		map[string]any{"descricao": "Carvão", "valor": "30,00", "peso": 2.0},
	))
	require.NoError(t, err)
	assert.Equal(t, "tabela_despesas", res.Dataset)
	assert.Equal(t, f.store.Path("tabela_despesas"), res.Path)
	assert.Equal(t, 2, res.Rows)

	ds, err := f.store.Load(ctx, "tabela_despesas")
	require.NoError(t, err)
	assert.Equal(t, "12.50", ds.Get(0, core.ColAmount).String())
	assert.Equal(t, "30.00", ds.Get(1, core.ColAmount).String())
	assert.Equal(t, "2", ds.Get(1, core.ColWeight).String())
	assert.Equal(t, "Picanha", ds.Get(1, core.ColCut).Text)

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, Change{Dataset: "tabela_despesas", Operation: "append", Path: res.Path, Rows: 2}, f.notifier.changes[0])
}

func TestAddExpenses_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		batch ExpenseBatch
	}{
		{"no items", ExpenseBatch{Shared: map[string]any{"cut": "x"}}},
		{"missing amount", batch("x", map[string]any{"description": "a"})},
		{"missing description", batch("x", map[string]any{"amount": 1.0})},
		{"unknown field", batch("x", map[string]any{"description": "a", "amount": 1.0, "color": "red"})},
		{"exponent amount", batch("x", map[string]any{"description": "a", "amount": json.Number("1e400")})},
		{"text amount", batch("x", map[string]any{"description": "a", "amount": "ten"})},
		{"boolean", batch("x", map[string]any{"description": "a", "amount": true})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddExpenses(ctx, tt.batch)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
	assert.False(t, f.store.Exists("tabela_despesas"))
	assert.Empty(t, f.notifier.changes)
}

func TestAddExpenses_ErrorNamesItemOnce(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.AddExpenses(context.Background(), batch("x",
		map[string]any{"description": "a", "amount": 1.0},
		map[string]any{"description": "b", "amount": "ten"},
	))
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, `expense 1: validation error: field "amount": invalid amount`, err.Error())
}

func TestAddExpenses_SignedAndLargeAmountsRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddExpenses(ctx, batch("x",
		map[string]any{"description": "estorno", "amount": -3.0},
		map[string]any{"description": "cortesia", "amount": json.Number("0")},
		map[string]any{"description": "frota", "amount": "12345678901234567.89"},
	))
	require.NoError(t, err)

	_, err = f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "sal", "amount": 5}))
	require.NoError(t, err)

	ds, err := f.store.Load(ctx, "tabela_despesas")
	require.NoError(t, err)
	require.Len(t, ds.Rows, 4)
	assert.Equal(t, "-3.00", ds.Get(0, core.ColAmount).String())
	assert.Equal(t, "0.00", ds.Get(1, core.ColAmount).String())
	assert.Equal(t, "12345678901234567.89", ds.Get(2, core.ColAmount).String())
	assert.Equal(t, "5.00", ds.Get(3, core.ColAmount).String())
}

func TestAddExpenses_OverflowingAmountLeavesDatasetReadable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "a", "amount": 1.0}))
	require.NoError(t, err)

	_, err = f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "b", "amount": json.Number("1e400")}))
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "c", "amount": 5}))
	require.NoError(t, err)

	ds, err := f.store.Load(ctx, "tabela_despesas")
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 2)
}

func TestImportCSV_OutOfRangeNumberIsText(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ImportCSV(ctx, "dados.csv", strings.NewReader("a,b\n1e400,x\n2,y\n"))
	require.NoError(t, err)

	ds, err := f.store.Load(ctx, "planilha_importada")
	require.NoError(t, err)
	assert.Equal(t, core.KindText, ds.Columns[0].Kind)
	assert.Equal(t, "1e400", ds.Get(0, "a").Text)
}

func TestAddExpenses_NotifierFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = errors.New("broker down")

	_, err := f.svc.AddExpenses(context.Background(), batch("x", map[string]any{"description": "a", "amount": 1.0}))
	require.NoError(t, err)
	assert.True(t, f.store.Exists("tabela_despesas"))
}

func TestImportAndAddColumnRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.AddColumnRow(ctx, ColumnRow{Column: "c", Row: map[string]any{"c": 1.0}})
	assert.ErrorIs(t, err, core.ErrNotFound)

	res, err := f.svc.ImportCSV(ctx, "dados.csv", strings.NewReader("a,b\n1,x\n2,y\n"))
	require.NoError(t, err)
	assert.Equal(t, "planilha_importada", res.Dataset)
	assert.Equal(t, []string{"a", "b"}, res.Columns)

	res, err = f.svc.AddColumnRow(ctx, ColumnRow{
		Column: "c",
		Row:    map[string]any{"a": json.Number("3"), "b": "z", "c": json.Number("9.5")},
	})
	require.NoError(t, err)
	assert.Equal(t, "planilha_atualizada", res.Dataset)
	assert.Equal(t, []string{"a", "b", "c"}, res.Columns)
	assert.Equal(t, 3, res.Rows)

	ext, err := f.store.Load(ctx, "planilha_atualizada")
	require.NoError(t, err)
	assert.True(t, ext.Get(0, "c").IsEmpty())
	assert.True(t, ext.Get(1, "c").IsEmpty())
	assert.Equal(t, "9.5", ext.Get(2, "c").String())
	col, _ := ext.Column("c")
	assert.Equal(t, core.KindNumber, col.Kind)

	base, err := f.store.Load(ctx, "planilha_importada")
	require.NoError(t, err)
	assert.False(t, base.HasColumn("c"))

	ops := make([]string, len(f.notifier.changes))
	for i, c := range f.notifier.changes {
		ops[i] = c.Operation
	}
	assert.Equal(t, []string{"import", "add_column"}, ops)
}

func TestAddColumnRow_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.ImportCSV(ctx, "dados.csv", strings.NewReader("a\n1\n"))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  ColumnRow
	}{
		{"missing column", ColumnRow{Row: map[string]any{"a": 1.0}}},
		{"missing row", ColumnRow{Column: "c"}},
		{"unknown column in row", ColumnRow{Column: "c", Row: map[string]any{"zzz": 1.0}}},
		{"text into numeric column", ColumnRow{Column: "c", Row: map[string]any{"a": "abc"}}},
		{"bad base name", ColumnRow{Column: "c", Row: map[string]any{"c": 1.0}, Base: "../x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddColumnRow(ctx, tt.req)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
	assert.False(t, f.store.Exists("planilha_atualizada"))
}

func TestAddColumnRow_ExistingColumnOnlyAppends(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.ImportCSV(ctx, "dados.csv", strings.NewReader("a,b\n1,x\n"))
	require.NoError(t, err)

	res, err := f.svc.AddColumnRow(ctx, ColumnRow{Column: "b", Row: map[string]any{"b": "y"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	assert.Equal(t, 2, res.Rows)
}

func TestGenerateCharts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.GenerateCharts(ctx, "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.AddExpenses(ctx, batch("x",
		map[string]any{"description": "a", "amount": 10.0},
		map[string]any{"description": "b", "amount": 20.0},
		map[string]any{"description": "c", "amount": 30.0},
	))
	require.NoError(t, err)

	res, err := f.svc.GenerateCharts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ChartsInline, res.Mode)
	require.Len(t, res.Images, 1)
	assert.Equal(t, core.ColAmount, res.Images[0].Column)

	_, err = f.svc.ImportCSV(ctx, "d.csv", strings.NewReader("n,m\n1,2\n3,4\n"))
	require.NoError(t, err)
	res, err = f.svc.GenerateCharts(ctx, "planilha_importada")
	require.NoError(t, err)
	assert.Len(t, res.Images, 2)
}

func TestGenerateCharts_DirectoryMode(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ChartOutput = ChartsDirectory })
	ctx := context.Background()
	_, err := f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "a", "amount": 10.0}))
	require.NoError(t, err)

	res, err := f.svc.GenerateCharts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ChartsDirectory, res.Mode)
	assert.Empty(t, res.Images)
	assert.Equal(t, filepath.Join(f.dir, "graficos"), res.Directory)
	assert.Equal(t, []string{"valor_r.png"}, res.Files)
	_, err = os.Stat(filepath.Join(res.Directory, "valor_r.png"))
	assert.NoError(t, err)
}

func TestExports(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.svc.Spreadsheet(ctx, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.svc.HTMLView(ctx, "", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.AddExpenses(ctx, batch("Cupim", map[string]any{"description": "a", "amount": 10.0, "weight": 1.5}))
	require.NoError(t, err)

	data, name, err := f.svc.Spreadsheet(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "tabela_despesas.xlsx", name)
	assert.NotEmpty(t, data)

	html, err := f.svc.HTMLView(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(html, "<th>"))
	assert.NotContains(t, html, core.ColWeight)

	html, err = f.svc.HTMLView(ctx, "", []string{core.ColWeight})
	require.NoError(t, err)
	assert.Contains(t, html, "<td>1.5</td>")
}

func TestPublish(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Publish(ctx, "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.svc.AddExpenses(ctx, batch("x", map[string]any{"description": "a", "amount": 10.0}))
	require.NoError(t, err)
	ref, err := f.svc.Publish(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "mem:tabela_despesas:2", ref)
	assert.Equal(t, 1, f.publisher.Publishes())

	disabled := NewDatasetService(f.svc.Config(), Deps{Store: f.store})
	_, err = disabled.Publish(ctx, "")
	assert.ErrorIs(t, err, ErrPublishDisabled)
}

func TestReady(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.svc.Ready(context.Background()))
	assert.True(t, f.svc.PublishEnabled())

	schema, err := core.ExpenseSchema(1)
	require.NoError(t, err)
	missing := NewDatasetService(Config{ExpensesDataset: "x"}, Deps{
		Store: dataset.NewStore(filepath.Join(f.dir, "nope"), schema, nil),
	})
	assert.ErrorIs(t, missing.Ready(context.Background()), core.ErrStorage)
	assert.False(t, missing.PublishEnabled())
}

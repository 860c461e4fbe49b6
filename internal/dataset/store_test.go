package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersheet/internal/core"
)

func expenseSchema(t *testing.T) core.Schema {
	t.Helper()
	s, err := core.ExpenseSchema(core.LatestExpenseVersion)
	require.NoError(t, err)
	return s
}

func expense(desc, amount string) core.Row {
	return core.Row{
		core.ColDescription: core.Text(desc),
		core.ColAmount:      core.Currency(decimal.RequireFromString(amount)),
	}
}

func TestStore_LoadMissingIsNotFound(t *testing.T) {
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	_, err := s.Load(context.Background(), "tabela_despesas")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, s.Exists("tabela_despesas"))
}

func TestStore_AppendCreatesWithCanonicalColumns(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	shared := core.Row{core.ColCut: core.Text("Picanha")}
	_, err := s.Append(ctx, "tabela_despesas", []core.Row{expense("Sal", "12.5"), expense("Carvão", "30")}, shared)
	require.NoError(t, err)

	ds, err := s.Load(ctx, "tabela_despesas")
	require.NoError(t, err)
	assert.Equal(t, []string{
		core.ColDescription, core.ColAmount, core.ColCut,
		core.ColWeight, core.ColUnitPrice, core.ColQuantity,
	}, ds.ColumnNames())
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "Sal", ds.Get(0, core.ColDescription).Text)
	assert.Equal(t, "12.50", ds.Get(0, core.ColAmount).String())
	assert.Equal(t, "Picanha", ds.Get(1, core.ColCut).Text)
	assert.True(t, ds.Get(1, core.ColWeight).IsEmpty())

	col, ok := ds.Column(core.ColAmount)
	require.True(t, ok)
	assert.Equal(t, core.KindCurrency, col.Kind)
}

func TestStore_AppendKeepsPriorRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	_, err := s.Append(ctx, "d", []core.Row{expense("a", "1"), expense("b", "2")}, nil)
	require.NoError(t, err)
	before, err := s.Load(ctx, "d")
	require.NoError(t, err)

	added := []core.Row{expense("c", "3.333"), expense("d", "4"), expense("e", "0.1")}
	_, err = s.Append(ctx, "d", added, core.Row{core.ColCut: core.Text("x")})
	require.NoError(t, err)

	after, err := s.Load(ctx, "d")
	require.NoError(t, err)
	require.Len(t, after.Rows, len(before.Rows)+len(added))
	for i := range before.Rows {
		for _, name := range before.ColumnNames() {
			assert.True(t, before.Get(i, name).Equal(after.Get(i, name)), "row %d column %s", i, name)
		}
	}
	assert.Equal(t, "3.33", after.Get(2, core.ColAmount).String())
	assert.Equal(t, "e", after.Get(4, core.ColDescription).Text)
}

func TestStore_RowOverridesSharedField(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	row := expense("a", "1")
	row[core.ColCut] = core.Text("own")
	ds, err := s.Append(ctx, "d", []core.Row{row}, core.Row{core.ColCut: core.Text("shared")})
	require.NoError(t, err)
	assert.Equal(t, "own", ds.Get(0, core.ColCut).Text)
}

func TestStore_InvalidRowLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	_, err := s.Append(ctx, "d", []core.Row{expense("a", "1")}, nil)
	require.NoError(t, err)
	original, err := os.ReadFile(s.Path("d"))
	require.NoError(t, err)

	bad := core.Row{core.ColDescription: core.Text("no amount")}
	_, err = s.Append(ctx, "d", []core.Row{expense("b", "2"), bad}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	current, err := os.ReadFile(s.Path("d"))
	require.NoError(t, err)
	assert.Equal(t, original, current)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_AppendRejectsEmptyBatch(t *testing.T) {
	s := NewStore(t.TempDir(), expenseSchema(t), nil)
	_, err := s.Append(context.Background(), "d", nil, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.False(t, s.Exists("d"))
}

func TestStore_ConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, "d", []core.Row{expense(fmt.Sprintf("item %d", i), "1")}, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ds, err := s.Load(ctx, "d")
	require.NoError(t, err)
	assert.Len(t, ds.Rows, n)
	assert.Zero(t, s.locks.size())
}

func TestStore_MigratesOlderSchemaFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v1, err := core.ExpenseSchema(1)
	require.NoError(t, err)
	old := NewStore(dir, v1, nil)
	_, err = old.Append(ctx, "d", []core.Row{expense("a", "1")}, nil)
	require.NoError(t, err)

	s := NewStore(dir, expenseSchema(t), nil)
	row := expense("b", "2")
	row[core.ColWeight] = core.Number(decimal.RequireFromString("1.5"))
	ds, err := s.Append(ctx, "d", []core.Row{row}, nil)
	require.NoError(t, err)

	assert.Equal(t, core.LatestExpenseVersion, ds.Version)
	assert.Equal(t, core.ColCut, ds.Columns[2].Name)
	assert.True(t, ds.Get(0, core.ColWeight).IsEmpty())
	assert.Equal(t, "1.5", ds.Get(1, core.ColWeight).String())
}

func TestStore_DeriveLeavesBaseAlone(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)
	_, err := s.Append(ctx, "base", []core.Row{expense("a", "1")}, nil)
	require.NoError(t, err)

	out, err := s.Derive(ctx, "base", "derived", func(ds *core.Dataset) error {
		return ds.AddColumn(core.Column{Name: "Extra", Kind: core.KindText})
	})
	require.NoError(t, err)
	assert.Equal(t, "derived", out.Name)
	assert.True(t, s.Exists("derived"))

	base, err := s.Load(ctx, "base")
	require.NoError(t, err)
	assert.False(t, base.HasColumn("Extra"))

	_, err = s.Derive(ctx, "missing", "x", func(*core.Dataset) error { return nil })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_SaveFailureIsStorageError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := NewStore(filepath.Join(blocker, "sub"), expenseSchema(t), nil)
	err := s.Save(context.Background(), core.NewDataset("d", 1, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorage)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"tabela_despesas", "planilha importada", "v2-data.final"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "  ", "..", "../etc/passwd", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateName(name), core.ErrValidation, name)
	}
}

func TestStore_DeriveInPlace(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), expenseSchema(t), nil)

	_, err := s.Derive(ctx, "x", "x", func(*core.Dataset) error { return nil })
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, s.Exists("x"))

	_, err = s.Append(ctx, "x", []core.Row{expense("a", "1")}, nil)
	require.NoError(t, err)
	out, err := s.Derive(ctx, "x", "x", func(ds *core.Dataset) error {
		return ds.AddColumn(core.Column{Name: "Extra", Kind: core.KindNumber})
	})
	require.NoError(t, err)
	assert.True(t, out.HasColumn("Extra"))
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "missing"), expenseSchema(t), nil)
	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	s = NewStore(dir, expenseSchema(t), nil)
	ctx := context.Background()
	for _, name := range []string{"b", "a"} {
		_, err := s.Append(ctx, name, []core.Row{expense("x", "1")}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.xlsx.123.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "graficos"), 0o755))

	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

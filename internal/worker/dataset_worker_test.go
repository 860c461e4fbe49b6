package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/chart"
	"ledgersheet/internal/core"
	"ledgersheet/internal/dataset"
	"ledgersheet/internal/sheets/memory"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *core.Dataset) (string, error) {
	return "", errors.New("quota exceeded")
}

func seededStore(t *testing.T, names ...string) *dataset.Store {
	t.Helper()
	schema, err := core.ExpenseSchema(core.LatestExpenseVersion)
	require.NoError(t, err)
	store := dataset.NewStore(t.TempDir(), schema, nil)
	for _, name := range names {
		_, err := store.Append(context.Background(), name, []core.Row{{
			core.ColDescription: core.Text("Sal"),
			core.ColAmount:      core.Currency(decimal.NewFromInt(12)),
		}}, nil)
		require.NoError(t, err)
	}
	return store
}

func renderer() *chart.Renderer {
	return chart.NewRenderer(chart.Options{Width: 200, Height: 150}, nil)
}

func TestHandleDatasetChanged(t *testing.T) {
	store := seededStore(t, "tabela_despesas")
	pub := memory.New()
	w := NewDatasetWorker(store, renderer(), pub, filepath.Join(t.TempDir(), "graficos"), nil)

	msg := amqp.NewDatasetChangedMessage("tabela_despesas", "append", store.Path("tabela_despesas"), 1)
	require.NoError(t, w.HandleDatasetChanged(context.Background(), msg))

	_, err := os.Stat(filepath.Join(w.ChartDir("tabela_despesas"), "valor_r.png"))
	assert.NoError(t, err)
	assert.Equal(t, 1, pub.Publishes())
}

func TestHandleDatasetChanged_DropsUnprocessable(t *testing.T) {
	store := seededStore(t)
	w := NewDatasetWorker(store, renderer(), nil, t.TempDir(), nil)

	for _, name := range []string{"gone", "../etc"} {
		msg := amqp.NewDatasetChangedMessage(name, "append", "", 0)
		assert.NoError(t, w.HandleDatasetChanged(context.Background(), msg), name)
	}
}

func TestHandleDatasetChanged_PublishFailureRequeues(t *testing.T) {
	store := seededStore(t, "tabela_despesas")
	w := NewDatasetWorker(store, renderer(), failingPublisher{}, t.TempDir(), nil)

	msg := amqp.NewDatasetChangedMessage("tabela_despesas", "append", "", 1)
	err := w.HandleDatasetChanged(context.Background(), msg)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestProcessAll(t *testing.T) {
	store := seededStore(t, "a", "b")
	pub := memory.New()
	w := NewDatasetWorker(store, renderer(), pub, t.TempDir(), nil)

	require.NoError(t, w.ProcessAll(context.Background()))
	assert.Equal(t, 2, pub.Publishes())
	for _, name := range []string{"a", "b"} {
		_, ok := pub.Grid(name)
		assert.True(t, ok, name)
		assert.DirExists(t, w.ChartDir(name))
	}

	empty := NewDatasetWorker(seededStore(t), renderer(), pub, t.TempDir(), nil)
	assert.NoError(t, empty.ProcessAll(context.Background()))
}

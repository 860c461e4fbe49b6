package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/config"
	"ledgersheet/internal/log"
	"ledgersheet/internal/services"
	"ledgersheet/internal/sheets"
	gsheet "ledgersheet/internal/sheets/google"
	"ledgersheet/internal/sheets/memory"
)

type fakePublisher struct {
	msgs []*amqp.DatasetChangedMessage
	err  error
}

func (f *fakePublisher) PublishDatasetChanged(_ context.Context, msg *amqp.DatasetChangedMessage) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestAMQPNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAMQPNotifier(pub)

	err := n.NotifyDatasetChanged(context.Background(), services.Change{
		Dataset: "tabela_despesas", Operation: "append", Path: "out/tabela_despesas.xlsx", Rows: 4,
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "tabela_despesas", pub.msgs[0].Dataset)
	assert.Equal(t, "append", pub.msgs[0].Operation)
	assert.Equal(t, 4, pub.msgs[0].Rows)

	pub.err = amqp.ErrCircuitOpen
	err = n.NotifyDatasetChanged(context.Background(), services.Change{Dataset: "x"})
	assert.ErrorIs(t, err, amqp.ErrCircuitOpen)
}

func testFactory() *Factory {
	f := NewFactory(log.Discard())
	f.dialAMQP = func(string, string, string, *log.Logger) (*amqp.Client, error) {
		return nil, errors.New("connection refused")
	}
	return f
}

func TestFactory_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing configured", func(t *testing.T) {
		res, err := testFactory().Build(ctx, &config.Config{})
		require.NoError(t, err)
		assert.Nil(t, res.Notifier)
		assert.Nil(t, res.Publisher)
		assert.NoError(t, res.Cleanup())
	})

	t.Run("unreachable broker is skipped", func(t *testing.T) {
		res, err := testFactory().Build(ctx, &config.Config{AMQPURL: "amqp://nowhere"})
		require.NoError(t, err)
		assert.Nil(t, res.Notifier)
	})

	t.Run("sheets publisher", func(t *testing.T) {
		f := testFactory()
		var got gsheet.Config
		f.openSheets = func(_ context.Context, cfg gsheet.Config, _ *log.Logger) (sheets.DatasetPublisher, error) {
			got = cfg
			return memory.New(), nil
		}
		res, err := f.Build(ctx, &config.Config{
			GoogleSpreadsheetID:      "sheet-id",
			GoogleSheetName:          "Dados",
			GoogleServiceAccountJSON: `{"type":"service_account"}`,
		})
		require.NoError(t, err)
		assert.NotNil(t, res.Publisher)
		assert.Equal(t, "sheet-id", got.SpreadsheetID)
		assert.Equal(t, "Dados", got.SheetName)
	})

	t.Run("sheets failure", func(t *testing.T) {
		f := testFactory()
		f.openSheets = func(context.Context, gsheet.Config, *log.Logger) (sheets.DatasetPublisher, error) {
			return nil, errors.New("bad credentials")
		}
		_, err := f.Build(ctx, &config.Config{GoogleSpreadsheetID: "sheet-id"})
		assert.ErrorContains(t, err, "bad credentials")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := testFactory().Build(ctx, nil)
		assert.Error(t, err)
	})
}

package backend

import (
	"context"

	"ledgersheet/internal/amqp"
	"ledgersheet/internal/services"
)

// ChangePublisher is the part of the AMQP client the notifier needs.
type ChangePublisher interface {
	PublishDatasetChanged(ctx context.Context, msg *amqp.DatasetChangedMessage) error
}

var _ services.ChangeNotifier = (*AMQPNotifier)(nil)

// AMQPNotifier turns committed writes into dataset-changed messages.
type AMQPNotifier struct {
	pub ChangePublisher
}

func NewAMQPNotifier(pub ChangePublisher) *AMQPNotifier {
	return &AMQPNotifier{pub: pub}
}

func (n *AMQPNotifier) NotifyDatasetChanged(ctx context.Context, c services.Change) error {
	return n.pub.PublishDatasetChanged(ctx, amqp.NewDatasetChangedMessage(c.Dataset, c.Operation, c.Path, c.Rows))
}

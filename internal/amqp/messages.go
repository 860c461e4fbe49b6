package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// DatasetChangedMessage announces that a dataset file was rewritten.
// Consumers reload the file themselves; the message carries no rows.
type DatasetChangedMessage struct {
	Dataset   string    `json:"dataset"`
	Operation string    `json:"operation"`
	Rows      int       `json:"rows"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDatasetChangedMessage stamps a change event with the current time.
func NewDatasetChangedMessage(dataset, operation, path string, rows int) *DatasetChangedMessage {
	return &DatasetChangedMessage{
		Dataset:   dataset,
		Operation: operation,
		Rows:      rows,
		Path:      path,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DatasetChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DatasetChangedMessageFromJSON decodes a message. A message without a
// dataset name is rejected.
func DatasetChangedMessageFromJSON(data []byte) (*DatasetChangedMessage, error) {
	var msg DatasetChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Dataset == "" {
		return nil, errors.New("message has no dataset")
	}
	return &msg, nil
}

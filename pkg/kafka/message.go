package kafka

import (
	"encoding/json"
	"time"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Change *AccountChange
}

// AccountChange is the shape of upstream CRM change messages. Any create,
// update, or delete of an account invalidates its cached clusters.
type AccountChange struct {
	Operation  string          `json:"operation"` // create, update, delete
	AccountID  string          `json:"account_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ParseChange parses the message value as an account change. Messages may
// arrive either as the native change shape or as a Debezium CDC envelope
// from the upstream accounts table.
func (m *IncomingMessage) ParseChange() error {
	var change AccountChange
	if err := json.Unmarshal(m.Value, &change); err != nil {
		return err
	}

	if change.Operation == "" {
		envelope, err := ParseDebeziumMessage(m.Value)
		if err != nil {
			return err
		}
		if envelope.Payload.Op != "" {
			cdc, err := envelope.Payload.ToAccountChange()
			if err != nil {
				return err
			}
			if cdc != nil {
				m.Change = cdc
				return nil
			}
		}
	}

	if change.AccountID == "" {
		change.AccountID = m.Key
	}
	m.Change = &change
	return nil
}

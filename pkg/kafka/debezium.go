package kafka

import (
	"encoding/json"
	"time"
)

// DebeziumEnvelope is the standard Debezium CDC message format
type DebeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload DebeziumPayload `json:"payload"`
}

// DebeziumPayload contains the before/after state of a row
type DebeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
}

// DebeziumSource contains metadata about the source of the change
type DebeziumSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot,omitempty"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
}

// IsCreate returns true if this is a create operation
func (p *DebeziumPayload) IsCreate() bool {
	return p.Op == "c" || p.Op == "r"
}

// IsUpdate returns true if this is an update operation
func (p *DebeziumPayload) IsUpdate() bool {
	return p.Op == "u"
}

// IsDelete returns true if this is a delete operation
func (p *DebeziumPayload) IsDelete() bool {
	return p.Op == "d"
}

// Timestamp returns the event timestamp
func (p *DebeziumPayload) Timestamp() time.Time {
	return time.UnixMilli(p.TsMs)
}

// ParseDebeziumMessage parses a raw Kafka message as a Debezium envelope
func ParseDebeziumMessage(data []byte) (*DebeziumEnvelope, error) {
	var envelope DebeziumEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// accountRow is the subset of the upstream accounts table we care about
type accountRow struct {
	ID string `json:"id"`
}

// ToAccountChange converts a CDC payload from the upstream accounts table
// into the change shape the invalidation handler consumes. Returns nil when
// the payload carries no usable row.
func (p *DebeziumPayload) ToAccountChange() (*AccountChange, error) {
	raw := p.After
	op := "update"
	switch {
	case p.IsDelete():
		raw = p.Before
		op = "delete"
	case p.IsCreate():
		op = "create"
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var row accountRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}

	return &AccountChange{
		Operation:  op,
		AccountID:  row.ID,
		Data:       p.After,
		OccurredAt: p.Timestamp(),
	}, nil
}

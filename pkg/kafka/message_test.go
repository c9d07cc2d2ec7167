package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChangeNativeShape(t *testing.T) {
	msg := &IncomingMessage{
		Value: []byte(`{"operation":"update","account_id":"acc-1","occurred_at":"2026-08-01T12:00:00Z"}`),
	}
	require.NoError(t, msg.ParseChange())
	require.NotNil(t, msg.Change)

	assert.Equal(t, "update", msg.Change.Operation)
	assert.Equal(t, "acc-1", msg.Change.AccountID)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), msg.Change.OccurredAt)
}

func TestParseChangeFallsBackToMessageKey(t *testing.T) {
	msg := &IncomingMessage{
		Key:   "acc-2",
		Value: []byte(`{"operation":"delete"}`),
	}
	require.NoError(t, msg.ParseChange())
	assert.Equal(t, "acc-2", msg.Change.AccountID)
}

func TestParseChangeDebeziumEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantOp  string
		wantID  string
	}{
		{
			name:    "create",
			payload: `{"payload":{"after":{"id":"acc-3","name":"Acme"},"op":"c","ts_ms":1754042400000}}`,
			wantOp:  "create",
			wantID:  "acc-3",
		},
		{
			name:    "update",
			payload: `{"payload":{"before":{"id":"acc-3"},"after":{"id":"acc-3","name":"Acme Corp"},"op":"u","ts_ms":1754042400000}}`,
			wantOp:  "update",
			wantID:  "acc-3",
		},
		{
			name:    "delete reads before image",
			payload: `{"payload":{"before":{"id":"acc-4"},"after":null,"op":"d","ts_ms":1754042400000}}`,
			wantOp:  "delete",
			wantID:  "acc-4",
		},
		{
			name:    "snapshot read treated as create",
			payload: `{"payload":{"after":{"id":"acc-5"},"op":"r","ts_ms":1754042400000}}`,
			wantOp:  "create",
			wantID:  "acc-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &IncomingMessage{Value: []byte(tt.payload)}
			require.NoError(t, msg.ParseChange())
			require.NotNil(t, msg.Change)
			assert.Equal(t, tt.wantOp, msg.Change.Operation)
			assert.Equal(t, tt.wantID, msg.Change.AccountID)
			assert.Equal(t, time.UnixMilli(1754042400000), msg.Change.OccurredAt)
		})
	}
}

func TestParseChangeInvalidJSON(t *testing.T) {
	msg := &IncomingMessage{Value: []byte(`{not json`)}
	assert.Error(t, msg.ParseChange())
}

func TestParseChangeTombstonePayload(t *testing.T) {
	// A delete with no row image falls through to the native shape with the
	// message key as the account ID
	msg := &IncomingMessage{
		Key:   "acc-6",
		Value: []byte(`{"payload":{"before":null,"after":null,"op":"d","ts_ms":1754042400000}}`),
	}
	require.NoError(t, msg.ParseChange())
	require.NotNil(t, msg.Change)
	assert.Equal(t, "acc-6", msg.Change.AccountID)
}

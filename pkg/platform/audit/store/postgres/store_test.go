package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "quorum/pkg/platform/audit"
)

func TestDecodePayload(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC)
	raw, err := json.Marshal(Payload{
		ID:        "evt-1",
		Category:  string(audit.CategoryCompliance),
		Timestamp: ts.Format(time.RFC3339Nano),
		Action:    string(audit.EventRulesCommitted),
		ActorID:   "alice",
		Subject:   "3",
		Target:    "authorization",
	})
	require.NoError(t, err)

	event, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, audit.CategoryCompliance, event.Category)
	assert.True(t, ts.Equal(event.Timestamp))
	assert.Equal(t, "alice", event.ActorID)
	assert.Equal(t, "authorization", event.Target)
}

func TestDecodePayloadRejectsBadTimestamp(t *testing.T) {
	_, err := DecodePayload([]byte(`{"id":"x","timestamp":"yesterday"}`))
	assert.Error(t, err)
}

package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordCarriesRoutingHeaders(t *testing.T) {
	rec := Record("quorum.audit", Row{
		ID:            "0b8f",
		AggregateType: "subject",
		AggregateID:   "draft-1",
		EventType:     "rules_committed",
		Payload:       []byte(`{"action":"rules_committed"}`),
	})

	assert.Equal(t, "quorum.audit", rec.Topic)
	assert.Equal(t, []byte("draft-1"), rec.Key)
	assert.JSONEq(t, `{"action":"rules_committed"}`, string(rec.Value))

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "rules_committed", headers["event_type"])
	assert.Equal(t, "subject", headers["aggregate_type"])
	assert.Equal(t, "0b8f", headers["outbox_id"])
}

func TestOptionsIgnoreNonPositive(t *testing.T) {
	r := New(nil, nil, "t", WithBatchSize(0), WithInterval(-1))
	assert.Equal(t, defaultBatchSize, r.batchSize)
	assert.Equal(t, defaultInterval, r.interval)

	r = New(nil, nil, "t", WithBatchSize(5))
	assert.Equal(t, 5, r.batchSize)
}

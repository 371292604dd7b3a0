//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "quorum/pkg/platform/audit"
	"quorum/pkg/platform/audit/outbox"
	"quorum/pkg/platform/audit/store/postgres"
	"quorum/pkg/testutil/containers"
)

func TestRelayPublishesOutboxToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	mgr := containers.GetManager()
	pg := mgr.GetPostgres(t)
	rp := mgr.GetRedpanda(t)

	store := postgres.New(pg.DB)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, pg.TruncateTables(ctx, "outbox"))

	const topic = "quorum.audit.test"
	producer, err := kgo.NewClient(kgo.SeedBrokers(rp.Brokers...))
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, outbox.EnsureTopic(ctx, producer, topic, 1, 1))
	require.NoError(t, outbox.EnsureTopic(ctx, producer, topic, 1, 1), "existing topic is fine")

	require.NoError(t, store.Append(ctx, audit.Event{Subject: "draft-1", Action: string(audit.EventRulesCommitted)}))

	relay := outbox.New(pg.Pool, producer, topic)
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "published rows are not sent twice")

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, "draft-1", string(records[0].Key))

	event, err := postgres.DecodePayload(records[0].Value)
	require.NoError(t, err)
	assert.Equal(t, string(audit.EventRulesCommitted), event.Action)
}

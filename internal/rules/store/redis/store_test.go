package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"quorum/internal/rules/models"
	"quorum/internal/rules/store"
	"quorum/internal/rules/store/storetest"
	"quorum/pkg/platform/sentinel"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr, client
}

func TestRedisStoreContract(t *testing.T) {
	suite.Run(t, &storetest.Suite{NewStore: func() store.Store {
		s, _, _ := newTestStore(t)
		return s
	}})
}

func TestKeysAreNamespaced(t *testing.T) {
	s, mr, _ := newTestStore(t, WithPrefix("test:"))
	ctx := context.Background()
	d := &models.RuleSettingDraft{ID: "d1", Target: models.ValidationTarget("treasurer")}

	require.NoError(t, s.RunInTx(ctx, d.Target, func(tx store.Tx) error { return tx.CreateDraft(ctx, d) }))

	assert.True(t, mr.Exists("test:draft:d1"))
	got, err := mr.Get("test:open:validation:treasurer")
	require.NoError(t, err)
	assert.Equal(t, "d1", got)
}

func TestConcurrentWriterOutsideProcessForcesRetry(t *testing.T) {
	s, _, client := newTestStore(t, WithMaxRetries(3))
	ctx := context.Background()
	d := &models.RuleSettingDraft{ID: "d1", Target: models.TargetAuthorization}
	require.NoError(t, s.RunInTx(ctx, d.Target, func(tx store.Tx) error { return tx.CreateDraft(ctx, d) }))

	attempts := 0
	err := s.RunInTx(ctx, d.Target, func(tx store.Tx) error {
		attempts++
		if _, err := tx.GetDraft(ctx, "d1"); err != nil {
			return err
		}
		if attempts == 1 {
			// another process touches the watched draft between read and commit
			require.NoError(t, client.Set(ctx, s.draftKey("d1"), `{"id":"d1","target":"authorization"}`, 0).Err())
		}
		return tx.PutApproval(ctx, "d1", models.Approval{Identity: "alice"})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got, err := s.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Approvers())
}

func TestRetriesExhaustedIsConflict(t *testing.T) {
	s, _, client := newTestStore(t, WithMaxRetries(2))
	ctx := context.Background()

	err := s.RunInTx(ctx, models.TargetAuthorization, func(tx store.Tx) error {
		require.NoError(t, client.Incr(ctx, s.latestKey()).Err())
		return tx.CreateDraft(ctx, &models.RuleSettingDraft{ID: "d1", Target: models.TargetAuthorization})
	})
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestUnreachableRedis(t *testing.T) {
	s, mr, _ := newTestStore(t, WithMaxRetries(1))
	mr.Close()

	_, err := s.GetDraft(context.Background(), "d1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}

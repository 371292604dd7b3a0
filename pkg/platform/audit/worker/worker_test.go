package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "quorum/pkg/platform/audit"
	"quorum/pkg/platform/audit/store/memory"
)

type failingStore struct {
	audit.Store
	calls int
}

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.calls++
	return errors.New("disk full")
}

func TestWorker_DrainsUntilClosed(t *testing.T) {
	store := memory.NewInMemoryStore()
	inbox := make(chan audit.Event, 3)
	for _, action := range []string{"a", "b", "c"} {
		inbox <- audit.Event{Subject: "draft-1", Action: action}
	}
	close(inbox)

	require.NoError(t, NewWorker(store, inbox, nil).Run(context.Background()))

	events, err := store.ListBySubject(context.Background(), "draft-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestWorker_ContinuesAfterAppendFailure(t *testing.T) {
	store := &failingStore{}
	inbox := make(chan audit.Event, 2)
	inbox <- audit.Event{Action: "a"}
	inbox <- audit.Event{Action: "b"}
	close(inbox)

	require.NoError(t, NewWorker(store, inbox, nil).Run(context.Background()))
	assert.Equal(t, 2, store.calls)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWorker(memory.NewInMemoryStore(), make(chan audit.Event), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

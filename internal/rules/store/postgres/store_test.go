package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/sentinel"
)

func TestMapErr(t *testing.T) {
	t.Run("unique violation is a conflict", func(t *testing.T) {
		err := mapErr(&pq.Error{Code: "23505", Constraint: "rule_drafts_target_open"})
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		assert.Contains(t, err.Error(), "rule_drafts_target_open")
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		in := &pq.Error{Code: "42P01"}
		assert.Same(t, error(in), mapErr(in))
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		err := mapErr(context.DeadlineExceeded)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("bad connection is unavailable", func(t *testing.T) {
		assert.ErrorIs(t, mapErr(driver.ErrBadConn), sentinel.ErrUnavailable)
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Equal(t, boom, mapErr(boom))
	})
}

func TestNullTime(t *testing.T) {
	assert.False(t, nullTime(time.Time{}).Valid)
	assert.True(t, nullTime(time.Now()).Valid)
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "alice", identityKey("  Alice "))
}

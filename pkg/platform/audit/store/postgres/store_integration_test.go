//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	audit "quorum/pkg/platform/audit"
	"quorum/pkg/platform/audit/store/postgres"
	"quorum/pkg/testutil/containers"
)

type OutboxStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestOutboxStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxStoreSuite))
}

func (s *OutboxStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *OutboxStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox"))
}

func (s *OutboxStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	for _, action := range []audit.AuditEvent{audit.EventDraftProposed, audit.EventDraftApproved} {
		s.Require().NoError(s.store.Append(ctx, audit.Event{Subject: "draft-1", Action: string(action), ActorID: "alice"}))
	}
	s.Require().NoError(s.store.Append(ctx, audit.Event{Subject: "draft-2", Action: string(audit.EventDraftCancelled)}))

	events, err := s.store.ListBySubject(ctx, "draft-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventDraftProposed), events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)

	recent, err := s.store.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal("draft-2", recent[0].Subject)
}

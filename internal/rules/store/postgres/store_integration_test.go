//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"quorum/internal/rules/store"
	"quorum/internal/rules/store/postgres"
	"quorum/internal/rules/store/storetest"
	"quorum/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storetest.Suite
	pg *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := &PostgresStoreSuite{}
	s.pg = containers.GetManager().GetPostgres(t)
	st := postgres.New(s.pg.DB)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s.NewStore = func() store.Store { return st }
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.pg.TruncateTables(context.Background(),
		"rule_draft_approvals", "rule_draft_rejections", "rule_drafts", "rule_configurations")
	s.Require().NoError(err)
	s.Suite.SetupTest()
}

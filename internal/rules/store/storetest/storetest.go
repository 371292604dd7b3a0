// Package storetest holds behaviour tests shared by every rule store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"quorum/internal/rules/models"
	"quorum/internal/rules/store"
	"quorum/pkg/platform/sentinel"
)

// Suite runs the store contract against a backend. Embedders set NewStore
// and may hook SetupTest for cleanup between tests.
type Suite struct {
	suite.Suite
	NewStore func() store.Store

	store store.Store
	ctx   context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

func newDraft(target models.Target) *models.RuleSettingDraft {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.RuleSettingDraft{
		ID:     uuid.NewString(),
		Target: target,
		ProposedRules: models.RuleSettings{ID: "rules", RulesContainer: models.RulesContainer{
			AuthorizationSettings: map[string][]models.RuleDefinition{models.AuthorizationKey: {{
				Field:      models.FieldAmount,
				Conditions: []models.RuleCondition{{Method: models.MethodGreaterThan, Values: []string{"1000"}}},
				Output:     &models.RuleOutput{Threshold: 2},
			}}},
			ValidationSettings: map[string][]models.RuleDefinition{},
		}},
		ProposedBy: "admin-1",
		CreatedAt:  now,
		Expiry:     now.Add(time.Hour),
	}
}

func committed(version int64, draftID string) *models.CommittedRules {
	return &models.CommittedRules{
		Version:         version,
		PreviousVersion: version - 1,
		Settings:        models.RuleSettings{ID: fmt.Sprintf("rules-v%d", version), RulesContainer: models.RulesContainer{ValidationSettings: map[string][]models.RuleDefinition{}}},
		Cert:            fmt.Sprintf("cert-%d", version),
		Digest:          "digest",
		DraftID:         draftID,
		CommittedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *Suite) create(d *models.RuleSettingDraft) error {
	return s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
		return tx.CreateDraft(s.ctx, d)
	})
}

func (s *Suite) TestCreateAndGetDraft() {
	d := newDraft(models.TargetAuthorization)
	s.Require().NoError(s.create(d))

	got, err := s.store.GetDraft(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(d.ID, got.ID)
	s.Equal(d.Target, got.Target)
	s.Equal(d.ProposedRules.AuthorizationRules(), got.ProposedRules.AuthorizationRules())

	open, err := s.store.GetOpenDraft(s.ctx, models.TargetAuthorization)
	s.Require().NoError(err)
	s.Equal(d.ID, open.ID)
}

func (s *Suite) TestMissingDraft() {
	_, err := s.store.GetDraft(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.GetOpenDraft(s.ctx, models.ValidationTarget("auditor"))
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.RunInTx(s.ctx, models.TargetAuthorization, func(tx store.Tx) error {
		return tx.DeleteDraft(s.ctx, "nope")
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *Suite) TestOneOpenDraftPerTarget() {
	s.Require().NoError(s.create(newDraft(models.TargetAuthorization)))
	err := s.create(newDraft(models.TargetAuthorization))
	s.ErrorIs(err, sentinel.ErrConflict)

	s.NoError(s.create(newDraft(models.ValidationTarget("treasurer"))), "other targets are independent")
}

func (s *Suite) TestConcurrentCreateExactlyOneWins() {
	const workers = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.create(newDraft(models.TargetAuthorization))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(workers-1), conflicts.Load())
}

func (s *Suite) TestConcurrentApprovalsAreAllRecorded() {
	d := newDraft(models.TargetAuthorization)
	s.Require().NoError(s.create(d))

	const approvers = 10
	var wg sync.WaitGroup
	for i := range approvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
				return tx.PutApproval(s.ctx, d.ID, models.Approval{Identity: fmt.Sprintf("auth-%d", i), ApprovalBlob: "blob"})
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.store.GetDraft(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Len(got.Approvers(), approvers)
}

func (s *Suite) TestApprovalUpsertByIdentity() {
	d := newDraft(models.TargetAuthorization)
	s.Require().NoError(s.create(d))

	for _, blob := range []string{"first", "second"} {
		err := s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
			return tx.PutApproval(s.ctx, d.ID, models.Approval{Identity: "alice", ApprovalBlob: blob, AuthBlob: "auth"})
		})
		s.Require().NoError(err)
	}
	err := s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
		return tx.PutRejection(s.ctx, d.ID, models.Rejection{Identity: "bob", Reason: "too permissive"})
	})
	s.Require().NoError(err)

	got, err := s.store.GetDraft(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Approvals, 1)
	s.Equal("second", got.Approvals[0].ApprovalBlob)
	s.Require().Len(got.Rejections, 1)
	s.Equal("too permissive", got.Rejections[0].Reason)
}

func (s *Suite) TestFailedTxLeavesNoTrace() {
	d := newDraft(models.TargetAuthorization)
	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
		if err := tx.CreateDraft(s.ctx, d); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.GetDraft(s.ctx, d.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.NoError(s.create(newDraft(models.TargetAuthorization)))
}

func (s *Suite) TestCommitAndDeleteDraftTogether() {
	d := newDraft(models.TargetAuthorization)
	s.Require().NoError(s.create(d))

	_, err := s.store.GetRuleConfiguration(s.ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.RunInTx(s.ctx, d.Target, func(tx store.Tx) error {
		if err := tx.AddRuleConfiguration(s.ctx, committed(1, d.ID)); err != nil {
			return err
		}
		return tx.DeleteDraft(s.ctx, d.ID)
	})
	s.Require().NoError(err)

	latest, err := s.store.GetRuleConfiguration(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), latest.Version)
	s.Equal("cert-1", latest.Cert)
	s.Equal(d.ID, latest.DraftID)

	_, err = s.store.GetDraft(s.ctx, d.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.NoError(s.create(newDraft(models.TargetAuthorization)), "target is free after commit")
}

func (s *Suite) TestVersionsAreArchived() {
	for v := int64(1); v <= 3; v++ {
		err := s.store.RunInTx(s.ctx, models.TargetAuthorization, func(tx store.Tx) error {
			return tx.AddRuleConfiguration(s.ctx, committed(v, ""))
		})
		s.Require().NoError(err)
	}

	latest, err := s.store.GetRuleConfiguration(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), latest.Version)

	v2, err := s.store.GetRuleConfigurationVersion(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal("cert-2", v2.Cert)

	_, err = s.store.GetRuleConfigurationVersion(s.ctx, 9)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *Suite) TestStaleCommitConflicts() {
	err := s.store.RunInTx(s.ctx, models.TargetAuthorization, func(tx store.Tx) error {
		return tx.AddRuleConfiguration(s.ctx, committed(1, ""))
	})
	s.Require().NoError(err)

	err = s.store.RunInTx(s.ctx, models.ValidationTarget("treasurer"), func(tx store.Tx) error {
		return tx.AddRuleConfiguration(s.ctx, committed(1, ""))
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *Suite) TestListDrafts() {
	a := newDraft(models.TargetAuthorization)
	b := newDraft(models.ValidationTarget("treasurer"))
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	s.Require().NoError(s.create(a))
	s.Require().NoError(s.create(b))

	list, err := s.store.ListDrafts(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(a.ID, list[0].ID)
	s.Equal(b.ID, list[1].ID)
}

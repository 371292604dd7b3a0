// Package store defines persistence for rule drafts and committed rule sets.
//
// Implementations live in the memory, postgres and redis subpackages. All of
// them return sentinel errors (pkg/platform/sentinel) for infrastructure
// facts; the workflow service translates them into domain errors.
package store

import (
	"context"

	"quorum/internal/rules/models"
)

// Reader exposes the read side of the store.
type Reader interface {
	// GetDraft returns sentinel.ErrNotFound when no draft has id.
	GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error)
	// GetOpenDraft returns the draft open for target, or sentinel.ErrNotFound.
	GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error)
	ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error)
	// GetRuleConfiguration returns the latest committed version, or
	// sentinel.ErrNotFound before the first commit.
	GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error)
	// GetRuleConfigurationVersion returns one archived version.
	GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error)
}

// Tx is the read-write view of the store inside RunInTx.
type Tx interface {
	Reader
	// CreateDraft fails with sentinel.ErrConflict when target already has an
	// open draft.
	CreateDraft(ctx context.Context, draft *models.RuleSettingDraft) error
	// PutApproval upserts an approval keyed by identity.
	PutApproval(ctx context.Context, draftID string, approval models.Approval) error
	// PutRejection upserts a rejection keyed by identity.
	PutRejection(ctx context.Context, draftID string, rejection models.Rejection) error
	// DeleteDraft fails with sentinel.ErrNotFound when the draft is gone.
	DeleteDraft(ctx context.Context, id string) error
	// AddRuleConfiguration appends a new version. It fails with
	// sentinel.ErrConflict unless rules.PreviousVersion is the latest version.
	AddRuleConfiguration(ctx context.Context, rules *models.CommittedRules) error
}

// Store is a rule store with per-target transactions. RunInTx serialises
// callers working on the same target; fn's effects are applied atomically
// or not at all.
type Store interface {
	Reader
	RunInTx(ctx context.Context, target models.Target, fn func(tx Tx) error) error
}

// Package ports declares the collaborators the rules module consumes. The
// IAM client in internal/iam implements them.
package ports

import (
	"context"
	"time"

	"quorum/internal/rules/models"
	"quorum/pkg/platform/audit"
)

// ThresholdSource reports how many distinct authorizer approvals a rule
// change needs. The value lives in the IAM role configuration, not in the
// draft.
type ThresholdSource interface {
	AdminThreshold(ctx context.Context) (int, error)
}

// SignRequest carries everything the external co-signing service needs to
// certify a rule set. The blobs are opaque here.
type SignRequest struct {
	// DraftBlob is the canonical JSON of the draft being committed.
	DraftBlob string
	// Approvals are the approval artefacts of distinct approvers.
	Approvals []string
	Expiry    time.Time
	// NewSetting is the canonical JSON of the rule set to certify.
	NewSetting string
}

// Signer produces the certificate bound to a new rule set.
type Signer interface {
	SignRuleSet(ctx context.Context, req SignRequest) (string, error)
}

// RealmRules is the rule set a realm was provisioned with, outside of the
// draft workflow.
type RealmRules struct {
	Settings models.RuleSettings
	Cert     string
}

// RuleSource reads the realm's provisioned rule set, used to seed an empty
// store.
type RuleSource interface {
	RealmRules(ctx context.Context) (*RealmRules, error)
}

// AuditPublisher emits audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

package models

import (
	"slices"
	"strings"
	"time"
)

// DraftState is the workflow position of a rule-change target.
type DraftState string

const (
	StateNoDraft   DraftState = "NO_DRAFT"
	StateProposed  DraftState = "PROPOSED"
	StateApproved  DraftState = "APPROVED"
	StateRejected  DraftState = "REJECTED"
	StateCancelled DraftState = "CANCELLED"
	StateExpired   DraftState = "EXPIRED"
)

// CanTransition reports whether the workflow may move from one state to another.
// Rejected, cancelled and expired all return the target to NoDraft.
func CanTransition(from, to DraftState) bool {
	switch from {
	case StateNoDraft:
		return to == StateProposed
	case StateProposed:
		return to == StateProposed || to == StateApproved || to == StateRejected ||
			to == StateCancelled || to == StateExpired
	case StateRejected, StateCancelled, StateExpired:
		return to == StateNoDraft
	default:
		return false
	}
}

// IsTerminal reports whether a draft in state s no longer exists.
func IsTerminal(s DraftState) bool {
	switch s {
	case StateApproved, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// QuorumReached reports whether received approvals satisfy required.
// A non-positive requirement is treated as one.
func QuorumReached(received, required int) bool {
	if required <= 0 {
		required = 1
	}
	return received >= required
}

// Approval is an authorizer's opaque co-signing material. The blobs are
// forwarded to the signer untouched.
type Approval struct {
	Identity     string    `json:"identity"`
	ApprovalBlob string    `json:"approvalBlob"`
	AuthBlob     string    `json:"authBlob"`
	ApprovedAt   time.Time `json:"approvedAt"`
}

// Rejection records an authorizer's objection.
type Rejection struct {
	Identity   string    `json:"identity"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

// RuleSettingDraft is a proposed rule-set change awaiting quorum.
type RuleSettingDraft struct {
	ID                  string       `json:"id"`
	Target              Target       `json:"target"`
	ProposedRules       RuleSettings `json:"proposedRules"`
	PreviousRuleSetting RuleSettings `json:"previousRuleSetting"`
	PreviousCert        string       `json:"previousCert"`
	PreviousVersion     int64        `json:"previousVersion"`
	Approvals           []Approval   `json:"approvals"`
	Rejections          []Rejection  `json:"rejections"`
	ProposedBy          string       `json:"proposedBy"`
	CreatedAt           time.Time    `json:"createdAt"`
	Expiry              time.Time    `json:"expiry"`
}

// IsExpired reports whether the draft's deadline has passed at now.
func (d *RuleSettingDraft) IsExpired(now time.Time) bool {
	return !d.Expiry.IsZero() && now.After(d.Expiry)
}

// State derives the draft's workflow state at now.
func (d *RuleSettingDraft) State(now time.Time) DraftState {
	if d == nil {
		return StateNoDraft
	}
	if d.IsExpired(now) {
		return StateExpired
	}
	return StateProposed
}

// PutApproval records a's approval, replacing any earlier one by the same
// identity. Identities compare case-insensitively.
func (d *RuleSettingDraft) PutApproval(a Approval) {
	idx := slices.IndexFunc(d.Approvals, func(e Approval) bool { return sameIdentity(e.Identity, a.Identity) })
	if idx >= 0 {
		d.Approvals[idx] = a
		return
	}
	d.Approvals = append(d.Approvals, a)
}

// PutRejection records r, replacing any earlier rejection by the same identity.
func (d *RuleSettingDraft) PutRejection(r Rejection) {
	idx := slices.IndexFunc(d.Rejections, func(e Rejection) bool { return sameIdentity(e.Identity, r.Identity) })
	if idx >= 0 {
		d.Rejections[idx] = r
		return
	}
	d.Rejections = append(d.Rejections, r)
}

// Approvers returns the distinct approving identities in approval order.
func (d *RuleSettingDraft) Approvers() []string {
	return DistinctIdentities(d.Approvals)
}

// ApprovalBlobs returns the approval artefacts of distinct approvers, in order.
func (d *RuleSettingDraft) ApprovalBlobs() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(d.Approvals))
	for _, a := range d.Approvals {
		key := normalizeIdentity(a.Identity)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a.ApprovalBlob)
	}
	return out
}

// DistinctIdentities returns approving identities with duplicates removed.
func DistinctIdentities(approvals []Approval) []string {
	seen := make(map[string]struct{}, len(approvals))
	out := make([]string, 0, len(approvals))
	for _, a := range approvals {
		key := normalizeIdentity(a.Identity)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a.Identity)
	}
	return out
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameIdentity(a, b string) bool {
	return normalizeIdentity(a) == normalizeIdentity(b)
}

// Clone returns a deep copy of d.
func (d *RuleSettingDraft) Clone() *RuleSettingDraft {
	if d == nil {
		return nil
	}
	c := *d
	c.ProposedRules = d.ProposedRules.Clone()
	c.PreviousRuleSetting = d.PreviousRuleSetting.Clone()
	c.Approvals = slices.Clone(d.Approvals)
	c.Rejections = slices.Clone(d.Rejections)
	return &c
}

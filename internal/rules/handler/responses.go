package handler

import (
	"time"

	"quorum/internal/rules/evaluator"
	"quorum/internal/rules/models"
	"quorum/internal/rules/service"
)

type GlobalRulesResponse struct {
	Rules     models.RuleSettings `json:"rules"`
	RulesCert string              `json:"rulesCert"`
	Version   int64               `json:"version"`
	Digest    string              `json:"digest,omitempty"`
}

type ApprovalView struct {
	Identity   string    `json:"identity"`
	ApprovedAt time.Time `json:"approvedAt"`
}

type RejectionView struct {
	Identity   string    `json:"identity"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

// DraftResponse omits the approval blobs; they are only meaningful to the
// signer.
type DraftResponse struct {
	ID                  string              `json:"id"`
	Target              string              `json:"target"`
	Status              string              `json:"status"`
	ProposedRules       models.RuleSettings `json:"proposedRules"`
	PreviousRuleSetting models.RuleSettings `json:"previousRuleSetting"`
	PreviousVersion     int64               `json:"previousVersion"`
	Approvals           []ApprovalView      `json:"approvals"`
	Rejections          []RejectionView     `json:"rejections"`
	ProposedBy          string              `json:"proposedBy"`
	CreatedAt           time.Time           `json:"createdAt"`
	Expiry              time.Time           `json:"expiry"`
}

type DraftListResponse struct {
	Drafts []DraftResponse `json:"drafts"`
}

type ApproveResponse struct {
	Status    string               `json:"status"`
	Approvals int                  `json:"approvals"`
	Required  int                  `json:"required"`
	Draft     *DraftResponse       `json:"draft,omitempty"`
	Committed *GlobalRulesResponse `json:"committed,omitempty"`
}

type EvaluateResponse struct {
	Outcome     string   `json:"outcome"`
	Version     int64    `json:"version"`
	FailedRoles []string `json:"failedRoles,omitempty"`
	MatchedRule *int     `json:"matchedRule,omitempty"`
	Threshold   int      `json:"threshold,omitempty"`
	Approvers   []string `json:"approvers,omitempty"`
	Needed      int      `json:"needed,omitempty"`
}

func toDraftResponse(d *models.RuleSettingDraft, now time.Time) DraftResponse {
	resp := DraftResponse{
		ID:                  d.ID,
		Target:              d.Target.String(),
		Status:              string(d.State(now)),
		ProposedRules:       d.ProposedRules,
		PreviousRuleSetting: d.PreviousRuleSetting,
		PreviousVersion:     d.PreviousVersion,
		Approvals:           make([]ApprovalView, 0, len(d.Approvals)),
		Rejections:          make([]RejectionView, 0, len(d.Rejections)),
		ProposedBy:          d.ProposedBy,
		CreatedAt:           d.CreatedAt,
		Expiry:              d.Expiry,
	}
	for _, a := range d.Approvals {
		resp.Approvals = append(resp.Approvals, ApprovalView{Identity: a.Identity, ApprovedAt: a.ApprovedAt})
	}
	for _, r := range d.Rejections {
		resp.Rejections = append(resp.Rejections, RejectionView{Identity: r.Identity, Reason: r.Reason, RejectedAt: r.RejectedAt})
	}
	return resp
}

func toGlobalRulesResponse(c *models.CommittedRules) *GlobalRulesResponse {
	return &GlobalRulesResponse{
		Rules:     c.Settings,
		RulesCert: c.Cert,
		Version:   c.Version,
		Digest:    c.Digest,
	}
}

func toEvaluateResponse(ev *service.Evaluation) EvaluateResponse {
	resp := EvaluateResponse{
		Outcome:     string(ev.Outcome),
		Version:     ev.Version,
		FailedRoles: ev.FailedRoles,
	}
	if a := ev.Authorization; a != nil {
		idx := a.MatchedRule
		resp.MatchedRule = &idx
		resp.Threshold = a.Threshold
		resp.Approvers = a.Approvers
		if a.Outcome == evaluator.OutcomePendingApprovals {
			resp.Needed = a.Needed
		}
	}
	return resp
}

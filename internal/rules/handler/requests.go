package handler

import (
	"strings"

	"quorum/internal/rules/models"
	dErrors "quorum/pkg/domain-errors"
)

// ProposeRequest replaces one rule list. Target is "authorization" or
// "validation:<role>".
type ProposeRequest struct {
	Target string                  `json:"target"`
	Rules  []models.RuleDefinition `json:"rules"`

	target models.Target
}

func (r *ProposeRequest) Validate() error {
	target, err := models.ParseTarget(r.Target)
	if err != nil {
		return err
	}
	if r.Rules == nil {
		return dErrors.New(dErrors.CodeValidation, "rules is required")
	}
	if err := models.ValidateRules(r.Rules, target.Kind()); err != nil {
		return err
	}
	r.target = target
	return nil
}

// ApproveRequest carries the authorizer's opaque approval artefacts.
type ApproveRequest struct {
	AuthorizerApproval       string `json:"authorizerApproval"`
	AuthorizerAuthentication string `json:"authorizerAuthentication"`
}

func (r *ApproveRequest) Validate() error {
	r.AuthorizerApproval = strings.TrimSpace(r.AuthorizerApproval)
	if r.AuthorizerApproval == "" {
		return dErrors.New(dErrors.CodeValidation, "authorizerApproval is required")
	}
	return nil
}

// RejectRequest is the admin console's rejection envelope.
type RejectRequest struct {
	ChangeRequest struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"changeRequest"`
}

func (r *RejectRequest) Validate() error {
	r.ChangeRequest.ID = strings.TrimSpace(r.ChangeRequest.ID)
	if r.ChangeRequest.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "changeRequest.id is required")
	}
	r.ChangeRequest.Reason = strings.TrimSpace(r.ChangeRequest.Reason)
	return nil
}

type CancelRequest struct {
	ID string `json:"id"`
}

func (r *CancelRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	return nil
}

// EvaluateRequest asks for a decision on one transaction record.
type EvaluateRequest struct {
	Record    map[string]string `json:"record"`
	Approvers []string          `json:"approvers"`
}

func (r *EvaluateRequest) Validate() error {
	if len(r.Record) == 0 {
		return dErrors.New(dErrors.CodeValidation, "record is required")
	}
	for field := range r.Record {
		if _, ok := models.Field(field).Kind(); !ok {
			return dErrors.Newf(dErrors.CodeValidation, "unrecognised field %q", field)
		}
	}
	return nil
}

func (r *EvaluateRequest) record() models.Record {
	out := make(models.Record, len(r.Record))
	for k, v := range r.Record {
		out[models.Field(k)] = v
	}
	return out
}

func (r *EvaluateRequest) approvals() []models.Approval {
	out := make([]models.Approval, 0, len(r.Approvers))
	for _, id := range r.Approvers {
		out = append(out, models.Approval{Identity: id})
	}
	return out
}

package evaluator

import (
	"quorum/internal/rules/models"
	dErrors "quorum/pkg/domain-errors"
)

// Outcome is the result class of an authorization evaluation.
type Outcome string

const (
	OutcomeApproved         Outcome = "APPROVED"
	OutcomePendingApprovals Outcome = "PENDING_APPROVALS"
)

// AuthorizationDecision describes which authorization rule matched and how
// far the collected approvals are from its threshold.
type AuthorizationDecision struct {
	Outcome     Outcome
	MatchedRule int
	Threshold   int
	Approvers   []string
	Needed      int
}

// Approved reports whether the threshold is met.
func (d AuthorizationDecision) Approved() bool { return d.Outcome == OutcomeApproved }

// EvaluateValidation reports whether record satisfies every applicable rule.
// Rules on fields absent from record are skipped and an empty list passes.
// Every applicable rule is evaluated so that a malformed rule later in the
// list is reported even when an earlier rule already failed.
func EvaluateValidation(rules []models.RuleDefinition, record models.Record) (bool, error) {
	pass := true
	for i, rule := range rules {
		matched, applicable, err := EvaluateRule(rule, record)
		if err != nil {
			return false, ruleError(err, i)
		}
		if applicable && !matched {
			pass = false
		}
	}
	return pass, nil
}

// EvaluateAuthorization finds the first rule, in list order, that matches
// record and compares the distinct approvers against its threshold. No
// matching rule, including an empty list, is a denial.
func EvaluateAuthorization(rules []models.RuleDefinition, record models.Record, approvals []models.Approval) (AuthorizationDecision, error) {
	for i, rule := range rules {
		matched, _, err := EvaluateRule(rule, record)
		if err != nil {
			return AuthorizationDecision{}, ruleError(err, i)
		}
		if !matched {
			continue
		}
		if rule.Output == nil || rule.Output.Threshold <= 0 {
			return AuthorizationDecision{}, dErrors.Newf(dErrors.CodeMalformedRule, "authorization rule %d has no positive threshold", i)
		}
		return Decide(i, rule.Output.Threshold, approvals), nil
	}
	if len(rules) == 0 {
		return AuthorizationDecision{}, dErrors.New(dErrors.CodeNoMatchingAuthorizationRule, "no authorization rules are configured")
	}
	return AuthorizationDecision{}, dErrors.New(dErrors.CodeNoMatchingAuthorizationRule, "no authorization rule matches the record")
}

// Decide builds the decision for a matched rule with the given threshold.
func Decide(matchedRule, threshold int, approvals []models.Approval) AuthorizationDecision {
	approvers := models.DistinctIdentities(approvals)
	d := AuthorizationDecision{
		MatchedRule: matchedRule,
		Threshold:   threshold,
		Approvers:   approvers,
	}
	if models.QuorumReached(len(approvers), threshold) {
		d.Outcome = OutcomeApproved
		return d
	}
	d.Outcome = OutcomePendingApprovals
	d.Needed = threshold - len(approvers)
	return d
}

func ruleError(err error, index int) error {
	de, ok := dErrors.As(err)
	if !ok {
		return err
	}
	return dErrors.Newf(de.Code, "rule %d: %s", index, de.Message)
}

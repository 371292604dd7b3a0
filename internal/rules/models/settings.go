package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	dErrors "quorum/pkg/domain-errors"
)

// AuthorizationKey is the single key of the authorization rule map.
const AuthorizationKey = "blindsig:1"

// RulesContainer groups the authorization list and the per-role validation lists.
type RulesContainer struct {
	AuthorizationSettings map[string][]RuleDefinition `json:"authorizationSettings,omitempty"`
	ValidationSettings    map[string][]RuleDefinition `json:"validationSettings"`
}

// AuthorizationRules returns the system-wide authorization list.
func (c RulesContainer) AuthorizationRules() []RuleDefinition {
	return c.AuthorizationSettings[AuthorizationKey]
}

// ValidationRules returns the validation list of role.
func (c RulesContainer) ValidationRules(role string) []RuleDefinition {
	return c.ValidationSettings[role]
}

// Validate checks every list of the container.
func (c RulesContainer) Validate() error {
	for key, rules := range c.AuthorizationSettings {
		if key != AuthorizationKey {
			return dErrors.Newf(dErrors.CodeMalformedRule, "unknown authorization settings key %q", key)
		}
		if err := ValidateRules(rules, KindAuthorization); err != nil {
			return wrapList(err, "authorization")
		}
	}
	for role, rules := range c.ValidationSettings {
		if strings.TrimSpace(role) == "" {
			return dErrors.New(dErrors.CodeMalformedRule, "validation settings key must name a role")
		}
		if err := ValidateRules(rules, KindValidation); err != nil {
			return wrapList(err, "validation["+role+"]")
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c RulesContainer) Clone() RulesContainer {
	return RulesContainer{
		AuthorizationSettings: cloneLists(c.AuthorizationSettings),
		ValidationSettings:    cloneLists(c.ValidationSettings),
	}
}

// Section returns the rule list addressed by target.
func (c RulesContainer) Section(target Target) []RuleDefinition {
	if target.IsAuthorization() {
		return c.AuthorizationRules()
	}
	return c.ValidationRules(target.Role())
}

// WithSection returns a copy of c whose target list is replaced by rules.
// An empty validation list removes the role.
func (c RulesContainer) WithSection(target Target, rules []RuleDefinition) RulesContainer {
	out := c.Clone()
	if target.IsAuthorization() {
		if out.AuthorizationSettings == nil {
			out.AuthorizationSettings = map[string][]RuleDefinition{}
		}
		out.AuthorizationSettings[AuthorizationKey] = cloneRules(rules)
		return out
	}
	if out.ValidationSettings == nil {
		out.ValidationSettings = map[string][]RuleDefinition{}
	}
	if len(rules) == 0 {
		delete(out.ValidationSettings, target.Role())
		return out
	}
	out.ValidationSettings[target.Role()] = cloneRules(rules)
	return out
}

// RuleSettings is the persisted, signed form of a rule set.
type RuleSettings struct {
	ID string `json:"id"`
	RulesContainer
}

// Digest is a stable BLAKE2b-256 fingerprint of the settings. Map keys are
// ordered by encoding/json, so equal settings always digest equally.
func (s RuleSettings) Digest() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal rule settings: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy.
func (s RuleSettings) Clone() RuleSettings {
	return RuleSettings{ID: s.ID, RulesContainer: s.RulesContainer.Clone()}
}

// CommittedRules is one immutable version of the realm's signed rule set.
type CommittedRules struct {
	Version         int64        `json:"version"`
	Settings        RuleSettings `json:"settings"`
	Cert            string       `json:"rulesCert"`
	Digest          string       `json:"digest"`
	DraftID         string       `json:"draftId,omitempty"`
	PreviousVersion int64        `json:"previousVersion"`
	CommittedBy     string       `json:"committedBy,omitempty"`
	CommittedAt     time.Time    `json:"committedAt"`
}

// Target addresses the rule list a draft changes: the global authorization
// list, or the validation list of one role.
type Target string

// TargetAuthorization is the global authorization rule list.
const TargetAuthorization Target = "authorization"

const validationPrefix = "validation:"

// ValidationTarget addresses the validation list of role.
func ValidationTarget(role string) Target {
	return Target(validationPrefix + strings.TrimSpace(role))
}

// ParseTarget accepts "authorization" or "validation:<role>".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == string(TargetAuthorization) {
		return TargetAuthorization, nil
	}
	if role, ok := strings.CutPrefix(s, validationPrefix); ok && strings.TrimSpace(role) != "" {
		return ValidationTarget(role), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid rule target %q", s)
}

func (t Target) IsAuthorization() bool { return t == TargetAuthorization }

// Role returns the role of a validation target, or "".
func (t Target) Role() string {
	role, _ := strings.CutPrefix(string(t), validationPrefix)
	if t.IsAuthorization() {
		return ""
	}
	return role
}

// Kind returns the rule kind held by the target list.
func (t Target) Kind() RuleKind {
	if t.IsAuthorization() {
		return KindAuthorization
	}
	return KindValidation
}

func (t Target) String() string { return string(t) }

// Record is the set of field values of a candidate transaction. Absent
// fields are simply missing from the map.
type Record map[Field]string

// Fields returns the record's fields in sorted order.
func (r Record) Fields() []Field {
	return slices.Sorted(maps.Keys(r))
}

func cloneLists(in map[string][]RuleDefinition) map[string][]RuleDefinition {
	if in == nil {
		return nil
	}
	out := make(map[string][]RuleDefinition, len(in))
	for k, v := range in {
		out[k] = cloneRules(v)
	}
	return out
}

func cloneRules(in []RuleDefinition) []RuleDefinition {
	if in == nil {
		return nil
	}
	out := make([]RuleDefinition, len(in))
	for i, r := range in {
		c := RuleDefinition{Field: r.Field}
		if r.Conditions != nil {
			c.Conditions = make([]RuleCondition, len(r.Conditions))
			for j, cond := range r.Conditions {
				c.Conditions[j] = RuleCondition{Method: cond.Method, Values: slices.Clone(cond.Values)}
			}
		}
		if r.Output != nil {
			o := *r.Output
			c.Output = &o
		}
		out[i] = c
	}
	return out
}

func wrapList(err error, list string) error {
	de, _ := dErrors.As(err)
	return dErrors.Newf(de.Code, "%s: %s", list, de.Message)
}

// Clone returns a deep copy of c.
func (c *CommittedRules) Clone() *CommittedRules {
	if c == nil {
		return nil
	}
	out := *c
	out.Settings = c.Settings.Clone()
	return &out
}

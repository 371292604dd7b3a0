package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers changes to who may approve what: rule
	// commits, draft lifecycle and role grants.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers refused or failed privileged actions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine reads and evaluations.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// ActorID is the authenticated identity that performed the action.
	ActorID string
	// Subject is the entity acted on: a draft id, a rule version or a user id.
	Subject  string
	Target   string
	Decision string
	Reason   string

	RequestID string
	ClientIP  string
	UserAgent string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

type AuditEvent string

const (
	// Rule workflow events
	EventDraftProposed      AuditEvent = "rules_draft_proposed"
	EventDraftApproved      AuditEvent = "rules_draft_approved"
	EventDraftRejected      AuditEvent = "rules_draft_rejected"
	EventDraftCancelled     AuditEvent = "rules_draft_cancelled"
	EventDraftExpired       AuditEvent = "rules_draft_expired"
	EventRulesCommitted     AuditEvent = "rules_committed"
	EventRulesSigningFailed AuditEvent = "rules_signing_failed"
	EventRulesBootstrapped  AuditEvent = "rules_bootstrapped"

	// Evaluation events
	EventAuthorizationEvaluated AuditEvent = "authorization_evaluated"

	// Access events
	EventAccessDenied AuditEvent = "access_denied"

	// User administration events
	EventUserUpdated     AuditEvent = "user_updated"
	EventUserDeleted     AuditEvent = "user_deleted"
	EventUserRoleGranted AuditEvent = "user_role_granted"
	EventUserRoleRemoved AuditEvent = "user_role_removed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventDraftProposed:     CategoryCompliance,
	EventDraftApproved:     CategoryCompliance,
	EventDraftRejected:     CategoryCompliance,
	EventDraftCancelled:    CategoryCompliance,
	EventDraftExpired:      CategoryCompliance,
	EventRulesCommitted:    CategoryCompliance,
	EventRulesBootstrapped: CategoryCompliance,
	EventUserDeleted:       CategoryCompliance,
	EventUserRoleGranted:   CategoryCompliance,
	EventUserRoleRemoved:   CategoryCompliance,

	EventRulesSigningFailed: CategorySecurity,
	EventAccessDenied:       CategorySecurity,

	EventAuthorizationEvaluated: CategoryOperations,
	EventUserUpdated:            CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

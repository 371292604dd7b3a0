// Package service runs the rule-change workflow and rule evaluation on top
// of a rule store and the IAM collaborators.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quorum/internal/rules/metrics"
	"quorum/internal/rules/models"
	"quorum/internal/rules/ports"
	"quorum/internal/rules/store"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/audit"
	"quorum/pkg/platform/sentinel"
	"quorum/pkg/requestcontext"
)

const (
	// DefaultAdminRole is the realm-management role that may propose and
	// cancel rule changes and co-approve them.
	DefaultAdminRole = "tide-realm-admin"

	defaultDraftTTL = 7 * 24 * time.Hour
	tracerName      = "quorum/internal/rules/service"
)

// Workflow owns the draft lifecycle of every rule-change target.
type Workflow struct {
	store     store.Store
	threshold ports.ThresholdSource
	signer    ports.Signer
	seed      ports.RuleSource

	logger          *slog.Logger
	metrics         *metrics.Metrics
	auditPublisher  ports.AuditPublisher
	tracer          trace.Tracer
	now             func() time.Time
	draftTTL        time.Duration
	adminRoles      []string
	authorizerRoles []string
}

type Option func(*Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(w *Workflow) { w.auditPublisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) { w.tracer = t }
}

// WithClock overrides the time source used for expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithDraftTTL sets how long a proposal stays open.
func WithDraftTTL(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.draftTTL = d
		}
	}
}

// WithAdminRoles sets the roles allowed to propose and cancel.
func WithAdminRoles(roles ...string) Option {
	return func(w *Workflow) {
		if len(roles) > 0 {
			w.adminRoles = roles
		}
	}
}

// WithAuthorizerRoles sets the roles allowed to approve and reject.
func WithAuthorizerRoles(roles ...string) Option {
	return func(w *Workflow) {
		if len(roles) > 0 {
			w.authorizerRoles = roles
		}
	}
}

// WithRuleSource enables Bootstrap from the realm's provisioned rules.
func WithRuleSource(src ports.RuleSource) Option {
	return func(w *Workflow) { w.seed = src }
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(st store.Store, threshold ports.ThresholdSource, signer ports.Signer, opts ...Option) *Workflow {
	w := &Workflow{
		store:           st,
		threshold:       threshold,
		signer:          signer,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		draftTTL:        defaultDraftTTL,
		adminRoles:      []string{DefaultAdminRole},
		authorizerRoles: []string{DefaultAdminRole},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ApprovalResult reports the state of a draft after an approval.
type ApprovalResult struct {
	// Draft is the still-open draft, nil once committed.
	Draft *models.RuleSettingDraft
	// Committed is the new rule version when quorum was reached.
	Committed *models.CommittedRules
	Approvals int
	Required  int
}

// Propose opens a draft replacing target's rule list with rules. The
// committed rule set and its certificate are snapshotted in the same store
// transaction that creates the draft.
func (w *Workflow) Propose(ctx context.Context, target models.Target, rules []models.RuleDefinition, actor requestcontext.Identity) (_ *models.RuleSettingDraft, err error) {
	ctx, span := w.tracer.Start(ctx, "rules.Propose", trace.WithAttributes(attribute.String("rules.target", target.String())))
	defer func() { w.endSpan(span, "propose", err) }()

	if err := w.authorize(ctx, actor, w.adminRoles, "propose"); err != nil {
		return nil, err
	}
	if _, err := models.ParseTarget(target.String()); err != nil {
		return nil, err
	}
	if err := models.ValidateRules(rules, target.Kind()); err != nil {
		return nil, err
	}

	now := w.now()
	var (
		draft   *models.RuleSettingDraft
		expired *models.RuleSettingDraft
	)
	err = w.store.RunInTx(ctx, target, func(tx store.Tx) error {
		draft, expired = nil, nil
		open, err := tx.GetOpenDraft(ctx, target)
		switch {
		case err == nil && open.IsExpired(now):
			if err := tx.DeleteDraft(ctx, open.ID); err != nil {
				return err
			}
			expired = open
		case err == nil:
			return dErrors.Newf(dErrors.CodeDraftAlreadyOpen, "draft %s is already open for %s", open.ID, target)
		case !errors.Is(err, sentinel.ErrNotFound):
			return err
		}

		base, err := committedOrEmpty(ctx, tx)
		if err != nil {
			return err
		}
		settingsID := base.Settings.ID
		if settingsID == "" {
			settingsID = uuid.NewString()
		}
		proposed := models.RuleSettings{ID: settingsID, RulesContainer: base.Settings.WithSection(target, rules)}
		if err := proposed.Validate(); err != nil {
			return err
		}

		draft = &models.RuleSettingDraft{
			ID:                  uuid.NewString(),
			Target:              target,
			ProposedRules:       proposed,
			PreviousRuleSetting: base.Settings,
			PreviousCert:        base.Cert,
			PreviousVersion:     base.Version,
			ProposedBy:          actorID(actor),
			CreatedAt:           now,
			Expiry:              now.Add(w.draftTTL),
		}
		return tx.CreateDraft(ctx, draft)
	})
	if expired != nil {
		w.logAudit(ctx, audit.EventDraftExpired, actor, expired.ID, target, "")
	}
	if err != nil {
		return nil, translate(err, "propose rule change")
	}

	w.logAudit(ctx, audit.EventDraftProposed, actor, draft.ID, target, "")
	return draft, nil
}

// Approve records actor's approval of a draft. When the distinct approvals
// reach the admin threshold the new rule set is signed and committed and the
// draft deleted. Signing happens outside the store lock; a failed signature
// leaves the draft and its approvals in place.
func (w *Workflow) Approve(ctx context.Context, draftID, approvalBlob, authBlob string, actor requestcontext.Identity) (_ *ApprovalResult, err error) {
	ctx, span := w.tracer.Start(ctx, "rules.Approve", trace.WithAttributes(attribute.String("rules.draft_id", draftID)))
	defer func() { w.endSpan(span, "approve", err) }()

	if err := w.authorize(ctx, actor, w.authorizerRoles, "approve"); err != nil {
		return nil, err
	}
	if approvalBlob == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "authorizer approval is required")
	}

	target, err := w.targetOf(ctx, draftID)
	if err != nil {
		return nil, err
	}
	required, err := w.threshold.AdminThreshold(ctx)
	if err != nil {
		return nil, translateCollaborator(err, dErrors.CodeUnavailable, "fetch admin threshold")
	}

	now := w.now()
	var snapshot *models.RuleSettingDraft
	expired := false
	err = w.store.RunInTx(ctx, target, func(tx store.Tx) error {
		snapshot, expired = nil, false
		d, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if d.IsExpired(now) {
			expired = true
			return tx.DeleteDraft(ctx, draftID)
		}
		approval := models.Approval{Identity: actorID(actor), ApprovalBlob: approvalBlob, AuthBlob: authBlob, ApprovedAt: now}
		if err := tx.PutApproval(ctx, draftID, approval); err != nil {
			return err
		}
		d.PutApproval(approval)
		snapshot = d
		return nil
	})
	if err != nil {
		return nil, translate(err, "record approval")
	}
	if expired {
		w.logAudit(ctx, audit.EventDraftExpired, actor, draftID, target, "")
		return nil, dErrors.Newf(dErrors.CodeDraftNotFound, "draft %s has expired", draftID)
	}

	count := len(snapshot.Approvers())
	w.logAudit(ctx, audit.EventDraftApproved, actor, draftID, target, fmt.Sprintf("%d/%d", count, max(required, 1)))
	result := &ApprovalResult{Draft: snapshot, Approvals: count, Required: max(required, 1)}
	if !models.QuorumReached(count, required) {
		return result, nil
	}

	committed, err := w.commit(ctx, snapshot, actor)
	if err != nil {
		return nil, err
	}
	result.Draft = nil
	result.Committed = committed
	return result, nil
}

// commit signs the draft's rules rebased onto the latest committed version
// and appends the next version under compare-and-swap.
func (w *Workflow) commit(ctx context.Context, d *models.RuleSettingDraft, actor requestcontext.Identity) (*models.CommittedRules, error) {
	ctx, span := w.tracer.Start(ctx, "rules.Commit")
	defer span.End()

	base, err := committedOrEmpty(ctx, w.store)
	if err != nil {
		return nil, translate(err, "load committed rules")
	}
	settings := d.ProposedRules
	if base.Version != d.PreviousVersion {
		settings = models.RuleSettings{ID: d.ProposedRules.ID, RulesContainer: base.Settings.WithSection(d.Target, d.ProposedRules.Section(d.Target))}
	}

	req, err := signRequest(d, settings)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode signing request")
	}
	started := time.Now()
	cert, err := w.signer.SignRuleSet(ctx, req)
	w.metrics.ObserveSigning(time.Since(started), err == nil)
	if err != nil {
		span.RecordError(err)
		w.logAudit(ctx, audit.EventRulesSigningFailed, actor, d.ID, d.Target, err.Error())
		return nil, translateCollaborator(err, dErrors.CodeSigningFailed, "sign rule set")
	}

	digest, err := settings.Digest()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "digest rule set")
	}
	next := &models.CommittedRules{
		Version:         base.Version + 1,
		Settings:        settings,
		Cert:            cert,
		Digest:          digest,
		DraftID:         d.ID,
		PreviousVersion: base.Version,
		CommittedBy:     actorID(actor),
		CommittedAt:     w.now(),
	}

	var already *models.CommittedRules
	err = w.store.RunInTx(ctx, d.Target, func(tx store.Tx) error {
		already = nil
		if _, err := tx.GetDraft(ctx, d.ID); err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			latest, lerr := tx.GetRuleConfiguration(ctx)
			if lerr == nil && latest.DraftID == d.ID {
				already = latest
				return nil
			}
			return dErrors.Newf(dErrors.CodeDraftNotFound, "draft %s no longer exists", d.ID)
		}
		if err := tx.AddRuleConfiguration(ctx, next); err != nil {
			return err
		}
		return tx.DeleteDraft(ctx, d.ID)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodePersistenceConflict, "rule set changed while signing, approve again")
		}
		return nil, translate(err, "commit rule set")
	}
	if already != nil {
		return already, nil
	}

	w.metrics.SetCommittedVersion(next.Version)
	w.logAudit(ctx, audit.EventRulesCommitted, actor, d.ID, d.Target, fmt.Sprintf("version %d", next.Version))
	return next, nil
}

// Reject records actor's objection. The draft stays open until an admin
// cancels it or it expires.
func (w *Workflow) Reject(ctx context.Context, draftID, reason string, actor requestcontext.Identity) (_ *models.RuleSettingDraft, err error) {
	ctx, span := w.tracer.Start(ctx, "rules.Reject", trace.WithAttributes(attribute.String("rules.draft_id", draftID)))
	defer func() { w.endSpan(span, "reject", err) }()

	if err := w.authorize(ctx, actor, w.authorizerRoles, "reject"); err != nil {
		return nil, err
	}
	target, err := w.targetOf(ctx, draftID)
	if err != nil {
		return nil, err
	}

	now := w.now()
	var out *models.RuleSettingDraft
	expired := false
	err = w.store.RunInTx(ctx, target, func(tx store.Tx) error {
		out, expired = nil, false
		d, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if d.IsExpired(now) {
			expired = true
			return tx.DeleteDraft(ctx, draftID)
		}
		rejection := models.Rejection{Identity: actorID(actor), Reason: reason, RejectedAt: now}
		if err := tx.PutRejection(ctx, draftID, rejection); err != nil {
			return err
		}
		d.PutRejection(rejection)
		out = d
		return nil
	})
	if err != nil {
		return nil, translate(err, "record rejection")
	}
	if expired {
		w.logAudit(ctx, audit.EventDraftExpired, actor, draftID, target, "")
		return nil, dErrors.Newf(dErrors.CodeDraftNotFound, "draft %s has expired", draftID)
	}
	w.logAudit(ctx, audit.EventDraftRejected, actor, draftID, target, reason)
	return out, nil
}

// Cancel deletes a draft with everything collected for it.
func (w *Workflow) Cancel(ctx context.Context, draftID string, actor requestcontext.Identity) (err error) {
	ctx, span := w.tracer.Start(ctx, "rules.Cancel", trace.WithAttributes(attribute.String("rules.draft_id", draftID)))
	defer func() { w.endSpan(span, "cancel", err) }()

	if err := w.authorize(ctx, actor, w.adminRoles, "cancel"); err != nil {
		return err
	}
	target, err := w.targetOf(ctx, draftID)
	if err != nil {
		return err
	}

	now := w.now()
	expired := false
	err = w.store.RunInTx(ctx, target, func(tx store.Tx) error {
		d, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		expired = d.IsExpired(now)
		return tx.DeleteDraft(ctx, draftID)
	})
	if err != nil {
		return translate(err, "cancel draft")
	}
	if expired {
		w.logAudit(ctx, audit.EventDraftExpired, actor, draftID, target, "")
		return dErrors.Newf(dErrors.CodeDraftNotFound, "draft %s has expired", draftID)
	}
	w.logAudit(ctx, audit.EventDraftCancelled, actor, draftID, target, "")
	return nil
}

// GetDraft returns an open draft. An expired draft is deleted and reported
// as not found.
func (w *Workflow) GetDraft(ctx context.Context, draftID string) (*models.RuleSettingDraft, error) {
	d, err := w.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, translate(err, "load draft")
	}
	if d.IsExpired(w.now()) {
		if err := w.expire(ctx, d); err != nil {
			return nil, err
		}
		return nil, dErrors.Newf(dErrors.CodeDraftNotFound, "draft %s has expired", draftID)
	}
	return d, nil
}

// ListDrafts returns the open drafts, oldest first, expiring stale ones.
func (w *Workflow) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	all, err := w.store.ListDrafts(ctx)
	if err != nil {
		return nil, translate(err, "list drafts")
	}
	now := w.now()
	out := make([]*models.RuleSettingDraft, 0, len(all))
	for _, d := range all {
		if d.IsExpired(now) {
			if err := w.expire(ctx, d); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Committed returns the latest committed rule set.
func (w *Workflow) Committed(ctx context.Context) (*models.CommittedRules, error) {
	c, err := w.store.GetRuleConfiguration(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no rule set has been committed")
		}
		return nil, translate(err, "load committed rules")
	}
	return c, nil
}

// CommittedVersion returns one historical version.
func (w *Workflow) CommittedVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	c, err := w.store.GetRuleConfigurationVersion(ctx, version)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "rule set version %d not found", version)
		}
		return nil, translate(err, "load rule version")
	}
	return c, nil
}

// Bootstrap seeds an empty store with the realm's provisioned rule set as
// version 1. It does nothing when a version exists or no source is set.
func (w *Workflow) Bootstrap(ctx context.Context) error {
	if w.seed == nil {
		return nil
	}
	if _, err := w.store.GetRuleConfiguration(ctx); err == nil {
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return translate(err, "load committed rules")
	}

	realm, err := w.seed.RealmRules(ctx)
	if err != nil {
		return translateCollaborator(err, dErrors.CodeUnavailable, "fetch realm rules")
	}
	if realm == nil {
		return nil
	}
	if err := realm.Settings.Validate(); err != nil {
		return err
	}
	digest, err := realm.Settings.Digest()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "digest realm rules")
	}
	seed := &models.CommittedRules{
		Version:     1,
		Settings:    realm.Settings,
		Cert:        realm.Cert,
		Digest:      digest,
		CommittedBy: "realm",
		CommittedAt: w.now(),
	}
	err = w.store.RunInTx(ctx, models.TargetAuthorization, func(tx store.Tx) error {
		return tx.AddRuleConfiguration(ctx, seed)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil
	}
	if err != nil {
		return translate(err, "seed rule set")
	}
	w.metrics.SetCommittedVersion(1)
	w.logAudit(ctx, audit.EventRulesBootstrapped, requestcontext.Identity{UserID: "realm"}, "1", models.TargetAuthorization, "")
	return nil
}

func (w *Workflow) expire(ctx context.Context, d *models.RuleSettingDraft) error {
	err := w.store.RunInTx(ctx, d.Target, func(tx store.Tx) error {
		err := tx.DeleteDraft(ctx, d.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return translate(err, "expire draft")
	}
	w.logAudit(ctx, audit.EventDraftExpired, requestcontext.Actor(ctx), d.ID, d.Target, "")
	return nil
}

func (w *Workflow) targetOf(ctx context.Context, draftID string) (models.Target, error) {
	d, err := w.store.GetDraft(ctx, draftID)
	if err != nil {
		return "", translate(err, "load draft")
	}
	return d.Target, nil
}

func (w *Workflow) authorize(ctx context.Context, actor requestcontext.Identity, roles []string, op string) error {
	if actor.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if actor.HasAnyRole(roles...) {
		return nil
	}
	w.logAudit(ctx, audit.EventAccessDenied, actor, "", "", op)
	return dErrors.Newf(dErrors.CodeForbidden, "%s requires one of roles %v", op, roles)
}

func (w *Workflow) endSpan(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, result)
	}
	w.metrics.IncrementWorkflow(op, result)
	span.End()
}

func (w *Workflow) logAudit(ctx context.Context, event audit.AuditEvent, actor requestcontext.Identity, subject string, target models.Target, reason string) {
	args := []any{
		"event", string(event),
		"log_type", "audit",
		"actor", actorID(actor),
		"subject", subject,
	}
	if target != "" {
		args = append(args, "target", target.String())
	}
	if reason != "" {
		args = append(args, "reason", reason)
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if w.logger != nil {
		w.logger.InfoContext(ctx, string(event), args...)
	}
	if w.auditPublisher == nil {
		return
	}
	err := w.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		ActorID:   actorID(actor),
		Subject:   subject,
		Target:    target.String(),
		Reason:    reason,
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
	if err != nil && w.logger != nil {
		w.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}

// signingRecord is the persisted draft shape handed to the signer.
type signingRecord struct {
	ID                  string              `json:"id"`
	ProposedRules       models.RuleSettings `json:"proposedRules"`
	PreviousRuleSetting models.RuleSettings `json:"previousRuleSetting"`
	PreviousCert        string              `json:"previousCert"`
	Approvals           []signingApproval   `json:"approvals"`
	Rejections          []signingRejection  `json:"rejections"`
	Expiry              int64               `json:"expiry"`
}

type signingApproval struct {
	Identity     string `json:"identity"`
	ApprovalBlob string `json:"approvalBlob"`
	AuthBlob     string `json:"authBlob"`
}

type signingRejection struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

func signRequest(d *models.RuleSettingDraft, settings models.RuleSettings) (ports.SignRequest, error) {
	rec := signingRecord{
		ID:                  d.ID,
		ProposedRules:       settings,
		PreviousRuleSetting: d.PreviousRuleSetting,
		PreviousCert:        d.PreviousCert,
		Approvals:           make([]signingApproval, 0, len(d.Approvals)),
		Rejections:          make([]signingRejection, 0, len(d.Rejections)),
		Expiry:              d.Expiry.Unix(),
	}
	for _, a := range d.Approvals {
		rec.Approvals = append(rec.Approvals, signingApproval{Identity: a.Identity, ApprovalBlob: a.ApprovalBlob, AuthBlob: a.AuthBlob})
	}
	for _, r := range d.Rejections {
		rec.Rejections = append(rec.Rejections, signingRejection{Identity: r.Identity, Reason: r.Reason})
	}
	draftBlob, err := json.Marshal(rec)
	if err != nil {
		return ports.SignRequest{}, err
	}
	newSetting, err := json.Marshal(settings)
	if err != nil {
		return ports.SignRequest{}, err
	}
	return ports.SignRequest{
		DraftBlob:  string(draftBlob),
		Approvals:  d.ApprovalBlobs(),
		Expiry:     d.Expiry,
		NewSetting: string(newSetting),
	}, nil
}

// committedOrEmpty returns the latest version, or version 0 with empty
// settings when nothing has been committed.
func committedOrEmpty(ctx context.Context, r store.Reader) (*models.CommittedRules, error) {
	c, err := r.GetRuleConfiguration(ctx)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.CommittedRules{Settings: models.RuleSettings{RulesContainer: models.RulesContainer{
			ValidationSettings: map[string][]models.RuleDefinition{},
		}}}, nil
	}
	return nil, err
}

func actorID(actor requestcontext.Identity) string {
	if actor.UserID != "" {
		return actor.UserID
	}
	return actor.Username
}

// translate maps store sentinels onto workflow error codes. Coded errors
// pass through unchanged.
func translate(err error, op string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeDraftNotFound, "draft not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeDraftAlreadyOpen, "a draft is already open for this target")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, op+": store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op)
	}
}

// translateCollaborator keeps a collaborator's own code and otherwise
// applies code.
func translateCollaborator(err error, code dErrors.Code, op string) error {
	if de, ok := dErrors.As(err); ok && code != dErrors.CodeSigningFailed {
		return de
	}
	return dErrors.Wrap(err, code, op)
}

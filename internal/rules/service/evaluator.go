package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quorum/internal/rules/evaluator"
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
	// OutcomeValidationFailed is reported when a record breaks a validation
	// rule of one of the caller's roles. Authorization is not attempted.
	OutcomeValidationFailed evaluator.Outcome = "VALIDATION_FAILED"
	// OutcomeDenied is recorded when no authorization rule matches.
	OutcomeDenied evaluator.Outcome = "DENIED"
)

// Evaluation is the result of checking a transaction record against the
// committed rule set.
type Evaluation struct {
	Outcome evaluator.Outcome
	// Version of the committed rule set used, 0 when none exists.
	Version int64
	// FailedRoles lists the roles whose validation rules the record broke.
	FailedRoles []string
	// Authorization is set once validation passed.
	Authorization *evaluator.AuthorizationDecision
}

// Evaluator decides transactions against the latest committed rule set.
type Evaluator struct {
	store          store.Reader
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	tracer         trace.Tracer
}

type EvaluatorOption func(*Evaluator)

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

func WithEvaluatorAuditPublisher(p ports.AuditPublisher) EvaluatorOption {
	return func(e *Evaluator) { e.auditPublisher = p }
}

func WithEvaluatorTracer(t trace.Tracer) EvaluatorOption {
	return func(e *Evaluator) { e.tracer = t }
}

func NewEvaluator(st store.Reader, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:  st,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the validation lists of roles, then the authorization list,
// over record. A missing rule set behaves as an empty one, so authorization
// is denied with CodeNoMatchingAuthorizationRule.
func (e *Evaluator) Evaluate(ctx context.Context, record models.Record, approvals []models.Approval, roles []string) (_ *Evaluation, err error) {
	ctx, span := e.tracer.Start(ctx, "rules.Evaluate", trace.WithAttributes(attribute.Int("rules.approvals", len(approvals))))
	started := time.Now()
	defer func() {
		e.metrics.ObserveEvaluateLatency(time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	if len(record) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "transaction record is empty")
	}
	for _, f := range record.Fields() {
		if _, ok := f.Kind(); !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unrecognised field %q", f)
		}
	}

	committed, err := e.store.GetRuleConfiguration(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		committed, err = &models.CommittedRules{}, nil
	}
	if err != nil {
		return nil, translate(err, "load committed rules")
	}
	out := &Evaluation{Version: committed.Version}
	span.SetAttributes(attribute.Int64("rules.version", committed.Version))

	sorted := slices.Sorted(slices.Values(roles))
	for _, role := range slices.Compact(sorted) {
		pass, err := evaluator.EvaluateValidation(committed.Settings.ValidationRules(role), record)
		if err != nil {
			return nil, e.fail(ctx, err)
		}
		if !pass {
			out.FailedRoles = append(out.FailedRoles, role)
		}
	}
	if len(out.FailedRoles) > 0 {
		out.Outcome = OutcomeValidationFailed
		e.record(ctx, out, "")
		return out, nil
	}

	decision, err := evaluator.EvaluateAuthorization(committed.Settings.AuthorizationRules(), record, approvals)
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	out.Outcome = decision.Outcome
	out.Authorization = &decision
	e.record(ctx, out, "")
	return out, nil
}

func (e *Evaluator) fail(ctx context.Context, err error) error {
	if dErrors.HasCode(err, dErrors.CodeNoMatchingAuthorizationRule) {
		e.record(ctx, &Evaluation{Outcome: OutcomeDenied}, err.Error())
	}
	return err
}

func (e *Evaluator) record(ctx context.Context, ev *Evaluation, reason string) {
	e.metrics.IncrementDecision(string(ev.Outcome))
	actor := requestcontext.Actor(ctx)
	if e.logger != nil {
		e.logger.InfoContext(ctx, string(audit.EventAuthorizationEvaluated),
			"event", string(audit.EventAuthorizationEvaluated),
			"log_type", "audit",
			"actor", actorID(actor),
			"outcome", string(ev.Outcome),
			"version", ev.Version,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if e.auditPublisher == nil {
		return
	}
	err := e.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(audit.EventAuthorizationEvaluated),
		ActorID:   actorID(actor),
		Decision:  string(ev.Outcome),
		Target:    models.TargetAuthorization.String(),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
	if err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}

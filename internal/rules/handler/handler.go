// Package handler exposes the rule workflow and evaluator over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"quorum/internal/rules/models"
	"quorum/internal/rules/service"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/httputil"
	"quorum/pkg/requestcontext"
)

// Workflow is the draft lifecycle the handler drives.
type Workflow interface {
	Propose(ctx context.Context, target models.Target, rules []models.RuleDefinition, actor requestcontext.Identity) (*models.RuleSettingDraft, error)
	Approve(ctx context.Context, draftID, approvalBlob, authBlob string, actor requestcontext.Identity) (*service.ApprovalResult, error)
	Reject(ctx context.Context, draftID, reason string, actor requestcontext.Identity) (*models.RuleSettingDraft, error)
	Cancel(ctx context.Context, draftID string, actor requestcontext.Identity) error
	GetDraft(ctx context.Context, draftID string) (*models.RuleSettingDraft, error)
	ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error)
	Committed(ctx context.Context) (*models.CommittedRules, error)
}

// Evaluator decides transaction records.
type Evaluator interface {
	Evaluate(ctx context.Context, record models.Record, approvals []models.Approval, roles []string) (*service.Evaluation, error)
}

type Handler struct {
	workflow  Workflow
	evaluator Evaluator
	logger    *slog.Logger
	// authenticate runs before every route; nil leaves routes open.
	authenticate func(http.Handler) http.Handler
	now          func() time.Time
}

func New(workflow Workflow, evaluator Evaluator, logger *slog.Logger, authenticate func(http.Handler) http.Handler) *Handler {
	return &Handler{
		workflow:     workflow,
		evaluator:    evaluator,
		logger:       logger,
		authenticate: authenticate,
		now:          time.Now,
	}
}

// Register mounts the rule routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.authenticate != nil {
			r.Use(h.authenticate)
		}
		r.Get("/admin/global-rules", h.handleGlobalRules)

		r.Route("/admin/change-requests", func(r chi.Router) {
			r.Post("/rules", h.handlePropose)
			r.Get("/rules", h.handleListDrafts)
			r.Post("/rules/cancel", h.handleCancel)
			r.Get("/rules/{id}", h.handleGetDraft)
			r.Post("/rules/{id}/approve", h.handleApprove)
			r.Post("/addRejection", h.handleReject)
		})

		r.Post("/rules/evaluate", h.handleEvaluate)
	})
}

func (h *Handler) handleGlobalRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	committed, err := h.workflow.Committed(ctx)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		httputil.WriteJSON(w, http.StatusOK, GlobalRulesResponse{Rules: models.RuleSettings{RulesContainer: models.RulesContainer{
			ValidationSettings: map[string][]models.RuleDefinition{},
		}}})
		return
	}
	if err != nil {
		h.fail(ctx, w, "failed to load global rules", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGlobalRulesResponse(committed))
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ProposeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	draft, err := h.workflow.Propose(ctx, req.target, req.Rules, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to propose rule change", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toDraftResponse(draft, h.now()))
}

func (h *Handler) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	drafts, err := h.workflow.ListDrafts(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list drafts", err)
		return
	}
	now := h.now()
	resp := DraftListResponse{Drafts: make([]DraftResponse, 0, len(drafts))}
	for _, d := range drafts {
		resp.Drafts = append(resp.Drafts, toDraftResponse(d, now))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := h.workflow.GetDraft(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "failed to load draft", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDraftResponse(draft, h.now()))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	draftID := strings.TrimSpace(chi.URLParam(r, "id"))

	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.workflow.Approve(ctx, draftID, req.AuthorizerApproval, req.AuthorizerAuthentication, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to approve draft", err)
		return
	}

	resp := ApproveResponse{Status: "pending", Approvals: res.Approvals, Required: res.Required}
	if res.Committed != nil {
		resp.Status = "committed"
		resp.Committed = toGlobalRulesResponse(res.Committed)
	} else if res.Draft != nil {
		d := toDraftResponse(res.Draft, h.now())
		resp.Draft = &d
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	draft, err := h.workflow.Reject(ctx, req.ChangeRequest.ID, req.ChangeRequest.Reason, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to reject draft", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDraftResponse(draft, h.now()))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.workflow.Cancel(ctx, req.ID, requestcontext.Actor(ctx)); err != nil {
		h.fail(ctx, w, "failed to cancel draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	actor := requestcontext.Actor(ctx)
	ev, err := h.evaluator.Evaluate(ctx, req.record(), req.approvals(), actor.Roles)
	if err != nil {
		h.fail(ctx, w, "failed to evaluate transaction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEvaluateResponse(ev))
}

// fail logs at a level matching the error class and writes it.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	args := []any{"request_id", requestcontext.RequestID(ctx), "code", string(code), "error", err}
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

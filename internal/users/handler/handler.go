// Package handler is the admin console's user management API. It is a thin
// layer over the IAM admin client.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"quorum/internal/iam"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/httputil"
	"quorum/pkg/requestcontext"
)

// roleLookupConcurrency bounds parallel role-mapping calls to the IAM.
const roleLookupConcurrency = 8

// Directory is the IAM surface the handler uses.
type Directory interface {
	GetUsers(ctx context.Context) ([]iam.User, error)
	GetUserRoleMappings(ctx context.Context, userID string) ([]string, error)
	GetTransactionRoles(ctx context.Context) ([]iam.RoleRepresentation, error)
	GrantUserRole(ctx context.Context, userID, roleName string) error
	RemoveUserRole(ctx context.Context, userID, roleName string) error
	UpdateUser(ctx context.Context, userID string, update iam.UserUpdate) error
	DeleteUser(ctx context.Context, userID string) error
}

type Handler struct {
	directory    Directory
	logger       *slog.Logger
	authenticate func(http.Handler) http.Handler
	// authorize runs after authenticate; nil admits every caller.
	authorize func(http.Handler) http.Handler
}

func New(directory Directory, logger *slog.Logger, authenticate, authorize func(http.Handler) http.Handler) *Handler {
	return &Handler{directory: directory, logger: logger, authenticate: authenticate, authorize: authorize}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.authenticate != nil {
			r.Use(h.authenticate)
		}
		if h.authorize != nil {
			r.Use(h.authorize)
		}
		r.Get("/admin/users", h.handleList)
		r.Put("/admin/users", h.handleUpdate)
		r.Delete("/admin/users", h.handleDelete)
		r.Get("/admin/roles", h.handleRoles)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.directory.GetUsers(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list users", err)
		return
	}

	resp := UserListResponse{Users: make([]UserResponse, len(users))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roleLookupConcurrency)
	for i, u := range users {
		resp.Users[i] = toUserResponse(u)
		g.Go(func() error {
			roles, err := h.directory.GetUserRoleMappings(gctx, u.ID)
			if err != nil {
				return err
			}
			resp.Users[i].Roles = roles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.fail(ctx, w, "failed to load user roles", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpdateUserRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.directory.UpdateUser(ctx, req.ID, iam.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	}); err != nil {
		h.fail(ctx, w, "failed to update user", err)
		return
	}
	for _, role := range req.RolesToAdd {
		if err := h.directory.GrantUserRole(ctx, req.ID, role); err != nil {
			h.fail(ctx, w, "failed to grant role", err)
			return
		}
	}
	for _, role := range req.RolesToRemove {
		if err := h.directory.RemoveUserRole(ctx, req.ID, role); err != nil {
			h.fail(ctx, w, "failed to remove role", err)
			return
		}
	}

	h.logger.InfoContext(ctx, "user updated",
		"event", "user_updated",
		"log_type", "audit",
		"request_id", requestID,
		"actor_id", requestcontext.Actor(ctx).UserID,
		"user_id", req.ID,
		"roles_added", req.RolesToAdd,
		"roles_removed", req.RolesToRemove,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "userId is required"))
		return
	}
	if actor := requestcontext.Actor(ctx); actor.UserID == userID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admins cannot delete themselves"))
		return
	}
	if err := h.directory.DeleteUser(ctx, userID); err != nil {
		h.fail(ctx, w, "failed to delete user", err)
		return
	}
	h.logger.InfoContext(ctx, "user deleted",
		"event", "user_deleted",
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", requestcontext.Actor(ctx).UserID,
		"user_id", userID,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roles, err := h.directory.GetTransactionRoles(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list roles", err)
		return
	}
	resp := RoleListResponse{Roles: make([]RoleResponse, 0, len(roles))}
	for _, role := range roles {
		resp.Roles = append(resp.Roles, RoleResponse{ID: role.ID, Name: role.Name, Description: role.Description})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	args := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

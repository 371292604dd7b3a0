package testutil

import (
	"net/http"
	"strings"

	"quorum/pkg/requestcontext"
)

// WithActor attaches an authenticated identity to the request, the way the
// auth middleware does after verifying a token.
func WithActor(req *http.Request, actor requestcontext.Identity) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithUser attaches an identity with the given user ID and roles.
func WithUser(req *http.Request, userID string, roles ...string) *http.Request {
	return WithActor(req, requestcontext.Identity{UserID: userID, Username: userID, Roles: roles})
}

// WithRequestID sets the correlation ID handlers log with.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// ActorFromHeader is a stand-in for the auth middleware. It reads the user
// from X-Test-User and comma-separated roles from X-Test-Roles; requests
// without the header stay anonymous.
func ActorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, WithUser(r, user, splitRoles(r.Header.Get("X-Test-Roles"))...))
	})
}

func splitRoles(raw string) []string {
	var out []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			out = append(out, role)
		}
	}
	return out
}

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/pkg/requestcontext"
)

type stubVerifier struct {
	identity requestcontext.Identity
	err      error
	gotToken string
}

func (s *stubVerifier) Verify(_ context.Context, token string) (requestcontext.Identity, error) {
	s.gotToken = token
	return s.identity, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	identity := requestcontext.Identity{UserID: "u-1", Roles: []string{"tide-realm-admin"}}

	t.Run("missing token", func(t *testing.T) {
		h := RequireAuth(&stubVerifier{}, discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		h := RequireAuth(&stubVerifier{err: errors.New("bad sig")}, discardLogger())(http.NotFoundHandler())
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("cookie token sets identity", func(t *testing.T) {
		v := &stubVerifier{identity: identity}
		var got requestcontext.Identity
		var gotToken string
		h := RequireAuth(v, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = requestcontext.Actor(r.Context())
			gotToken = requestcontext.AccessToken(r.Context())
		}))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "cookie-token"})
		h.ServeHTTP(httptest.NewRecorder(), r)

		require.Equal(t, "cookie-token", v.gotToken)
		assert.Equal(t, identity.UserID, got.UserID)
		assert.Equal(t, "cookie-token", gotToken)
	})
}

func TestRequireAnyRole(t *testing.T) {
	h := RequireAnyRole(discardLogger(), "tide-realm-admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(requestcontext.WithActor(r.Context(), requestcontext.Identity{UserID: "u", Roles: []string{"viewer"}}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(requestcontext.WithActor(r.Context(), requestcontext.Identity{UserID: "u", Roles: []string{"tide-realm-admin"}}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

package iam

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/middleware/auth"
	strs "quorum/pkg/platform/strings"
	"quorum/pkg/requestcontext"
)

const defaultLeeway = 30 * time.Second

// VerifierConfig selects how access tokens are checked. Exactly one key
// source is used: PublicKeyPEM, then Secret, then the realm's JWKS endpoint.
type VerifierConfig struct {
	Issuer       string
	PublicKeyPEM string
	Secret       string
	JWKSURL      string
	Leeway       time.Duration
}

// Verifier validates realm access tokens and turns their claims into an
// Identity.
type Verifier struct {
	issuer  string
	leeway  time.Duration
	rsaKey  *rsa.PublicKey
	hmacKey []byte
	jwks    *jwksCache
	now     func() time.Time
}

type VerifierOption func(*Verifier)

func WithVerifierHTTPClient(hc *http.Client) VerifierOption {
	return func(v *Verifier) {
		if v.jwks != nil && hc != nil {
			v.jwks.http = hc
		}
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
			if v.jwks != nil {
				v.jwks.now = now
			}
		}
	}
}

var _ auth.TokenVerifier = (*Verifier)(nil)

// NewVerifier builds a Verifier. An empty JWKSURL defaults to the realm's
// certs endpoint under Issuer.
func NewVerifier(cfg VerifierConfig, opts ...VerifierOption) (*Verifier, error) {
	issuer := strings.TrimRight(strings.TrimSpace(cfg.Issuer), "/")
	if issuer == "" {
		return nil, errors.New("iam: token issuer is required")
	}
	v := &Verifier{issuer: issuer, leeway: cfg.Leeway, now: time.Now}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	switch {
	case strings.TrimSpace(cfg.PublicKeyPEM) != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iam: parse token public key")
		}
		v.rsaKey = key
	case cfg.Secret != "":
		v.hmacKey = []byte(cfg.Secret)
	default:
		url := cfg.JWKSURL
		if url == "" {
			url = issuer + "/protocol/openid-connect/certs"
		}
		v.jwks = newJWKSCache(url, &http.Client{Timeout: jwksFetchTimeout})
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify implements auth.TokenVerifier.
func (v *Verifier) Verify(ctx context.Context, token string) (requestcontext.Identity, error) {
	return v.CurrentUser(ctx, token, nil)
}

// CurrentUser verifies token and, when requiredRoles is non-empty, checks
// that the caller holds at least one of them.
func (v *Verifier) CurrentUser(ctx context.Context, token string, requiredRoles []string) (requestcontext.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestcontext.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token is required")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.keyFor(ctx, t)
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestcontext.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return requestcontext.Identity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	identity := identityFromClaims(claims)
	if identity.UserID == "" {
		return requestcontext.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	if len(requiredRoles) > 0 && !identity.HasAnyRole(requiredRoles...) {
		return identity, dErrors.New(dErrors.CodeForbidden, "caller lacks a required role")
	}
	return identity, nil
}

func (v *Verifier) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.rsaKey != nil {
			return v.rsaKey, nil
		}
		if v.jwks != nil {
			kid, _ := t.Header["kid"].(string)
			return v.jwks.key(ctx, kid)
		}
	case *jwt.SigningMethodHMAC:
		if v.hmacKey != nil {
			return v.hmacKey, nil
		}
	}
	return nil, jwt.ErrTokenUnverifiable
}

func identityFromClaims(claims jwt.MapClaims) requestcontext.Identity {
	id := requestcontext.Identity{}
	id.UserID, _ = claims["sub"].(string)
	id.Username, _ = claims["preferred_username"].(string)

	var roles []string
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		roles = append(roles, stringList(realm["roles"])...)
	}
	if resources, ok := claims["resource_access"].(map[string]any); ok {
		for _, raw := range resources {
			if client, ok := raw.(map[string]any); ok {
				roles = append(roles, stringList(client["roles"])...)
			}
		}
	}
	id.Roles = strs.DedupeAndTrim(roles)
	return id
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

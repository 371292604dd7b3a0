package iam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "quorum/pkg/domain-errors"
)

const testIssuer = "http://iam.test/realms/tide"

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func baseClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                testIssuer,
		"sub":                "user-1",
		"preferred_username": "alice",
		"exp":                now.Add(5 * time.Minute).Unix(),
		"iat":                now.Unix(),
		"realm_access":       map[string]any{"roles": []any{"offline_access", "tide-realm-admin"}},
		"resource_access": map[string]any{
			"realm-management": map[string]any{"roles": []any{"tide-realm-admin", "view-users"}},
		},
	}
}

func TestVerifierHMAC(t *testing.T) {
	now := time.Now()
	v, err := NewVerifier(VerifierConfig{Issuer: testIssuer, Secret: "s3cret"})
	require.NoError(t, err)

	t.Run("valid token yields identity", func(t *testing.T) {
		id, err := v.Verify(context.Background(), signHMAC(t, "s3cret", baseClaims(now)))
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
		assert.Equal(t, "alice", id.Username)
		assert.ElementsMatch(t, []string{"offline_access", "tide-realm-admin", "view-users"}, id.Roles)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(context.Background(), signHMAC(t, "other", baseClaims(now)))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		claims := baseClaims(now)
		claims["exp"] = now.Add(-time.Hour).Unix()
		_, err := v.Verify(context.Background(), signHMAC(t, "s3cret", claims))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := baseClaims(now)
		claims["iss"] = "http://elsewhere/realms/other"
		_, err := v.Verify(context.Background(), signHMAC(t, "s3cret", claims))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := baseClaims(now)
		delete(claims, "sub")
		_, err := v.Verify(context.Background(), signHMAC(t, "s3cret", claims))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "  ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expiry uses the verifier clock", func(t *testing.T) {
		issued := now.Add(-24 * time.Hour)
		token := signHMAC(t, "s3cret", baseClaims(issued))
		past, err := NewVerifier(VerifierConfig{Issuer: testIssuer, Secret: "s3cret"},
			WithVerifierClock(func() time.Time { return issued.Add(time.Minute) }))
		require.NoError(t, err)

		_, err = past.Verify(context.Background(), token)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestCurrentUserRequiredRoles(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Issuer: testIssuer, Secret: "s3cret"})
	require.NoError(t, err)
	token := signHMAC(t, "s3cret", baseClaims(time.Now()))

	_, err = v.CurrentUser(context.Background(), token, []string{"tide-realm-admin"})
	assert.NoError(t, err)

	_, err = v.CurrentUser(context.Background(), token, []string{"auditor"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestVerifierRejectsAlgorithmMismatch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v, err := NewVerifier(VerifierConfig{Issuer: testIssuer, Secret: "s3cret"})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims(time.Now())).SignedString(key)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifierJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{Issuer: testIssuer, JWKSURL: srv.URL}, WithVerifierHTTPClient(srv.Client()))
	require.NoError(t, err)

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims(time.Now()))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	for range 3 {
		id, err := v.Verify(context.Background(), sign("k1"))
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
	}
	assert.Equal(t, int32(1), fetches.Load(), "keys are cached")

	_, err = v.Verify(context.Background(), sign("unknown"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestNewVerifierRequiresIssuer(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Secret: "x"})
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{Issuer: testIssuer, PublicKeyPEM: "not a pem"})
	assert.Error(t, err)
}

// Package iam is the client for the realm's identity and co-signing
// service. It implements the threshold, signing and rule-source ports of the
// rules module and the user-management calls of the admin API.
package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/circuit"
	"quorum/pkg/requestcontext"
)

const (
	defaultTimeout = 10 * time.Second
	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 4 << 10

	// RealmManagementClient owns the realm admin role and its threshold.
	RealmManagementClient = "realm-management"
	// TransactionClient owns the transaction roles users are granted.
	TransactionClient = "TX_MANAGMENT"
	// AdminRole is the realm admin role name.
	AdminRole = "tide-realm-admin"
)

// Config locates the IAM realm.
type Config struct {
	// BaseURL is the IAM server root, e.g. https://iam.example.com.
	BaseURL string
	Realm   string
	// ClientID is the admin console's own client, used as the token audience.
	ClientID string
	Timeout  time.Duration
	// ServiceToken authorises calls made outside a request, such as seeding
	// the rule store at startup.
	ServiceToken string
}

// Client talks to the IAM admin REST API. Calls forward the caller's access
// token from the context.
type Client struct {
	http      *http.Client
	adminURL  string
	cfg       Config
	breaker   *circuit.Breaker
	logger    *slog.Logger
	txClient  string
	adminRole string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTransactionClient overrides the client holding transaction roles.
func WithTransactionClient(clientID string) Option {
	return func(c *Client) {
		if clientID != "" {
			c.txClient = clientID
		}
	}
}

// New validates cfg and builds a Client. Close releases idle connections.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("iam: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("iam: parse base URL: %w", err)
	}
	if strings.TrimSpace(cfg.Realm) == "" {
		return nil, errors.New("iam: realm is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = base

	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		adminURL:  base + "/admin/realms/" + url.PathEscape(cfg.Realm),
		cfg:       cfg,
		breaker:   circuit.New("iam", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:    slog.Default(),
		txClient:  TransactionClient,
		adminRole: AdminRole,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Issuer is the token issuer of the realm.
func (c *Client) Issuer() string {
	return c.cfg.BaseURL + "/realms/" + url.PathEscape(c.cfg.Realm)
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
// Transport failures and 5xx responses count against the breaker.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if !c.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "iam: circuit open")
	}

	target := c.adminURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iam: build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token := c.token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.recordFailure(ctx, req, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "iam: request timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "iam: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode >= 500 {
			c.recordFailure(ctx, req, fmt.Errorf("status %d", resp.StatusCode))
		} else {
			c.breaker.RecordSuccess()
		}
		c.logger.WarnContext(ctx, "iam request rejected",
			"method", req.method,
			"path", req.path,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(body)),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return statusError(resp.StatusCode, req.path)
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "iam circuit closed")
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if s, ok := out.(*string); ok {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "iam: read response")
		}
		*s = string(raw)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iam: decode "+req.path)
	}
	return nil
}

func (c *Client) token(ctx context.Context) string {
	if t := requestcontext.AccessToken(ctx); t != "" {
		return t
	}
	return c.cfg.ServiceToken
}

func (c *Client) recordFailure(ctx context.Context, req request, err error) {
	_, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "iam circuit opened", "path", req.path, "error", err)
	}
}

func statusError(status int, path string) error {
	switch {
	case status == http.StatusUnauthorized:
		return dErrors.Newf(dErrors.CodeUnauthorized, "iam: %s: unauthorized", path)
	case status == http.StatusForbidden:
		return dErrors.Newf(dErrors.CodeForbidden, "iam: %s: forbidden", path)
	case status == http.StatusNotFound:
		return dErrors.Newf(dErrors.CodeNotFound, "iam: %s: not found", path)
	case status == http.StatusConflict:
		return dErrors.Newf(dErrors.CodeConflict, "iam: %s: conflict", path)
	case status >= 400 && status < 500:
		return dErrors.Newf(dErrors.CodeBadRequest, "iam: %s: rejected with status %d", path, status)
	default:
		return dErrors.Newf(dErrors.CodeUnavailable, "iam: %s: status %d", path, status)
	}
}

package iam

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSTTL      = 5 * time.Minute
	defaultJWKSMaxStale = 15 * time.Minute
	jwksFetchTimeout    = 5 * time.Second
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwksCache holds the realm's RSA signing keys. Keys past their TTL are
// still served for maxStale while a background refresh runs.
type jwksCache struct {
	url      string
	http     *http.Client
	ttl      time.Duration
	maxStale time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	expiresAt  time.Time
	staleUntil time.Time

	group singleflight.Group
}

func newJWKSCache(url string, hc *http.Client) *jwksCache {
	return &jwksCache{
		url:      url,
		http:     hc,
		ttl:      defaultJWKSTTL,
		maxStale: defaultJWKSMaxStale,
		now:      time.Now,
		keys:     map[string]*rsa.PublicKey{},
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("token has no kid")
	}
	key, fresh := c.lookup(kid)
	if key != nil {
		if !fresh {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), jwksFetchTimeout)
				defer cancel()
				_ = c.refresh(ctx)
			}()
		}
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, _ := c.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("jwks: unknown kid %q", kid)
}

func (c *jwksCache) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.Before(c.expiresAt) {
		return key, true
	}
	if now.Before(c.staleUntil) {
		return key, false
	}
	return nil, false
}

// refresh collapses concurrent refreshes into one fetch.
func (c *jwksCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
		defer cancel()
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		now := c.now()
		c.mu.Lock()
		c.keys = keys
		c.expiresAt = now.Add(c.ttl)
		c.staleUntil = c.expiresAt.Add(c.maxStale)
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks: fetch returned status %d", resp.StatusCode)
	}
	var payload struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("jwks: decode: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks: no usable signing keys")
	}
	return keys, nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(nBytes) == 0 {
		return nil, errors.New("invalid modulus")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(eBytes) == 0 {
		return nil, errors.New("invalid exponent")
	}
	e := new(big.Int).SetBytes(eBytes).Int64()
	if e <= 1 || e > int64(^uint32(0)>>1) {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e)}, nil
}

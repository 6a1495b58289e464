// Package auth resolves the bearer credential used for every warehouse
// request. Resolution walks an ordered fallback chain (managed identity,
// secret store, static token); the first source that yields a token wins and
// the result is cached in memory for a window shorter than the token's real
// validity.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lakequery/lakequery/internal/observability"
)

// Platform identity tokens last about an hour; cache for less so a token is
// never handed out close to its expiry.
const credentialCacheWindow = 50 * time.Minute

// ConfigError reports invalid resolver configuration at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth config: %s: %s", e.Field, e.Reason)
}

// NoAuthError reports that every credential source failed.
type NoAuthError struct {
	Attempted []string
}

func (e *NoAuthError) Error() string {
	attempted := "none"
	if len(e.Attempted) > 0 {
		attempted = strings.Join(e.Attempted, ", ")
	}
	return fmt.Sprintf(
		"no credential available (attempted: %s); enable managed identity, configure a secret store address and secret name, or set a static token",
		attempted,
	)
}

// Credential is a resolved bearer token with its cache lifetime.
type Credential struct {
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

type ResolverConfig struct {
	// Endpoint is the warehouse base URL; it must use https.
	Endpoint string
	// WarehouseID identifies the compute target statements run on.
	WarehouseID string
	Logger      *slog.Logger
}

// Resolver caches one credential per instance. Safe for concurrent use.
type Resolver struct {
	endpoint    string
	warehouseID string
	sources     []CredentialSource
	logger      *slog.Logger

	mu     sync.Mutex
	cached *Credential

	now func() time.Time
}

func NewResolver(cfg ResolverConfig, sources ...CredentialSource) (*Resolver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, &ConfigError{Field: "endpoint", Reason: "must not be empty"}
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme != "https" {
		return nil, &ConfigError{Field: "endpoint", Reason: fmt.Sprintf("must be an https:// URL, got %q", endpoint)}
	}
	if strings.TrimSpace(cfg.WarehouseID) == "" {
		return nil, &ConfigError{Field: "warehouse_id", Reason: "must not be empty"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		endpoint:    strings.TrimRight(endpoint, "/"),
		warehouseID: strings.TrimSpace(cfg.WarehouseID),
		sources:     sources,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Endpoint returns the normalized warehouse base URL (no trailing slash).
func (r *Resolver) Endpoint() string { return r.endpoint }

func (r *Resolver) WarehouseID() string { return r.warehouseID }

// Token returns the cached credential when still valid, otherwise walks the
// source chain. Individual source failures are logged and swallowed; only
// full exhaustion surfaces, as *NoAuthError.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Before(r.cached.ExpiresAt) {
		return r.cached.Token, nil
	}
	r.cached = nil

	attempted := make([]string, 0, len(r.sources))
	for _, source := range r.sources {
		attempted = append(attempted, source.Name())
		token, err := source.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn("credential source failed",
				slog.String("source", source.Name()),
				slog.Any("error", err))
			continue
		}

		acquired := r.now()
		credential := &Credential{
			Token:      token,
			AcquiredAt: acquired,
			ExpiresAt:  cacheExpiry(acquired, token),
		}
		r.cached = credential
		observability.IncrementTokenResolution(source.Name())
		r.logger.Debug("credential resolved",
			slog.String("source", source.Name()),
			slog.Time("expires_at", credential.ExpiresAt))
		return credential.Token, nil
	}

	return "", &NoAuthError{Attempted: attempted}
}

// AuthorizationHeader returns the value for the Authorization request header.
func (r *Resolver) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := r.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// cacheExpiry caps the cache window at the token's own exp claim when the
// token parses as a JWT. Static tokens and opaque secrets keep the full
// window.
func cacheExpiry(acquired time.Time, token string) time.Time {
	expiry := acquired.Add(credentialCacheWindow)

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return expiry
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return expiry
	}
	if exp.Time.Before(expiry) {
		return exp.Time
	}
	return expiry
}

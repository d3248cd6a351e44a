// Package jwt authenticates tutors by HS256-signed bearer tokens, as
// issued by a hosted auth provider sharing a project secret.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/itsbakr/weave-tutor/pkg/auth"
)

// DefaultAudience is the audience of signed-in user tokens.
const DefaultAudience = "authenticated"

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret is the shared HMAC signing secret.
	Secret string

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Default: "authenticated".
	Audience string

	// TenantClaim names the claim holding the tenant. It is looked up at
	// the top level first, then inside app_metadata. Default: "tenant_id".
	TenantClaim string

	// TierClaim names the claim selecting the rate limit tier. Default: "tier".
	TierClaim string
}

func (c *Config) applyDefaults() {
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	config Config
	parser *jwtlib.Parser
}

// New creates a JWT authenticator. The secret must not be empty.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithAudience(cfg.Audience),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	return &Authenticator{config: cfg, parser: jwtlib.NewParser(opts...)}, nil
}

// Authenticate abstains unless a Bearer token is present.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Result{Decision: auth.Abstain}
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenStr == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("%w: empty bearer token", auth.ErrUnauthenticated)}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return []byte(a.config.Secret), nil
	})
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("%w: invalid JWT: %w", auth.ErrUnauthenticated, err)}
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("%w: JWT missing sub claim", auth.ErrUnauthenticated)}
	}

	id := &auth.Identity{
		Subject:  subject,
		TenantID: lookup(claims, a.config.TenantClaim),
		Tier:     lookup(claims, a.config.TierClaim),
		Role:     claimString(claims, "role"),
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

// lookup reads key at the top level, then from app_metadata.
func lookup(claims jwtlib.MapClaims, key string) string {
	if s := claimString(claims, key); s != "" {
		return s
	}
	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		if s, ok := meta[key].(string); ok {
			return s
		}
	}
	return ""
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

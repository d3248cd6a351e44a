package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is an authenticator's vote.
type Decision int

const (
	// Yes accepts the request with the returned identity.
	Yes Decision = iota

	// No rejects the request.
	No

	// Abstain defers to the next authenticator.
	Abstain
)

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Identity is an authenticated caller, usually a tutor.
type Identity struct {
	// Subject identifies the caller and must not be empty.
	Subject string

	// TenantID scopes stored activities. Empty disables scoping.
	TenantID string

	// Tier selects the rate limit.
	Tier string

	// Role is informational, for example "tutor" or "service".
	Role string
}

// Authenticator inspects request credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Anonymous is the identity used when a permissive chain has no credentials.
var Anonymous = Identity{Subject: "anonymous", Tier: "default"}

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous accepts requests on which every authenticator
	// abstained, using the Anonymous identity.
	AllowAnonymous bool
}

// Authenticate returns the first non-abstaining vote.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		id := Anonymous
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

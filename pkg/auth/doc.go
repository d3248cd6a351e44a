// Package auth authenticates API callers and enforces per-caller rate
// limits.
//
// Authenticators vote on each request: Yes (identity found), No
// (credentials present but invalid) or Abstain (credentials of another
// kind). A Chain asks them in order and, when all abstain, either rejects
// the request or admits it as Anonymous. Middleware runs the chain, applies
// the RateLimiter and scopes storage to the caller's tenant.
package auth

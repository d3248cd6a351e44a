// Package apikey authenticates service callers by static API keys.
// Keys are stored as SHA-256 hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/itsbakr/weave-tutor/pkg/auth"
)

// Header carries the API key.
const Header = "X-API-Key"

// Key is the configuration format for one API key.
type Key struct {
	Key      string
	Identity auth.Identity
}

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates the X-API-Key header.
type Authenticator struct {
	entries []entry
}

// New hashes keys immediately; plaintext keys are not retained.
func New(keys []Key) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		a.entries = append(a.entries, entry{hash: sha256.Sum256([]byte(k.Key)), identity: k.Identity})
	}
	return a
}

// Authenticate abstains without the header, so bearer tokens reach
// the next authenticator.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	values, present := r.Header[http.CanonicalHeaderKey(Header)]
	if !present {
		return auth.Result{Decision: auth.Abstain}
	}
	key := ""
	if len(values) > 0 {
		key = values[0]
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	hash := sha256.Sum256([]byte(key))
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(hash[:], e.hash[:]) == 1 {
			id := e.identity
			if id.Role == "" {
				id.Role = "service"
			}
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}

// Package session tracks live websocket connections and their
// authentication state. The registry is the only shared mutable state
// between request handlers and the transport's lifecycle callbacks; it
// is constructed once at startup and passed by reference.
package session

import (
	"errors"
	"sort"
	"sync"
)

// Typed authentication failures. The entry stays unauthenticated when
// either is returned.
var (
	ErrInvalidCredential = errors.New("session: invalid credential")
	ErrUnknownUser       = errors.New("session: unknown user")
)

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Verifier validates an in-band credential and resolves the identity
// behind it. Implementations report ErrInvalidCredential for a bad
// credential and ErrUnknownUser when the credential is well-formed but
// no user exists for it.
type Verifier interface {
	VerifyCredential(credential string) (Identity, error)
}

type entry struct {
	authenticated bool
	identity      Identity
}

// Registry is an in-memory table of connection id -> authentication
// state. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	verifier Verifier
}

// NewRegistry returns an empty registry that authenticates credentials
// through v.
func NewRegistry(v Verifier) *Registry {
	return &Registry{
		entries:  make(map[string]entry),
		verifier: v,
	}
}

// OnConnect records a new unauthenticated connection. Connect signals
// can be delivered more than once; an existing entry is left untouched
// so a duplicate never demotes an authenticated connection.
func (r *Registry) OnConnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[connID]; ok {
		return
	}
	r.entries[connID] = entry{}
}

// OnAuthenticate validates credential and, on success, promotes the
// connection to authenticated with the resolved identity. Repeating
// authenticate on an already-authenticated connection overwrites the
// identity fields rather than erroring, tolerating duplicate messages.
// On failure the entry stays unauthenticated.
func (r *Registry) OnAuthenticate(connID, credential string) (Identity, error) {
	id, err := r.verifier.VerifyCredential(credential)
	if err != nil {
		return Identity{}, err
	}
	if id.UserID == "" {
		// Verifier contract violation; fail closed.
		return Identity{}, ErrUnknownUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[connID]; !ok {
		// Authenticate raced a disconnect; the connection is gone.
		return Identity{}, ErrInvalidCredential
	}
	r.entries[connID] = entry{authenticated: true, identity: id}
	return id, nil
}

// OnDisconnect removes the connection unconditionally. Unknown ids are
// a no-op: disconnect signals can race or duplicate.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connID)
}

// ResolveByUserID returns every connection authenticated as userID.
// A user with several devices gets all of them.
func (r *Registry) ResolveByUserID(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for connID, e := range r.entries {
		if e.authenticated && e.identity.UserID == userID {
			out = append(out, connID)
		}
	}
	return out
}

// ResolveByEmail returns one authenticated connection for email. When
// the user has several live connections the lexicographically smallest
// connection id wins, so the result is deterministic for a given
// registry snapshot.
func (r *Registry) ResolveByEmail(email string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := ""
	for connID, e := range r.entries {
		if !e.authenticated || e.identity.Email != email {
			continue
		}
		if best == "" || connID < best {
			best = connID
		}
	}
	return best, best != ""
}

// Authenticated returns every authenticated connection id, sorted for
// deterministic iteration, optionally leaving out one connection.
func (r *Registry) Authenticated(exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for connID, e := range r.entries {
		if e.authenticated && connID != exclude {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out
}

// IdentityOf returns the identity bound to connID, if authenticated.
func (r *Registry) IdentityOf(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	if !ok || !e.authenticated {
		return Identity{}, false
	}
	return e.identity, true
}

// Len reports the number of live connections, authenticated or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

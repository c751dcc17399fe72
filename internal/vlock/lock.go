// Package vlock serializes builds of the same version. The lock is
// non-blocking: a second build attempting checkout while another holds the
// lock fails fast with a version-locked condition and relies on the job
// queue's retry policy to re-attempt.
package vlock

import (
	"sync"
	"time"

	berrors "github.com/docharbor/docharbor/internal/errors"
)

// Registry holds the in-flight locks, keyed by the version's checkout path.
type Registry struct {
	mu      sync.Mutex
	held    map[string]holder
	timeout time.Duration
}

type holder struct {
	owner      string
	acquiredAt time.Time
}

// NewRegistry creates a registry. Locks held longer than timeout are
// considered abandoned (a crashed worker) and may be stolen.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &Registry{held: make(map[string]holder), timeout: timeout}
}

// Acquire takes the lock for a checkout path or fails fast with a
// retryable version-locked error.
func (r *Registry) Acquire(checkoutPath, owner string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.held[checkoutPath]; ok {
		if time.Since(h.acquiredAt) < r.timeout {
			return nil, berrors.VersionLockedError(checkoutPath).
				WithContext("held_by", h.owner)
		}
		// Abandoned lock: fall through and steal it.
	}

	r.held[checkoutPath] = holder{owner: owner, acquiredAt: time.Now()}
	return &Lease{registry: r, key: checkoutPath}, nil
}

// Lease is a held lock; Release is idempotent.
type Lease struct {
	registry *Registry
	key      string
	released bool
	mu       sync.Mutex
}

// Release frees the lock.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	l.registry.mu.Lock()
	delete(l.registry.held, l.key)
	l.registry.mu.Unlock()
}

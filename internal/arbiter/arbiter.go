// Package arbiter serializes access to the single inference device shared by
// the speech and cleaning models. Exactly one role holds the device at a
// time; everyone else blocks until it is released or their deadline expires.
package arbiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// DefaultTimeout bounds a blocking acquire when the caller does not
// configure one.
const DefaultTimeout = 60 * time.Second

// Well-known holder roles.
const (
	RoleSpeech   = "speech"
	RoleCleaning = "cleaning"
)

// Arbiter is the gatekeeper for the inference device. The zero value is not
// usable; construct with New.
type Arbiter struct {
	mu        sync.Mutex
	holder    string
	releaseCh chan struct{}
	timeout   time.Duration
}

// New creates an Arbiter with the given acquire timeout. A non-positive
// timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Arbiter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Arbiter{timeout: timeout}
}

// Lease represents a held device. Release returns the device; releasing more
// than once is a no-op.
type Lease struct {
	arb      *Arbiter
	role     string
	mu       sync.Mutex
	released bool
}

// Role names the holder this lease was granted to.
func (l *Lease) Role() string {
	return l.role
}

// Release returns the device and wakes all waiters. Safe to call multiple
// times and safe to defer alongside an explicit release on the success path.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return
	}

	l.released = true
	l.arb.release(l.role)
}

// Acquire blocks until the device is free, then grants it to role. It fails
// with core.ErrResourceTimeout when the configured deadline passes first,
// with core.ErrAlreadyHeld when role already holds the device, and with the
// context error when ctx is cancelled while waiting.
func (a *Arbiter) Acquire(ctx context.Context, role string) (*Lease, error) {
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	a.mu.Lock()

	for {
		if a.holder == "" {
			a.holder = role
			a.releaseCh = make(chan struct{})
			a.mu.Unlock()

			return &Lease{arb: a, role: role}, nil
		}

		if a.holder == role {
			a.mu.Unlock()

			return nil, fmt.Errorf("role %q: %w", role, core.ErrAlreadyHeld)
		}

		holder := a.holder
		released := a.releaseCh
		a.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return nil, fmt.Errorf(
				"role %q waited %s for %q: %w",
				role, a.timeout, holder, core.ErrResourceTimeout,
			)
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire for role %q: %w", role, ctx.Err())
		}

		a.mu.Lock()
	}
}

// Holder reports the current holder role, or the empty string when the
// device is free.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.holder
}

func (a *Arbiter) release(role string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder != role {
		return
	}

	a.holder = ""
	close(a.releaseCh)
}

// Package synclock defines the single-flight lock port used by invocation
// layers to keep one sync per integration running across all instances.
package synclock

import (
	"context"
	"errors"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("sync already running")

// Release gives up a held lock.
type Release func(ctx context.Context) error

// Locker acquires non-blocking locks keyed by integration id. A lock stays
// held until released; only locks of vanished holders expire.
type Locker interface {
	// Acquire takes the lock or fails immediately with ErrHeld.
	Acquire(ctx context.Context, key string) (Release, error)
}

// Key returns the lock key of an integration.
func Key(integrationID string) string {
	return "sync." + integrationID
}

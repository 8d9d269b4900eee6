// ABOUTME: Session Store contract mapping user identity to a continuation token
// ABOUTME: Backends live in internal/store; all must be atomic replace-or-fail

package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when a user has no session record.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned by a conditional write when the stored token no
// longer matches the one the exchange started from.
var ErrConflict = errors.New("session changed concurrently")

// Record is a single user's stored continuation token.
type Record struct {
	UserID    string
	Token     string
	UpdatedAt time.Time
}

// Store persists one continuation token per user. Every method is atomic:
// after a failed Put or Delete the record set reflects the prior state.
type Store interface {
	// Get returns the user's token, or ErrNotFound.
	Get(ctx context.Context, userID string) (string, error)

	// Put creates or overwrites the user's token.
	Put(ctx context.Context, userID, token string) error

	// Delete removes the user's record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, userID string) error

	// Exists reports whether the user has a record.
	Exists(ctx context.Context, userID string) (bool, error)

	// List returns every record, for administration.
	List(ctx context.Context) ([]Record, error)

	Close() error
}

// ConditionalPutter is implemented by stores that can compare-and-swap a
// token. The Manager uses it instead of Put when the store provides it, so
// exchanges in different processes cannot overwrite each other's tokens.
type ConditionalPutter interface {
	// PutIf stores token only if the user's current token equals expected.
	// An empty expected means the record must not exist. Otherwise it
	// returns an error wrapping ErrConflict and leaves the record unchanged.
	PutIf(ctx context.Context, userID, expected, token string) error
}

// StoreError reports a backing-store failure for a single operation.
type StoreError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s for %q: %v", e.Op, e.UserID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker provides cross-process mutual exclusion per key. It is only needed
// when several relay processes share one backing store.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. The lock
	// expires after ttl if never released.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

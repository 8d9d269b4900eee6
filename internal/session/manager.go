// ABOUTME: Session Manager serializing each user's exchanges over a Store
// ABOUTME: Refcounted per-user mutexes plus an optional distributed Locker

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/claude-relay/internal/logging"
)

// DefaultLockTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultLockTTL = 10 * time.Minute

// lockEntry holds a user's mutex and how many callers are waiting on it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// TransitionHook observes every applied state transition.
type TransitionHook func(userID string, from, to State, event Event)

// Manager gives per-user linearizability over a Store: all operations for
// one user run one at a time, operations for different users run in
// parallel.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  Locker
	lockTTL time.Duration
	hook    TransitionHook
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker adds cross-process locking on top of the in-process mutexes.
func WithLocker(locker Locker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithTransitionHook registers a callback for applied transitions.
func WithTransitionHook(hook TransitionHook) Option {
	return func(m *Manager) {
		m.hook = hook
	}
}

// WithLogger sets the Manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With("component", "session")
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) acquire(userID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[userID]
	if !ok {
		entry = &lockEntry{}
		m.locks[userID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, userID)
	}
}

// WithLock runs fn while holding the user's lock.
func (m *Manager) WithLock(ctx context.Context, userID string, fn func(context.Context) error) error {
	entry := m.acquire(userID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(userID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, userID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("acquiring distributed lock: %w", err)
		}
		defer func() {
			// fresh context: ctx may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				m.logger.Warn("failed to release distributed lock, it will expire",
					"user_id", userID,
					"error", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Exchange runs one conversational exchange for userID under the user's
// lock. fn receives the current session and returns the continuation token
// the exchange produced ("" for none). A token moves the user to (or keeps
// them in) Continuing; no token leaves the stored record untouched.
//
// An error from fn is returned after the transition is applied. If the
// session cannot be loaded, fn is not called.
func (m *Manager) Exchange(ctx context.Context, userID string, fn func(context.Context, Session) (string, error)) (Session, error) {
	var result Session
	err := m.WithLock(ctx, userID, func(ctx context.Context) error {
		current, err := m.load(ctx, userID)
		if err != nil {
			result = current
			return err
		}

		token, fnErr := fn(ctx, current)

		event := NoToken
		if token != "" {
			event = TokenIssued
		}
		next, applyErr := m.apply(ctx, current, event, token)
		result = next
		return errors.Join(fnErr, applyErr)
	})
	return result, err
}

// Reset deletes the user's record, returning them to Fresh.
func (m *Manager) Reset(ctx context.Context, userID string) (Session, error) {
	var result Session
	err := m.WithLock(ctx, userID, func(ctx context.Context) error {
		current, err := m.load(ctx, userID)
		if err != nil {
			result = current
			return err
		}
		result, err = m.apply(ctx, current, Reset, "")
		return err
	})
	return result, err
}

// Status reports whether the user has a session, without changing it.
func (m *Manager) Status(ctx context.Context, userID string) (Session, error) {
	result := Session{UserID: userID, State: Fresh}
	err := m.WithLock(ctx, userID, func(ctx context.Context) error {
		ok, err := m.store.Exists(ctx, userID)
		if err != nil {
			return &StoreError{Op: "exists", UserID: userID, Err: err}
		}
		if ok {
			result.State = Continuing
		}
		return nil
	})
	return result, err
}

func (m *Manager) load(ctx context.Context, userID string) (Session, error) {
	s := Session{UserID: userID, State: Fresh}
	token, err := m.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s, nil
	case err != nil:
		return s, &StoreError{Op: "get", UserID: userID, Err: err}
	}
	s.State = Continuing
	s.Token = token
	return s, nil
}

// apply performs the store action for event and returns the resulting
// session. On a store failure the prior session is returned unchanged.
func (m *Manager) apply(ctx context.Context, current Session, event Event, token string) (Session, error) {
	nextState, action := Transition(current.State, event)

	next := current
	next.State = nextState
	switch action {
	case ActionPut:
		if err := m.put(ctx, current, token); err != nil {
			if errors.Is(err, ErrConflict) {
				m.logger.Warn("session changed by another exchange, token not stored",
					"user_id", current.UserID,
				)
			}
			return current, &StoreError{Op: "put", UserID: current.UserID, Err: err}
		}
		next.Token = token
	case ActionDelete:
		if err := m.store.Delete(ctx, current.UserID); err != nil {
			return current, &StoreError{Op: "delete", UserID: current.UserID, Err: err}
		}
		next.Token = ""
	}

	m.logger.Debug("session transition",
		"user_id", current.UserID,
		"event", event.String(),
		"from", current.State.String(),
		"to", nextState.String(),
		"action", action.String(),
	)
	if m.hook != nil {
		m.hook(current.UserID, current.State, nextState, event)
	}
	return next, nil
}

// put writes token, conditioned on the token current was loaded with when the
// store supports it.
func (m *Manager) put(ctx context.Context, current Session, token string) error {
	if cp, ok := m.store.(ConditionalPutter); ok {
		return cp.PutIf(ctx, current.UserID, current.Token, token)
	}
	return m.store.Put(ctx, current.UserID, token)
}

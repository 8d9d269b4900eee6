// ABOUTME: In-memory session.Store for tests and ephemeral deployments
// ABOUTME: Supports injected failures per operation to exercise error paths

package store

import (
	"context"
	"sync"
	"time"

	"github.com/2389/claude-relay/internal/session"
)

// MemoryStore is an in-memory session.Store. Records vanish with the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]session.Record
	fail    map[string]error // keyed by operation name: get, put, delete, exists, list
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]session.Record),
		fail:    make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Get returns the user's token, or session.ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fail["get"]; err != nil {
		return "", err
	}
	r, ok := m.records[userID]
	if !ok {
		return "", session.ErrNotFound
	}
	return r.Token, nil
}

// Put creates or replaces the user's token.
func (m *MemoryStore) Put(_ context.Context, userID, token string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail["put"]; err != nil {
		return err
	}
	m.records[userID] = session.Record{UserID: userID, Token: token, UpdatedAt: time.Now().UTC()}
	return nil
}

// Delete removes the user's record.
func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail["delete"]; err != nil {
		return err
	}
	delete(m.records, userID)
	return nil
}

// Exists reports whether the user has a record.
func (m *MemoryStore) Exists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fail["exists"]; err != nil {
		return false, err
	}
	_, ok := m.records[userID]
	return ok, nil
}

// List returns a copy of every record ordered by user id.
func (m *MemoryStore) List(_ context.Context) ([]session.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fail["list"]; err != nil {
		return nil, err
	}
	records := make([]session.Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

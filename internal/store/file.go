// ABOUTME: JSON file implementation of session.Store holding the whole user->token mapping
// ABOUTME: Writes go through temp file, fsync, and rename so a failed write keeps the old mapping

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/claude-relay/internal/session"
)

// FileStore keeps every session in one JSON object mapping user id to token.
// The in-process mutex serializes read-modify-write cycles; it does not
// protect against other processes writing the same file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the JSON file at path. The file is
// created on first write.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "store", "backend", "file"),
	}, nil
}

// load reads the mapping. A missing file is an empty mapping.
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	sessions := map[string]string{}
	if len(data) == 0 {
		return sessions, nil
	}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decoding session file: %w", err)
	}
	return sessions, nil
}

// save replaces the mapping atomically.
func (s *FileStore) save(sessions map[string]string) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath) // no-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Get returns the user's token, or session.ErrNotFound.
func (s *FileStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return "", err
	}
	token, ok := sessions[userID]
	if !ok {
		return "", session.ErrNotFound
	}
	return token, nil
}

// Put creates or replaces the user's token.
func (s *FileStore) Put(_ context.Context, userID, token string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}
	sessions[userID] = token
	return s.save(sessions)
}

// Delete removes the user's record.
func (s *FileStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := sessions[userID]; !ok {
		return nil
	}
	delete(sessions, userID)
	return s.save(sessions)
}

// Exists reports whether the user has a record.
func (s *FileStore) Exists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := sessions[userID]
	return ok, nil
}

// List returns every record. The file keeps no timestamps, so UpdatedAt is
// the file's modification time.
func (s *FileStore) List(_ context.Context) ([]session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return nil, err
	}

	var records []session.Record
	info, statErr := os.Stat(s.path)
	for id, token := range sessions {
		r := session.Record{UserID: id, Token: token}
		if statErr == nil {
			r.UpdatedAt = info.ModTime()
		}
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op; every operation opens and closes the file.
func (s *FileStore) Close() error {
	return nil
}

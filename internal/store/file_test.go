// ABOUTME: Tests for the JSON file session store
// ABOUTME: Covers the shared contract, on-disk format, and failed writes keeping the old mapping

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claude-relay/internal/logging"
	"github.com/2389/claude-relay/internal/session"
)

func TestFileStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) session.Store {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "sessions.json"), logging.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_WritesFlatMapping(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewFileStore(path, logging.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "12345", "abc-def"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var mapping map[string]string
	require.NoError(t, json.Unmarshal(data, &mapping))
	assert.Equal(t, map[string]string{"12345": "abc-def"}, mapping)
}

func TestFileStore_ReadsExistingMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"42": "resume-me"}`), 0644))

	s, err := NewFileStore(path, logging.NewNop())
	require.NoError(t, err)

	got, err := s.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "resume-me", got)
}

func TestFileStore_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	s, err := NewFileStore(path, logging.NewNop())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNotFound)
}

func TestFileStore_FailedWriteKeepsPriorMapping(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	s, err := NewFileStore(path, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "alice", "old"))

	require.NoError(t, os.Chmod(dir, 0555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0755) })

	err = s.Put(ctx, "alice", "new")
	require.Error(t, err)

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "old", got)
}

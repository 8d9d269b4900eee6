// ABOUTME: Shared session.Store contract suite run against every backend
// ABOUTME: Checks round-trips, overwrite, idempotent delete, isolation, and listing

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claude-relay/internal/session"
)

// runStoreContract verifies that the store returned by newStore satisfies
// the session.Store contract. Each subtest gets a fresh store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nobody")
		assert.True(t, errors.Is(err, session.ErrNotFound), "got %v", err)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "alice", "tok-1"))

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", got)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "alice", "tok-1"))
		require.NoError(t, s.Put(ctx, "alice", "tok-2"))

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", got)

		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("DeleteRemoves", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "alice", "tok"))
		require.NoError(t, s.Delete(ctx, "alice"))

		_, err := s.Get(ctx, "alice")
		assert.ErrorIs(t, err, session.ErrNotFound)

		ok, err := s.Exists(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Delete(ctx, "ghost"))
		assert.NoError(t, s.Delete(ctx, "ghost"))
	})

	t.Run("Exists", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.Exists(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, "bob", "t"))
		ok, err = s.Exists(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "alice", "a-tok"))
		require.NoError(t, s.Put(ctx, "bob", "b-tok"))
		require.NoError(t, s.Delete(ctx, "alice"))

		got, err := s.Get(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "b-tok", got)
	})

	t.Run("ListSorted", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"carol", "alice", "bob"} {
			require.NoError(t, s.Put(ctx, id, "tok-"+id))
		}

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "alice", records[0].UserID)
		assert.Equal(t, "tok-alice", records[0].Token)
		assert.Equal(t, "bob", records[1].UserID)
		assert.Equal(t, "carol", records[2].UserID)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := newStore(t)
		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("EmptyUserIDRejected", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Put(ctx, "  ", "tok"), ErrEmptyUserID)
	})

	t.Run("OpaqueTokens", func(t *testing.T) {
		s := newStore(t)
		token := `weird "token" with\nnewlines & <markup> ✓`
		require.NoError(t, s.Put(ctx, "12345", token))

		got, err := s.Get(ctx, "12345")
		require.NoError(t, err)
		assert.Equal(t, token, got)
	})

	t.Run("ConcurrentDistinctUsers", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("user-%d", i)
				assert.NoError(t, s.Put(ctx, id, "tok-"+id))
			}(i)
		}
		wg.Wait()

		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 10)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) session.Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_FailOn(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "alice", "old"))

	boom := errors.New("boom")
	s.FailOn("put", boom)
	assert.ErrorIs(t, s.Put(ctx, "alice", "new"), boom)

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "old", got)

	s.FailOn("put", nil)
	assert.NoError(t, s.Put(ctx, "alice", "new"))
}

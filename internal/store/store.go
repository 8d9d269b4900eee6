// ABOUTME: Shared helpers and compile-time checks for session store backends
// ABOUTME: Every backend here implements session.Store

package store

import (
	"errors"
	"sort"
	"strings"

	"github.com/2389/claude-relay/internal/session"
)

var (
	_ session.Store  = (*SQLiteStore)(nil)
	_ session.Store  = (*FileStore)(nil)
	_ session.Store  = (*RedisStore)(nil)
	_ session.Store  = (*DynamoStore)(nil)
	_ session.Store  = (*MemoryStore)(nil)
	_ session.Locker = (*RedisLocker)(nil)

	_ session.ConditionalPutter = (*DynamoStore)(nil)
)

// ErrEmptyUserID is returned when an operation is given a blank user id.
var ErrEmptyUserID = errors.New("user id must not be empty")

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return nil
}

func sortRecords(records []session.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
}

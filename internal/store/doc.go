// Package store provides the session.Store backends.
//
// # Backends
//
//   - SQLiteStore: default. One row per user in a sessions table, written
//     with a single upsert. Runs on modernc.org/sqlite (pure Go, driver
//     "sqlite") or github.com/mattn/go-sqlite3 (cgo, driver "sqlite3").
//   - FileStore: one JSON object mapping user id to token. Every write
//     replaces the whole file via temp file, fsync and rename.
//   - RedisStore: one key per user under a prefix. Pair with RedisLocker
//     when several relay processes share the server.
//   - DynamoStore: one item per user, read with ConsistentRead.
//   - MemoryStore: process-local, with FailOn for exercising error paths.
//
// All backends satisfy the same contract: Put replaces, Delete of an absent
// record succeeds, Get of an absent record returns session.ErrNotFound, and
// a failed write leaves the previous value readable.
//
// Open picks a backend from config.DatabaseConfig.
package store

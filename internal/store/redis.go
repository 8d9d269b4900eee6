// ABOUTME: Redis implementation of session.Store, one string key per user
// ABOUTME: Keys live under a configurable prefix so several relays can share a server

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/claude-relay/internal/session"
)

// DefaultRedisPrefix namespaces every key the relay writes.
const DefaultRedisPrefix = "claude-relay:"

// RedisStore implements session.Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix for sessions.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL expires idle sessions after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisLogger sets the store's logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger.With("component", "store", "backend", "redis")
	}
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		logger: slog.Default().With("component", "store", "backend", "redis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client, for building a RedisLocker on the
// same connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + "session:" + userID
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the user's token, or session.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return token, nil
}

// Put creates or replaces the user's token. A single SET is atomic.
func (s *RedisStore) Put(ctx context.Context, userID, token string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(userID), token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the user's record.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether the user has a record.
func (s *RedisStore) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// List scans every session key under the prefix. Redis keeps no update
// time, so UpdatedAt is zero.
func (s *RedisStore) List(ctx context.Context) ([]session.Record, error) {
	pattern := s.key("*")
	keyPrefix := s.key("")

	var records []session.Record
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired or deleted mid-scan
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		records = append(records, session.Record{
			UserID: strings.TrimPrefix(key, keyPrefix),
			Token:  token,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sortRecords(records)
	return records, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

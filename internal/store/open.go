// ABOUTME: Backend selection from configuration
// ABOUTME: Builds the configured session.Store and, for shared backends, a Locker

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/2389/claude-relay/internal/config"
	"github.com/2389/claude-relay/internal/session"
)

// Open builds the session store named by cfg.Backend. The returned Locker is
// nil unless the backend is shared between processes and locking is enabled.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (session.Store, session.Locker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", "sqlite":
		s, err := NewSQLiteStore(cfg.Path, cfg.Driver, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case "file":
		s, err := NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case "redis":
		s := NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			WithRedisPrefix(cfg.Redis.Prefix),
			WithRedisLogger(logger),
		)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		var locker session.Locker
		if cfg.Redis.Lock {
			locker = NewRedisLocker(s.Client(), cfg.Redis.Prefix)
		}
		logger.Info("redis store initialized", "addr", cfg.Redis.Addr, "lock", cfg.Redis.Lock)
		return s, locker, nil

	case "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		s, err := NewDynamoStore(client, cfg.DynamoDB.Table)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("dynamodb store initialized", "table", cfg.DynamoDB.Table)
		return s, nil, nil

	case "memory":
		logger.Warn("using in-memory session store; sessions are lost on restart")
		return NewMemoryStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}

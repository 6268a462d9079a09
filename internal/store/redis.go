package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/logging"
)

// RedisBackend stores one session's keys under a prefix with a sliding TTL,
// so values outlive page reloads but not the session.
type RedisBackend struct {
	client         redis.Cmdable
	prefix         string
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisBackend scopes client to prefix.
func NewRedisBackend(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisBackend {
	return &RedisBackend{
		client:         client,
		prefix:         prefix,
		ttl:            ttl,
		logger:         logger.Named("redis_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.withRetry(ctx, "redis.get", func() error {
		v, err := r.client.Get(ctx, r.key(key)).Result()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.withRetry(ctx, "redis.set", func() error {
		return r.client.Set(ctx, r.key(key), value, r.ttl).Err()
	})
}

// SetMany writes entries inside MULTI/EXEC so readers never see half a batch.
func (r *RedisBackend) SetMany(ctx context.Context, entries ...Entry) error {
	return r.withRetry(ctx, "redis.set_many", func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range entries {
				pipe.Set(ctx, r.key(e.Key), e.Value, r.ttl)
			}
			return nil
		})
		return err
	})
}

func (r *RedisBackend) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}

	var values []interface{}
	err := r.withRetry(ctx, "redis.get_many", func() error {
		v, err := r.client.MGet(ctx, full...).Result()
		if err != nil {
			return err
		}
		values = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *RedisBackend) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.withRetry(ctx, "redis.remove", func() error {
		return r.client.Del(ctx, full...).Err()
	})
}

func (r *RedisBackend) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, "")
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil || errors.Is(err, redis.Nil) {
			if err == nil && attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return err
		}
		if isOutOfMemory(err) {
			return fmt.Errorf("%s: %w", operation, ErrQuotaExceeded)
		}
		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isOutOfMemory(err error) bool {
	var redisErr redis.Error
	return errors.As(err, &redisErr) && strings.HasPrefix(redisErr.Error(), "OOM")
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

// RedisProvider namespaces a shared client per session.
type RedisProvider struct {
	Client redis.Cmdable
	TTL    time.Duration
	Logger *zap.Logger
}

func (p RedisProvider) Backend(sessionID string) Backend {
	return NewRedisBackend(p.Client, fmt.Sprintf("session:%s:", sessionID), p.TTL, p.Logger)
}

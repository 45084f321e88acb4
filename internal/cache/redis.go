package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// SharedStore is a resolution tier shared between instances
type SharedStore interface {
	Get(ctx context.Context, p types.Platform, id string) (types.MediaRecord, bool, error)
	Set(ctx context.Context, p types.Platform, id string, rec types.MediaRecord, ttl time.Duration) error
	Delete(ctx context.Context, p types.Platform, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore keeps resolved records in Redis under <prefix>resolve:<platform>:<id>
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	prefix string
}

// RedisOptions configures NewRedisStore
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolTimeout:  3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Shared resolution cache connected",
		zap.String("redis_addr", opts.Address),
		zap.Int("db", opts.DB),
	)

	return NewRedisStoreWithClient(client, opts.Prefix, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger, prefix: prefix}
}

func (s *RedisStore) key(p types.Platform, id string) string {
	return s.prefix + "resolve:" + string(p) + ":" + id
}

// Get loads a record; a missing key is not an error
func (s *RedisStore) Get(ctx context.Context, p types.Platform, id string) (types.MediaRecord, bool, error) {
	data, err := s.client.Get(ctx, s.key(p, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.MediaRecord{}, false, nil
	}
	if err != nil {
		return types.MediaRecord{}, false, err
	}

	var rec types.MediaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("Dropping undecodable cached record",
			zap.String("platform", string(p)),
			zap.String("id", id),
			zap.Error(err),
		)
		s.client.Del(ctx, s.key(p, id))
		return types.MediaRecord{}, false, nil
	}
	return rec, true, nil
}

// Set stores a record with expiry
func (s *RedisStore) Set(ctx context.Context, p types.Platform, id string, rec types.MediaRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.client.Set(ctx, s.key(p, id), data, ttl).Err()
}

// Delete removes a record; a missing key is not an error
func (s *RedisStore) Delete(ctx context.Context, p types.Platform, id string) error {
	return s.client.Del(ctx, s.key(p, id)).Err()
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KolosalAI/kolosal-agent/types"
)

const defaultKeyPrefix = "kolosal:snapshot:"

// RedisConfig describes the Redis connection for snapshot storage.
type RedisConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Password  string `yaml:"password" json:"password,omitempty"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix,omitempty"`
	// TTL expires stale snapshots; 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" json:"ttl,omitempty"`
}

// RedisStore persists snapshots in Redis string keys, suitable for deployments
// where agents must survive process restarts.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SnapshotStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewErrorf(types.ErrDependency, "connect to redis: %v", err).
			WithComponent("persistence").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests against
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Save(ctx context.Context, key string, image []byte) error {
	if err := s.client.Set(ctx, s.key(key), image, s.ttl).Err(); err != nil {
		return types.NewErrorf(types.ErrDependency, "save snapshot: %v", err).
			WithComponent("persistence").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, types.NewError(types.ErrNotFound, "no snapshot for key: "+key).
			WithComponent("persistence")
	}
	if err != nil {
		return nil, types.NewErrorf(types.ErrDependency, "load snapshot: %v", err).
			WithComponent("persistence").WithCause(err)
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return types.NewErrorf(types.ErrDependency, "delete snapshot: %v", err).
			WithComponent("persistence").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, types.NewErrorf(types.ErrDependency, "scan snapshots: %v", err).
			WithComponent("persistence").WithCause(err)
	}
	return keys, nil
}

// Ping reports backend health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

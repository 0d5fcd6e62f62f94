package keys

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps keys in Redis under a prefix. Entries never expire.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) key(account string) string {
	return s.prefix + account
}

func (s *RedisStore) Put(ctx context.Context, account string, value []byte) error {
	return s.client.Set(ctx, s.key(account), value, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, account string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Delete(ctx context.Context, account string) error {
	return s.client.Del(ctx, s.key(account)).Err()
}

func (s *RedisStore) Has(ctx context.Context, account string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(account)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"granule-reprocessing/internal/config"
)

// RedisStore implements Store on Redis for local development and tests.
// Concurrency tokens are per-key version counters; conditional writes are
// Lua scripts so the check and the write are atomic.
type RedisStore struct {
	client *redis.Client
	// namespace stands in for the bucket name.
	namespace string
}

// NewRedisStore builds a Redis-backed store namespaced by bucket.
func NewRedisStore(cfg config.Config, bucket string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisStore{client: client, namespace: bucket}
}

// NewRedisStoreWithClient wraps an existing client, for tests.
func NewRedisStoreWithClient(client *redis.Client, bucket string) *RedisStore {
	return &RedisStore{client: client, namespace: bucket}
}

func (s *RedisStore) dataKey(key string) string {
	return "blob:" + s.namespace + ":data:" + key
}

func (s *RedisStore) verKey(key string) string {
	return "blob:" + s.namespace + ":ver:" + key
}

var putIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return false
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], '1')
return '1'
`)

var putIfMatchScript = redis.NewScript(`
local ver = redis.call('GET', KEYS[2])
if not ver or ver ~= ARGV[2] then
  return false
end
ver = tostring(tonumber(ver) + 1)
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ver)
return ver
`)

func (s *RedisStore) Get(ctx context.Context, key string) (Object, error) {
	pipe := s.client.Pipeline()
	dataCmd := pipe.Get(ctx, s.dataKey(key))
	verCmd := pipe.Get(ctx, s.verKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	body, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Object{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Object{Body: body, Token: verCmd.Val()}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, body []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(key), body, 0)
	pipe.Incr(ctx, s.verKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, body []byte) (string, error) {
	res, err := putIfAbsentScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.verKey(key)}, body).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("put %s if absent: %w", key, ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("put %s if absent: %w", key, err)
	}
	token, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("put %s if absent: unexpected script result %T", key, res)
	}
	return token, nil
}

func (s *RedisStore) PutIfMatch(ctx context.Context, key string, body []byte, token string) (string, error) {
	res, err := putIfMatchScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.verKey(key)}, body, token).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("put %s if match %s: %w", key, token, ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	next, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("put %s: unexpected script result %T", key, res)
	}
	return next, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.dataKey(prefix) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.dataKey("")))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Copy(ctx context.Context, src, dst string) error {
	body, err := s.client.Get(ctx, s.dataKey(src)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("copy %s: %w", src, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return s.Put(ctx, dst, body)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.dataKey(key), s.verKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

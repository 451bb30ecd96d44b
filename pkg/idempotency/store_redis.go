package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each record is a hash. created_at / expires_at hold Unix nanoseconds as
// decimal strings; the replace script compares them as strings, since Lua
// numbers are doubles and cannot hold nanosecond timestamps exactly.
var redisInsertIfAbsentScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
  return 0
end
redis.call("HSET", key,
  "fingerprint", ARGV[1],
  "response", ARGV[2],
  "created_at", ARGV[3],
  "expires_at", ARGV[4])
redis.call("PEXPIREAT", key, ARGV[5])
return 1
`)

var redisReplaceScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
local stored = redis.call("HMGET", key, "created_at", "expires_at")
if stored[1] ~= ARGV[6] or stored[2] ~= ARGV[7] then
  return 0
end
redis.call("HSET", key,
  "fingerprint", ARGV[1],
  "response", ARGV[2],
  "created_at", ARGV[3],
  "expires_at", ARGV[4])
redis.call("PEXPIREAT", key, ARGV[5])
return 1
`)

// DefaultRedisRetention is how long an expired record stays readable in Redis
// before the key itself is evicted.
const DefaultRedisRetention = 24 * time.Hour

// RedisStore implements RecordStore using Redis.
// It is designed to work with github.com/redis/go-redis/v9.
// Insert and replace run as Lua scripts, so the existence or version check and
// the write are one atomic step on the server.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string // Optional key prefix (e.g., "idem:")
	retention time.Duration
}

// NewRedisStore creates a new Redis-backed store.
// The prefix parameter allows namespacing keys to avoid conflicts.
// If prefix is empty, "idem:" is used by default. retention is how long an
// expired record is kept before Redis evicts the key; a negative value
// selects DefaultRedisRetention.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "idem:"
	}
	if retention < 0 {
		retention = DefaultRedisRetention
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// NewRedisStoreFromURL creates a Redis store from a connection URL.
// Example: "redis://localhost:6379/0" or "redis://:password@localhost:6379/1"
func NewRedisStoreFromURL(url string, prefix string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisStore(client, prefix, retention), nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) Find(ctx context.Context, token string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, &StoreError{Op: "find", Token: token, Cause: err}
	}
	if len(fields) == 0 {
		return nil, nil
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, &StoreError{Op: "find", Token: token, Cause: fmt.Errorf("parse created_at: %w", err)}
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, &StoreError{Op: "find", Token: token, Cause: fmt.Errorf("parse expires_at: %w", err)}
	}

	return &Record{
		Token:              token,
		RequestFingerprint: []byte(fields["fingerprint"]),
		ResponsePayload:    []byte(fields["response"]),
		CreatedAt:          time.Unix(0, createdAt).UTC(),
		ExpiresAt:          time.Unix(0, expiresAt).UTC(),
	}, nil
}

func (s *RedisStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	ok, err := s.run(ctx, redisInsertIfAbsentScript, record)
	if err != nil {
		return Record{}, &StoreError{Op: "insert", Token: record.Token, Cause: err}
	}
	if !ok {
		return Record{}, ErrConflict
	}
	return record.Clone(), nil
}

func (s *RedisStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	ok, err := s.run(ctx, redisReplaceScript, record,
		strconv.FormatInt(previous.CreatedAt.UnixNano(), 10),
		strconv.FormatInt(previous.ExpiresAt.UnixNano(), 10),
	)
	if err != nil {
		return Record{}, &StoreError{Op: "replace", Token: record.Token, Cause: err}
	}
	if !ok {
		return Record{}, ErrConflict
	}
	return record.Clone(), nil
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, record Record, extra ...any) (bool, error) {
	evictAt := record.ExpiresAt.Add(s.retention).UnixMilli()
	args := append([]any{
		record.RequestFingerprint,
		record.ResponsePayload,
		strconv.FormatInt(record.CreatedAt.UnixNano(), 10),
		strconv.FormatInt(record.ExpiresAt.UnixNano(), 10),
		strconv.FormatInt(evictAt, 10),
	}, extra...)
	n, err := script.Run(ctx, s.client, []string{s.key(record.Token)}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes the record for token.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(token)).Err()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ RecordStore = (*RedisStore)(nil)

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hrauth/internal"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCacheMiss is returned when no mirror entry exists for a token.
var ErrCacheMiss = errors.New("session cache miss")

const deleteEntryScript = `
local existed = redis.call("EXISTS", KEYS[1])
if KEYS[2] ~= "" then
  redis.call("SREM", KEYS[2], ARGV[1])
end
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteEntryLua = redis.NewScript(deleteEntryScript)

// Cache is the Redis mirror of active session tokens. Keys carry the
// SHA-256 of the token, never the token itself. A per-identity set indexes
// the keys so logout-all can sweep entries the durable store no longer
// reports.
//
// Cache is not authoritative. Callers treat every error as a miss.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCache creates a [Cache] under the given key prefix.
func NewCache(rdb redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "hs"
	}
	return &Cache{redis: rdb, prefix: prefix}
}

func (c *Cache) key(tokenHash string) string {
	return c.prefix + ":" + tokenHash
}

func (c *Cache) userKey(identityID string) string {
	return c.prefix + "u:" + identityID
}

// Save writes e for token with ttl and indexes it under the identity.
//
//	Performance: 3 Redis commands in one MULTI.
func (c *Cache) Save(ctx context.Context, token string, e *Entry, ttl time.Duration) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}

	h := internal.HashToken(token)
	userKey := c.userKey(e.IdentityID)

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(h), data, ttl)
		pipe.SAdd(ctx, userKey, h)
		// The index outlives its newest member by at most one TTL.
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the cached entry for token or ErrCacheMiss.
//
//	Performance: 1 Redis GET.
func (c *Cache) Get(ctx context.Context, token string) (*Entry, error) {
	data, err := c.redis.Get(ctx, c.key(internal.HashToken(token))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeEntry(data)
}

// Delete removes the entry for token and its index membership. Deleting a
// missing entry succeeds. identityID may be empty when unknown.
func (c *Cache) Delete(ctx context.Context, identityID, token string) error {
	h := internal.HashToken(token)
	userKey := ""
	if identityID != "" {
		userKey = c.userKey(identityID)
	}

	if err := deleteEntryLua.Run(ctx, c.redis, []string{c.key(h), userKey}, h).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAll removes the entries for tokens plus every entry still indexed
// under identityID, then drops the index.
//
// ATOMICITY NOTE: the index is read before the MULTI. An entry saved in
// between survives until its TTL; the durable row it mirrors is already
// inactive, so validation falling through the cache still rejects it.
func (c *Cache) DeleteAll(ctx context.Context, identityID string, tokens []string) error {
	userKey := c.userKey(identityID)

	hashes, err := c.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(hashes)+len(tokens))
	for _, h := range hashes {
		keys = append(keys, c.key(h))
	}
	for _, tok := range tokens {
		keys = append(keys, c.key(internal.HashToken(tok)))
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (c *Cache) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

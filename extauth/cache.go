package extauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hrauth/internal"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a cached value is absent.
var ErrCacheMiss = errors.New("external token cache miss")

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// blacklistPrefixLen is the number of hex characters of SHA-256(token) used
// as the blacklist key.
const blacklistPrefixLen = 32

type cachedAccess struct {
	Token     string `json:"t"`
	ExpiresAt int64  `json:"exp"`
}

// TokenCache mirrors external tokens in Redis and holds the refresh-token
// blacklist.
type TokenCache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewTokenCache creates a TokenCache. prefix defaults to "x".
func NewTokenCache(rdb redis.UniversalClient, prefix string) *TokenCache {
	if prefix == "" {
		prefix = "x"
	}
	return &TokenCache{redis: rdb, prefix: prefix}
}

func (c *TokenCache) accessKey(identityID string) string {
	return c.prefix + "at:" + identityID
}

func (c *TokenCache) refreshKey(identityID string) string {
	return c.prefix + "rt:" + identityID
}

func (c *TokenCache) blacklistKey(refreshToken string) string {
	return c.prefix + "bl:" + internal.TokenPrefix(refreshToken, blacklistPrefixLen)
}

// GetAccess returns the cached access token and its expiry.
func (c *TokenCache) GetAccess(ctx context.Context, identityID string) (string, time.Time, error) {
	data, err := c.redis.Get(ctx, c.accessKey(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", time.Time{}, ErrCacheMiss
		}
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var v cachedAccess
	if err := json.Unmarshal(data, &v); err != nil || v.Token == "" {
		return "", time.Time{}, ErrCacheMiss
	}
	return v.Token, time.Unix(v.ExpiresAt, 0), nil
}

// SetPair caches the access token until it expires and the refresh token
// for refreshTTL.
func (c *TokenCache) SetPair(ctx context.Context, identityID string, pair *TokenPair, refreshTTL time.Duration) error {
	accessTTL := time.Until(pair.ExpiresAt)
	data, err := json.Marshal(cachedAccess{Token: pair.AccessToken, ExpiresAt: pair.ExpiresAt.Unix()})
	if err != nil {
		return err
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if accessTTL > 0 {
			pipe.Set(ctx, c.accessKey(identityID), data, accessTTL)
		} else {
			pipe.Del(ctx, c.accessKey(identityID))
		}
		if pair.RefreshToken != "" {
			pipe.Set(ctx, c.refreshKey(identityID), pair.RefreshToken, refreshTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Blacklist records refreshToken as rotated out for ttl.
func (c *TokenCache) Blacklist(ctx context.Context, refreshToken string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.blacklistKey(refreshToken), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether refreshToken was rotated out.
func (c *TokenCache) IsBlacklisted(ctx context.Context, refreshToken string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.blacklistKey(refreshToken)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Clear drops the cached access and refresh tokens of identityID.
func (c *TokenCache) Clear(ctx context.Context, identityID string) error {
	if err := c.redis.Del(ctx, c.accessKey(identityID), c.refreshKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

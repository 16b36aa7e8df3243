// Package session issues and invalidates opaque session tokens.
//
// # Two stores
//
// Every token has a durable row (the [Repository]) and, best effort, a Redis
// mirror ([Cache]) with a bounded TTL. The durable row is the source of
// truth: [Issuer.Validate] falls through to it on any cache miss or error,
// and invalidation flips the row before touching the cache.
//
// Cache failures are logged and swallowed. A stale cache entry can therefore
// outlive an invalidation by at most the cache TTL.
//
// # What this package must NOT do
//
//   - Delete durable rows; invalidation is a status flip.
//   - Put raw tokens in Redis keys.
//   - Import the root hrauth package.
package session

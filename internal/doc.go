// Package internal holds randomness and hashing helpers shared by the
// engine, the session issuer and the invite flow.
//
// # Sub-packages
//
//   - appconfig: service configuration for hrauthd
//   - audit: async event dispatch and sinks
//   - logging: zerolog construction
//   - provider/kratos: secondary identity provider adapter
//   - rate: Redis login throttle
//   - store/postgres: pgx repositories and migrations
//   - transport/httpapi: echo routes
package internal

// Package hrauth is the authentication and session-credential core of a
// multi-tenant HR backend.
//
// [Engine] runs login, signup, provider login, logout and logout-all, plus
// the account flows around them (password change, provider link/unlink,
// email verification, invites). It is built by [Builder] over a [Directory]
// (the durable store), a Redis client and an extauth.Provider.
//
// # Architecture boundaries
//
// The engine owns ordering and compensation. Credential checks live in
// package password, provider resolution in package identity, session
// tokens in package session and the mirrored external session in package
// extauth. Storage and transport live under internal/.
//
// # Failure model
//
// Postgres is the source of truth; durable failures propagate. Redis,
// email, audit delivery, hash migration and last-login updates are best
// effort: they are logged and swallowed. A failed external session is
// fatal to login and signup, and signup undoes its local writes.
//
// Engine methods are safe for concurrent use after [Builder.Build].
package hrauth

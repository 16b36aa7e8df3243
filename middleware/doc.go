// Package middleware provides net/http middleware that authenticates
// requests by session token.
//
// [Guard] reads "Authorization: Bearer <token>", resolves it through
// [hrauth.Engine.Validate] and stores the [hrauth.AuthResult] in the
// request context, where handlers read it with [AuthResultFromContext].
package middleware

// Package postgres is the durable store: identities, tenants, session
// tokens, invites and the audit log on pgx, with goose migrations embedded.
package postgres

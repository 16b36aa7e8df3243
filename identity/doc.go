// Package identity holds the tenant-scoped Identity model and resolves
// external provider identities (Google, Facebook) to local accounts.
//
// # Resolution order
//
// A provider token is first verified by the provider's [TokenVerifier]. The
// verified subject is then looked up by stored provider id, then by stored
// provider email, then by the account's primary email. The provider id path
// is exclusive: when it matches, no email based check runs.
//
// A primary email match on an account whose primary provider differs from
// the presented one fails with a [ConflictError] rather than linking.
//
// # What this package must NOT do
//
//   - Check tenant activation; the Engine does that after resolution.
//   - Overwrite a provider id that is already stored.
package identity

// Package extauth keeps each identity paired with a user at the secondary
// identity provider and manages the access/refresh tokens issued for it.
//
// The provider password is derived from the identity id and a server secret,
// so tokens can be minted again at any time without storing a secret per
// user. Refresh tokens rotate; a rotated-out token is blacklisted in Redis
// and rejected if presented again.
package extauth

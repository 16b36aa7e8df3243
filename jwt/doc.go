// Package jwt mints and parses purpose-scoped link tokens used in
// verification and invite mails.
package jwt

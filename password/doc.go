// Package password implements bcrypt hashing and the compatibility verifier
// that accepts both the current bcrypt scheme and the legacy AES-GCM
// encrypted credential.
//
// # Migration
//
// A successful legacy check writes a bcrypt hash through [CredentialWriter]
// before returning. The legacy blob and key are kept for audit and rollback.
// Hashes below the configured cost are re-hashed the same way.
//
// # What this package must NOT do
//
//   - Distinguish failure causes to callers; every failure is [ErrInvalidCredential].
//   - Log plaintext passwords or decrypted legacy values.
//   - Import any other package of this module.
package password

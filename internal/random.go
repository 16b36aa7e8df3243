package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	sessionTokenSize   = 32
	randomPasswordSize = 24
	inviteSuffixSize   = 8
	usernameAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewSessionToken returns a base64url encoded 256-bit random token.
func NewSessionToken() (string, error) {
	var raw [sessionTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewRandomPassword returns a password suitable for provider accounts the
// user never types in.
func NewRandomPassword() (string, error) {
	var raw [randomPasswordSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewInviteUsername returns the synthetic username held by an invite
// placeholder until the invite is accepted.
func NewInviteUsername() (string, error) {
	var b strings.Builder
	b.Grow(len("invite-") + inviteSuffixSize)
	b.WriteString("invite-")

	max := big.NewInt(int64(len(usernameAlphabet)))
	for i := 0; i < inviteSuffixSize; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(usernameAlphabet[n.Int64()])
	}

	name := b.String()
	if len(name) != len("invite-")+inviteSuffixSize {
		return "", errors.New("invalid invite username length")
	}
	return name, nil
}

// HashToken returns the hex SHA-256 of a bearer value. Used for cache keys so
// raw tokens never appear in the keyspace.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenPrefix returns the first n hex characters of HashToken(value).
func TokenPrefix(value string, n int) string {
	h := HashToken(value)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}

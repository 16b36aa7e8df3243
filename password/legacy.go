package password

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const legacyKeySize = 32

// ErrLegacyCorrupt is returned when a legacy blob or key cannot be decoded
// or fails authentication.
var ErrLegacyCorrupt = errors.New("legacy credential corrupt")

// EncryptLegacy produces the legacy column pair for plaintext: a base64
// nonce||ciphertext blob and its base64 AES-256 key. New credentials are
// never written this way; it exists for fixtures and import tooling.
func EncryptLegacy(plaintext string) (blob, key string, err error) {
	k := make([]byte, legacyKeySize)
	if _, err := rand.Read(k); err != nil {
		return "", "", err
	}

	gcm, err := newLegacyGCM(k)
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(k), nil
}

// DecryptLegacy reverses EncryptLegacy.
func DecryptLegacy(blob, key string) (string, error) {
	k, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: key: %v", ErrLegacyCorrupt, err)
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: blob: %v", ErrLegacyCorrupt, err)
	}

	gcm, err := newLegacyGCM(k)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrLegacyCorrupt)
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLegacyCorrupt, err)
	}
	return string(plain), nil
}

func newLegacyGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLegacyCorrupt, err)
	}
	return cipher.NewGCM(block)
}

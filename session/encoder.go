package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/hrauth/identity"
)

// maxSnapshotSize bounds decoding of attacker-influenced payloads.
const maxSnapshotSize = 8 * 1024

// ErrSnapshotCorrupt is returned when a stored payload cannot be decoded.
var ErrSnapshotCorrupt = errors.New("session snapshot corrupt")

// SnapshotOf projects ident into the stored snapshot.
func SnapshotOf(ident *identity.Identity) Snapshot {
	return Snapshot{
		IdentityID:      ident.ID,
		TenantID:        ident.TenantID,
		Email:           ident.Email,
		Username:        ident.Username,
		RoleID:          ident.RoleID,
		PrimaryProvider: string(ident.PrimaryProvider),
		EmailVerified:   ident.EmailVerified,
	}
}

// EncodeSnapshot returns the base64 form stored in the durable row.
func EncodeSnapshot(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(encoded string) (Snapshot, error) {
	var s Snapshot
	if len(encoded) == 0 || base64.StdEncoding.DecodedLen(len(encoded)) > maxSnapshotSize {
		return s, ErrSnapshotCorrupt
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if s.IdentityID == "" {
		return s, ErrSnapshotCorrupt
	}
	return s, nil
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) > maxSnapshotSize {
		return nil, ErrSnapshotCorrupt
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if e.IdentityID == "" {
		return nil, ErrSnapshotCorrupt
	}
	return &e, nil
}

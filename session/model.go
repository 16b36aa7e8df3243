package session

import "time"

// Status is the durable state of a session token. Rows are never deleted;
// invalidation flips Status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// DeviceMeta is the client context recorded with a session.
type DeviceMeta struct {
	UserAgent string
	IP        string
}

// Token is the durable session row.
type Token struct {
	Token      string
	IdentityID string
	TenantID   string
	// Snapshot is the base64 payload produced by EncodeSnapshot.
	Snapshot string
	Device   string
	IP       string
	Status   Status

	ExternalAccessToken  string
	ExternalRefreshToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the row still authenticates.
func (t *Token) Active() bool {
	return t.Status == StatusActive
}

// Snapshot is the identity view frozen at issue time.
type Snapshot struct {
	IdentityID      string `json:"identity_id"`
	TenantID        string `json:"tenant_id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	RoleID          string `json:"role_id,omitempty"`
	PrimaryProvider string `json:"primary_provider"`
	EmailVerified   bool   `json:"email_verified"`
}

// Entry is the cached, denormalized view used for fast validation.
type Entry struct {
	Snapshot
	IssuedAt int64 `json:"iat"`
	// ExpiresAt is the cache expiry, not a session expiry.
	ExpiresAt int64 `json:"exp"`
}

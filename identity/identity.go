package identity

import (
	"strings"
	"time"
)

// Provider tags the authentication method an identity declares as primary.
type Provider string

const (
	ProviderLocal    Provider = "LOCAL"
	ProviderGoogle   Provider = "GOOGLE"
	ProviderFacebook Provider = "FACEBOOK"
)

// ParseProvider accepts the canonical tag in any case.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderFacebook:
		return p, true
	}
	return "", false
}

// External reports whether p is a third-party provider.
func (p Provider) External() bool {
	return p == ProviderGoogle || p == ProviderFacebook
}

// DisplayName is the user-facing provider name used in steering messages.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderFacebook:
		return "Facebook"
	case ProviderLocal:
		return "password"
	}
	return string(p)
}

// ProviderLink is the stored linkage to one external provider.
type ProviderLink struct {
	ID    string
	Email string
}

// Linked reports whether a provider user id is stored.
func (l ProviderLink) Linked() bool {
	return l.ID != ""
}

// Tenant is the owning company of a set of identities.
type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is a tenant-scoped principal together with its credential
// material. LegacyPassword/LegacyKey and PasswordHash are independently
// optional.
type Identity struct {
	ID       string
	TenantID string
	Email    string
	Username string
	RoleID   string

	LegacyPassword string
	LegacyKey      string
	PasswordHash   string

	Google          ProviderLink
	Facebook        ProviderLink
	PrimaryProvider Provider

	EmailVerified bool
	Active        bool
	Deleted       bool

	ExternalUserID string

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasModernCredential reports whether a bcrypt hash is stored.
func (i *Identity) HasModernCredential() bool {
	return i.PasswordHash != ""
}

// HasLegacyCredential reports whether both legacy blob and key are stored.
func (i *Identity) HasLegacyCredential() bool {
	return i.LegacyPassword != "" && i.LegacyKey != ""
}

// HasPassword reports whether any password scheme is usable.
func (i *Identity) HasPassword() bool {
	return i.HasModernCredential() || i.HasLegacyCredential()
}

// Link returns the stored linkage for p. LOCAL has no linkage.
func (i *Identity) Link(p Provider) ProviderLink {
	switch p {
	case ProviderGoogle:
		return i.Google
	case ProviderFacebook:
		return i.Facebook
	}
	return ProviderLink{}
}

// SetLink replaces the stored linkage for p.
func (i *Identity) SetLink(p Provider, link ProviderLink) {
	switch p {
	case ProviderGoogle:
		i.Google = link
	case ProviderFacebook:
		i.Facebook = link
	}
}

// LinkedProviders lists the external providers with a stored id.
func (i *Identity) LinkedProviders() []Provider {
	out := make([]Provider, 0, 2)
	if i.Google.Linked() {
		out = append(out, ProviderGoogle)
	}
	if i.Facebook.Linked() {
		out = append(out, ProviderFacebook)
	}
	return out
}

// AuthMethodCount counts usable authentication methods.
func (i *Identity) AuthMethodCount() int {
	n := len(i.LinkedProviders())
	if i.HasPassword() {
		n++
	}
	return n
}

// Summary is the identity view returned to clients.
type Summary struct {
	ID              string   `json:"id"`
	TenantID        string   `json:"tenant_id"`
	Email           string   `json:"email"`
	Username        string   `json:"username"`
	RoleID          string   `json:"role_id,omitempty"`
	PrimaryProvider Provider `json:"primary_provider"`
	EmailVerified   bool     `json:"email_verified"`
}

// Summary returns the client-facing projection of i.
func (i *Identity) Summary() Summary {
	return Summary{
		ID:              i.ID,
		TenantID:        i.TenantID,
		Email:           i.Email,
		Username:        i.Username,
		RoleID:          i.RoleID,
		PrimaryProvider: i.PrimaryProvider,
		EmailVerified:   i.EmailVerified,
	}
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// InviteStatus is the lifecycle state of an invite.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteCancelled InviteStatus = "cancelled"
)

// Invite is a pending activation owning a placeholder identity. IdentityID
// is empty once a cancelled invite's placeholder is deleted.
type Invite struct {
	ID         string
	TenantID   string
	IdentityID string
	Email      string
	RoleID     string
	InvitedBy  string
	Status     InviteStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Usable reports whether the invite can still be accepted at now.
func (i *Invite) Usable(now time.Time) bool {
	return i.Status == InvitePending && now.Before(i.ExpiresAt)
}

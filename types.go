package hrauth

import (
	"context"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	internalaudit "github.com/MrEthical07/hrauth/internal/audit"
	"github.com/MrEthical07/hrauth/session"
)

// Re-exported model types.
type (
	Identity   = identity.Identity
	Tenant     = identity.Tenant
	Summary    = identity.Summary
	Provider   = identity.Provider
	Invite     = identity.Invite
	DeviceMeta = session.DeviceMeta
)

// AuthBundle is returned by every flow that authenticates a caller.
type AuthBundle struct {
	Token                string           `json:"token"`
	Identity             identity.Summary `json:"identity"`
	ExternalAccessToken  string           `json:"external_access_token,omitempty"`
	ExternalRefreshToken string           `json:"external_refresh_token,omitempty"`
	ExternalExpiresAt    time.Time        `json:"external_expires_at,omitzero"`
}

// AuthResult is returned by [Engine.Validate].
type AuthResult struct {
	IdentityID      string            `json:"identity_id"`
	TenantID        string            `json:"tenant_id"`
	Email           string            `json:"email"`
	Username        string            `json:"username"`
	RoleID          string            `json:"role_id,omitempty"`
	PrimaryProvider identity.Provider `json:"primary_provider"`
	EmailVerified   bool              `json:"email_verified"`
	IssuedAt        time.Time         `json:"issued_at"`
}

// SessionInfo describes one active session token without exposing it.
type SessionInfo struct {
	TokenPrefix string    `json:"token_prefix"`
	Device      string    `json:"device,omitempty"`
	IP          string    `json:"ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	Redis         bool          `json:"redis"`
	RedisLatency  time.Duration `json:"redis_latency"`
	Postgres      bool          `json:"postgres"`
	AuditDropped  uint64        `json:"audit_dropped"`
	RedisError    string        `json:"redis_error,omitempty"`
	PostgresError string        `json:"postgres_error,omitempty"`
}

// Healthy reports whether both stores answered.
func (h HealthStatus) Healthy() bool {
	return h.Redis && h.Postgres
}

// SignupRequest creates a company, its first administrator and a session.
type SignupRequest struct {
	CompanyName string `json:"company_name" validate:"required,min=2,max=120"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Username    string `json:"username" validate:"required,min=3,max=64,excludesall=@"`
	Password    string `json:"password" validate:"required"`
	RoleID      string `json:"role_id" validate:"omitempty,max=64"`
}

// InviteRequest invites an employee into an existing tenant.
type InviteRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	Email     string `json:"email" validate:"required,email,max=254"`
	RoleID    string `json:"role_id" validate:"omitempty,max=64"`
	InvitedBy string `json:"invited_by" validate:"omitempty"`
}

// AcceptInviteRequest activates an invited identity.
type AcceptInviteRequest struct {
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=64,excludesall=@"`
	Password string `json:"password" validate:"required"`
}

// Directory is the durable identity store the engine runs on. The Postgres
// store in internal/store/postgres implements it along with
// session.Repository.
type Directory interface {
	identity.Store
	extauth.IdentityStore

	GetIdentity(ctx context.Context, id string) (*identity.Identity, error)
	// FindByLogin matches a username first, then an email. A non-empty
	// tenantID restricts the match to that tenant.
	FindByLogin(ctx context.Context, login, tenantID string) (*identity.Identity, error)
	GetTenant(ctx context.Context, id string) (*identity.Tenant, error)
	// CreateAccount writes tenant, identity and the audit row atomically.
	CreateAccount(ctx context.Context, t *identity.Tenant, ident *identity.Identity, ev AuditEvent) error
	// DeleteTenant removes a tenant and, by cascade, its identities and sessions.
	DeleteTenant(ctx context.Context, id string) error

	UpdatePasswordHash(ctx context.Context, identityID, hash string) error
	// ReplacePassword stores hash and clears the legacy credential.
	ReplacePassword(ctx context.Context, identityID, hash string) error
	// ClearPassword removes every password credential and sets primary. It
	// returns ErrLastAuthMethod when no linked provider remains.
	ClearPassword(ctx context.Context, identityID string, primary identity.Provider) error
	// UnlinkProvider removes p and sets primary. It returns ErrLastAuthMethod
	// when nothing else remains.
	UnlinkProvider(ctx context.Context, identityID string, p, primary identity.Provider) error
	SetEmailVerified(ctx context.Context, identityID string) error
	TouchLastLogin(ctx context.Context, identityID string, at time.Time) error

	CreateInvite(ctx context.Context, inv *identity.Invite, placeholder *identity.Identity) error
	GetInvite(ctx context.Context, id string) (*identity.Invite, error)
	AcceptInvite(ctx context.Context, inviteID string, ident *identity.Identity) error
	// CancelInvite only matches invites of tenantID.
	CancelInvite(ctx context.Context, tenantID, inviteID string) error

	Ping(ctx context.Context) error
}

// ExternalSessions mirrors local sessions into the secondary provider.
// *extauth.Manager implements it.
type ExternalSessions interface {
	Ensure(ctx context.Context, ident *identity.Identity, firstPassword string) (*extauth.Session, error)
	CreateExternalUser(ctx context.Context, ident *identity.Identity, password string) (*extauth.Session, error)
	DeleteExternalUser(ctx context.Context, externalUserID string) error
	Refresh(ctx context.Context, identityID string) (string, error)
	RefreshWithToken(ctx context.Context, identityID, presented string) (*extauth.Session, error)
	InvalidateAll(ctx context.Context, identityID string) error
}

var _ ExternalSessions = (*extauth.Manager)(nil)

// Audit types live in internal/audit and are re-exported here.
type (
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
)

// ExternalTokens is a rotated external token pair.
type ExternalTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

package httpapi

import (
	"context"

	"github.com/MrEthical07/hrauth"
	"github.com/MrEthical07/hrauth/identity"
)

// Service is the engine surface the HTTP API exposes. *hrauth.Engine
// implements it.
type Service interface {
	Login(ctx context.Context, login, pw string, meta hrauth.DeviceMeta) (*hrauth.AuthBundle, error)
	Signup(ctx context.Context, req hrauth.SignupRequest, meta hrauth.DeviceMeta) (*hrauth.AuthBundle, error)
	LoginWithProvider(ctx context.Context, p identity.Provider, providerToken string, meta hrauth.DeviceMeta) (*hrauth.AuthBundle, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, identityID string) error

	Validate(ctx context.Context, token string) (*hrauth.AuthResult, error)
	ListSessions(ctx context.Context, identityID string) ([]hrauth.SessionInfo, error)
	RefreshExternal(ctx context.Context, identityID, refreshToken string) (*hrauth.ExternalTokens, error)
	ExternalAccessToken(ctx context.Context, identityID string) (string, error)

	ChangePassword(ctx context.Context, identityID, current, next string) error
	SetPassword(ctx context.Context, identityID, next string) error
	DisconnectPassword(ctx context.Context, identityID string) error
	LinkProvider(ctx context.Context, identityID string, p identity.Provider, providerToken string) error
	UnlinkProvider(ctx context.Context, identityID string, p identity.Provider) error

	RequestEmailVerification(ctx context.Context, identityID string) error
	VerifyEmail(ctx context.Context, token string) error

	CreateInvite(ctx context.Context, req hrauth.InviteRequest) (*hrauth.Invite, string, error)
	AcceptInvite(ctx context.Context, req hrauth.AcceptInviteRequest, meta hrauth.DeviceMeta) (*hrauth.AuthBundle, error)
	CancelInvite(ctx context.Context, tenantID, inviteID string) error

	Health(ctx context.Context) hrauth.HealthStatus
}

var _ Service = (*hrauth.Engine)(nil)

package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/hrauth"
	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/middleware"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type handlers struct {
	svc Service
	log zerolog.Logger
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
	TenantID string `json:"tenant_id"`
}

type providerTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	TenantID string `json:"tenant_id"`
}

type linkTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	Next    string `json:"new_password" validate:"required"`
}

type setPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type inviteRequest struct {
	Email  string `json:"email" validate:"required,email"`
	RoleID string `json:"role_id"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

type sessionsResponse struct {
	Sessions []hrauth.SessionInfo `json:"sessions"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// bind decodes and validates the body; failures map to ErrInvalidRequest.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: malformed body", hrauth.ErrInvalidRequest)
	}
	if err := c.Validate(dst); err != nil {
		return fmt.Errorf("%w: %v", hrauth.ErrInvalidRequest, err)
	}
	return nil
}

func deviceMeta(c echo.Context) hrauth.DeviceMeta {
	return hrauth.DeviceMeta{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

func providerParam(c echo.Context) (identity.Provider, error) {
	p, ok := identity.ParseProvider(c.Param("provider"))
	if !ok || !p.External() {
		return "", hrauth.ErrUnsupportedProvider
	}
	return p, nil
}

func caller(c echo.Context) (*hrauth.AuthResult, error) {
	res, ok := middleware.AuthResultFromContext(c.Request().Context())
	if !ok || res == nil {
		return nil, hrauth.ErrSessionNotFound
	}
	return res, nil
}

/*
====================================
PUBLIC
====================================
*/

func (h *handlers) health(c echo.Context) error {
	status := h.svc.Health(c.Request().Context())
	if !status.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *handlers) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := hrauth.WithClientIP(c.Request().Context(), c.RealIP())
	if req.TenantID != "" {
		ctx = hrauth.WithTenant(ctx, req.TenantID)
	}
	bundle, err := h.svc.Login(ctx, req.Login, req.Password, deviceMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *handlers) signup(c echo.Context) error {
	var req hrauth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: malformed body", hrauth.ErrInvalidRequest)
	}
	bundle, err := h.svc.Signup(c.Request().Context(), req, deviceMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, bundle)
}

func (h *handlers) providerLogin(c echo.Context) error {
	p, err := providerParam(c)
	if err != nil {
		return err
	}
	var req providerTokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.TenantID != "" {
		ctx = hrauth.WithTenant(ctx, req.TenantID)
	}
	bundle, err := h.svc.LoginWithProvider(ctx, p, req.Token, deviceMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *handlers) verifyEmail(c echo.Context) error {
	var req linkTokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) acceptInvite(c echo.Context) error {
	var req hrauth.AcceptInviteRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: malformed body", hrauth.ErrInvalidRequest)
	}
	bundle, err := h.svc.AcceptInvite(c.Request().Context(), req, deviceMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bundle)
}

/*
====================================
SESSION
====================================
*/

func (h *handlers) logout(c echo.Context) error {
	token, ok := middleware.BearerToken(c.Request())
	if !ok {
		return hrauth.ErrSessionNotFound
	}
	if err := h.svc.Logout(c.Request().Context(), token); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) logoutAll(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.LogoutAll(c.Request().Context(), me.IdentityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) me(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, me)
}

func (h *handlers) listSessions(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	sessions, err := h.svc.ListSessions(c.Request().Context(), me.IdentityID)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []hrauth.SessionInfo{}
	}
	return c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h *handlers) externalToken(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	tok, err := h.svc.ExternalAccessToken(c.Request().Context(), me.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accessTokenResponse{AccessToken: tok})
}

func (h *handlers) refreshExternal(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tokens, err := h.svc.RefreshExternal(c.Request().Context(), me.IdentityID, req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokens)
}

/*
====================================
CREDENTIALS
====================================
*/

func (h *handlers) changePassword(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), me.IdentityID, req.Current, req.Next); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) setPassword(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req setPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetPassword(c.Request().Context(), me.IdentityID, req.Password); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) disconnectPassword(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.DisconnectPassword(c.Request().Context(), me.IdentityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) linkProvider(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	p, err := providerParam(c)
	if err != nil {
		return err
	}
	var req providerTokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.LinkProvider(c.Request().Context(), me.IdentityID, p, req.Token); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) unlinkProvider(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	p, err := providerParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.UnlinkProvider(c.Request().Context(), me.IdentityID, p); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) requestEmailVerification(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.RequestEmailVerification(c.Request().Context(), me.IdentityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

/*
====================================
INVITES
====================================
*/

// createInvite invites into the caller's own tenant.
func (h *handlers) createInvite(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req inviteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, token, err := h.svc.CreateInvite(c.Request().Context(), hrauth.InviteRequest{
		TenantID:  me.TenantID,
		Email:     req.Email,
		RoleID:    req.RoleID,
		InvitedBy: me.IdentityID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inviteResponse{
		ID:        inv.ID,
		Email:     inv.Email,
		ExpiresAt: inv.ExpiresAt,
		Token:     token,
	})
}

func (h *handlers) cancelInvite(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelInvite(c.Request().Context(), me.TenantID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

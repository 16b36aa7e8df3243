package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/hrauth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Provider string `json:"provider,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
	// expose returns err.Error() to the client instead of a fixed message.
	expose bool
}

// Order matters: a link conflict wraps both ErrProviderConflict and
// ErrProviderAlreadyLinked.
var errorMappings = []errorMapping{
	{hrauth.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", true},
	{hrauth.ErrPasswordReuse, http.StatusBadRequest, "password_reuse", true},
	{hrauth.ErrUnsupportedProvider, http.StatusBadRequest, "unsupported_provider", true},
	{hrauth.ErrInviteInvalid, http.StatusBadRequest, "invite_invalid", true},
	{hrauth.ErrLinkTokenInvalid, http.StatusBadRequest, "link_token_invalid", true},
	{hrauth.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credentials", true},
	{hrauth.ErrInvalidProviderToken, http.StatusUnauthorized, "invalid_provider_token", false},
	{hrauth.ErrSessionNotFound, http.StatusUnauthorized, "session_not_found", false},
	{hrauth.ErrRefreshReplayed, http.StatusUnauthorized, "refresh_replayed", false},
	{hrauth.ErrTenantDeactivated, http.StatusForbidden, "tenant_deactivated", true},
	{hrauth.ErrIdentityNotFound, http.StatusNotFound, "identity_not_found", true},
	{hrauth.ErrNoCredentialMethod, http.StatusConflict, "no_credential_method", true},
	{hrauth.ErrProviderConflict, http.StatusConflict, "provider_conflict", true},
	{hrauth.ErrProviderAlreadyLinked, http.StatusConflict, "provider_already_linked", true},
	{hrauth.ErrDuplicateUsername, http.StatusConflict, "duplicate_username", true},
	{hrauth.ErrDuplicateEmail, http.StatusConflict, "duplicate_email", true},
	{hrauth.ErrLastAuthMethod, http.StatusConflict, "last_auth_method", true},
	{hrauth.ErrLoginRateLimited, http.StatusTooManyRequests, "rate_limited", true},
	{hrauth.ErrExternalAuthUnavailable, http.StatusServiceUnavailable, "external_auth_unavailable", false},
	{hrauth.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable", false},
	{hrauth.ErrEngineNotReady, http.StatusServiceUnavailable, "not_ready", false},
}

func errorBody(err error) (int, ErrorResponse) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := ErrorResponse{Error: http.StatusText(m.status), Code: m.code}
		if m.expose {
			resp.Error = err.Error()
		}

		var steer *hrauth.NoCredentialMethodError
		var conflict *hrauth.ProviderConflictError
		switch {
		case errors.As(err, &steer):
			resp.Provider = string(steer.Provider)
		case errors.As(err, &conflict):
			resp.Provider = string(conflict.Existing)
		}
		return m.status, resp
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
}

// errorHandler replaces echo's default so engine errors keep their status.
func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok {
				msg = s
			}
			_ = c.JSON(he.Code, ErrorResponse{Error: msg, Code: "http_error"})
			return
		}

		status, body := errorBody(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", status).
				Msg("request failed")
		}
		_ = c.JSON(status, body)
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/hrauth"
)

// SessionValidator resolves a session token. [*hrauth.Engine] implements it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*hrauth.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the identity attached by [Guard].
func AuthResultFromContext(ctx context.Context) (*hrauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*hrauth.AuthResult)
	return res, ok
}

// WithAuthResult attaches res to ctx the way [Guard] does.
func WithAuthResult(ctx context.Context, res *hrauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard rejects requests without a valid session token in the
// Authorization header. Store outages answer 503 so clients retry instead
// of discarding the token.
func Guard(v SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := hrauth.WithUserAgent(r.Context(), r.UserAgent())
			res, err := v.Validate(ctx, token)
			switch {
			case errors.Is(err, hrauth.ErrStoreUnavailable):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			case err != nil:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(ctx, res)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// Package httpapi exposes the authentication engine over JSON HTTP with
// echo.
package httpapi

import (
	"net/http"

	"github.com/MrEthical07/hrauth/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Service Service
	Logger  zerolog.Logger
	// Metrics, when set, is mounted at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i any) error {
	return r.v.Struct(i)
}

// NewRouter builds the echo instance with every route registered.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
	e.HTTPErrorHandler = errorHandler(cfg.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(cfg.Logger))

	h := &handlers{svc: cfg.Service, log: cfg.Logger}

	e.GET("/healthz", h.health)
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(cfg.Metrics))
	}

	v1 := e.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/signup", h.signup)
	auth.POST("/providers/:provider/login", h.providerLogin)
	auth.POST("/verify-email", h.verifyEmail)
	auth.POST("/invites/accept", h.acceptInvite)

	guard := echo.WrapMiddleware(middleware.Guard(cfg.Service))
	auth.POST("/logout", h.logout, guard)
	auth.POST("/logout-all", h.logoutAll, guard)

	me := v1.Group("/me", guard)
	me.GET("", h.me)
	me.GET("/sessions", h.listSessions)
	me.POST("/password", h.setPassword)
	me.PUT("/password", h.changePassword)
	me.DELETE("/password", h.disconnectPassword)
	me.POST("/providers/:provider", h.linkProvider)
	me.DELETE("/providers/:provider", h.unlinkProvider)
	me.POST("/email/verification", h.requestEmailVerification)
	me.GET("/external/token", h.externalToken)
	me.POST("/external/refresh", h.refreshExternal)

	invites := v1.Group("/invites", guard)
	invites.POST("", h.createInvite)
	invites.DELETE("/:id", h.cancelInvite)

	return e
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

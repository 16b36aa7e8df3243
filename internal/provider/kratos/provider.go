package kratos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/golang-jwt/jwt/v5"
	kratosclient "github.com/ory/kratos-client-go"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Config locates the Kratos admin API and the OAuth2 token endpoint.
type Config struct {
	AdminURL     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	SchemaID     string
	Timeout      time.Duration
}

// Provider implements extauth.Provider on Kratos plus an OAuth2 token
// endpoint that accepts the password and refresh grants.
type Provider struct {
	admin    *kratosclient.APIClient
	oauth    oauth2.Config
	http     *http.Client
	schemaID string
	log      zerolog.Logger
}

var _ extauth.Provider = (*Provider)(nil)

// New builds a Provider. SchemaID defaults to "default", Timeout to 10s.
func New(cfg Config, logger zerolog.Logger) (*Provider, error) {
	if cfg.AdminURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("kratos: admin and token URLs required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("kratos: client id required")
	}
	if cfg.SchemaID == "" {
		cfg.SchemaID = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	adminConfig := kratosclient.NewConfiguration()
	adminConfig.Servers = []kratosclient.ServerConfiguration{{URL: strings.TrimRight(cfg.AdminURL, "/")}}
	adminConfig.HTTPClient = httpClient

	return &Provider{
		admin: kratosclient.NewAPIClient(adminConfig),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:     httpClient,
		schemaID: cfg.SchemaID,
		log:      logger,
	}, nil
}

func toUser(ident *kratosclient.Identity) *extauth.User {
	u := &extauth.User{ID: ident.Id}
	if traits, ok := ident.Traits.(map[string]interface{}); ok {
		u.Email, _ = traits["email"].(string)
	}
	return u
}

// GetUser fetches an identity by id.
func (p *Provider) GetUser(ctx context.Context, id string) (*extauth.User, error) {
	ident, resp, err := p.admin.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		return nil, p.mapError("get identity", resp, err)
	}
	return toUser(ident), nil
}

// FindUserByEmail looks an identity up by its password identifier.
func (p *Provider) FindUserByEmail(ctx context.Context, email string) (*extauth.User, error) {
	idents, resp, err := p.admin.IdentityAPI.ListIdentities(ctx).CredentialsIdentifier(email).Execute()
	if err != nil {
		return nil, p.mapError("list identities", resp, err)
	}
	if len(idents) == 0 {
		return nil, extauth.ErrUserNotFound
	}
	return toUser(&idents[0]), nil
}

func passwordCredentials(password string) *kratosclient.IdentityWithCredentials {
	return &kratosclient.IdentityWithCredentials{
		Password: &kratosclient.IdentityWithCredentialsPassword{
			Config: &kratosclient.IdentityWithCredentialsPasswordConfig{Password: &password},
		},
	}
}

// CreateUser creates an active identity with a password credential and
// claims as public metadata.
func (p *Provider) CreateUser(ctx context.Context, email, password string, claims map[string]any) (*extauth.User, error) {
	state := "active"
	body := kratosclient.CreateIdentityBody{
		SchemaId:       p.schemaID,
		State:          &state,
		Traits:         map[string]interface{}{"email": email},
		Credentials:    passwordCredentials(password),
		MetadataPublic: claims,
	}
	ident, resp, err := p.admin.IdentityAPI.CreateIdentity(ctx).CreateIdentityBody(body).Execute()
	if err != nil {
		return nil, p.mapError("create identity", resp, err)
	}
	return toUser(ident), nil
}

// SetPassword replaces the password credential and public metadata. Traits
// are read back first because the update replaces the whole identity.
func (p *Provider) SetPassword(ctx context.Context, id, password string, claims map[string]any) error {
	current, resp, err := p.admin.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		return p.mapError("get identity", resp, err)
	}

	traits, _ := current.Traits.(map[string]interface{})
	body := kratosclient.UpdateIdentityBody{
		SchemaId:       current.SchemaId,
		State:          "active",
		Traits:         traits,
		Credentials:    passwordCredentials(password),
		MetadataPublic: claims,
	}
	_, resp, err = p.admin.IdentityAPI.UpdateIdentity(ctx, id).UpdateIdentityBody(body).Execute()
	if err != nil {
		return p.mapError("update identity", resp, err)
	}
	return nil
}

// DeleteUser deletes an identity.
func (p *Provider) DeleteUser(ctx context.Context, id string) error {
	resp, err := p.admin.IdentityAPI.DeleteIdentity(ctx, id).Execute()
	if err != nil {
		return p.mapError("delete identity", resp, err)
	}
	return nil
}

func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

// IssueTokens runs the password grant.
func (p *Provider) IssueTokens(ctx context.Context, login, password string) (*extauth.TokenPair, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.oauthContext(ctx), login, password)
	if err != nil {
		return nil, p.mapTokenError("password grant", err, false)
	}
	return toPair(tok), nil
}

// RefreshTokens runs the refresh grant.
func (p *Provider) RefreshTokens(ctx context.Context, refreshToken string) (*extauth.TokenPair, error) {
	src := p.oauth.TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, p.mapTokenError("refresh grant", err, true)
	}
	return toPair(tok), nil
}

// toPair uses the token endpoint's expiry, falling back to the exp claim
// when the access token is a JWT.
func toPair(tok *oauth2.Token) *extauth.TokenPair {
	pair := &extauth.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if pair.ExpiresAt.IsZero() {
		var claims jwt.RegisteredClaims
		if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
			pair.ExpiresAt = claims.ExpiresAt.Time
		}
	}
	return pair
}

func (p *Provider) mapError(op string, resp *http.Response, err error) error {
	if resp == nil {
		return extauth.Transient(fmt.Errorf("kratos %s: %w", op, err))
	}
	switch status := resp.StatusCode; {
	case status == http.StatusNotFound:
		return extauth.ErrUserNotFound
	case status == http.StatusConflict:
		return extauth.ErrUserExists
	case status == http.StatusTooManyRequests || status >= 500:
		return extauth.Transient(fmt.Errorf("kratos %s: status %d: %w", op, status, err))
	default:
		p.log.Warn().Str("op", op).Int("status", status).Err(err).Msg("kratos request rejected")
		return fmt.Errorf("kratos %s: status %d: %w", op, status, err)
	}
}

func (p *Provider) mapTokenError(op string, err error, refresh bool) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status == http.StatusTooManyRequests || status >= 500 {
			return extauth.Transient(fmt.Errorf("%s: %w", op, err))
		}
		if refresh && (status == http.StatusBadRequest || status == http.StatusUnauthorized) {
			return fmt.Errorf("%w: %v", extauth.ErrRefreshRejected, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return extauth.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

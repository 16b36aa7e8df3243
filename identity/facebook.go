package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultGraphURL is the Graph API root used when FacebookConfig.GraphURL is empty.
const DefaultGraphURL = "https://graph.facebook.com/v19.0"

// FacebookConfig configures the Graph API based verifier.
type FacebookConfig struct {
	AppID     string
	AppSecret string
	GraphURL  string
	Timeout   time.Duration
}

// FacebookVerifier verifies user access tokens through debug_token and
// reads the profile with the user's own token.
type FacebookVerifier struct {
	cfg    FacebookConfig
	client *http.Client
}

// NewFacebookVerifier validates cfg and builds a bounded HTTP client.
func NewFacebookVerifier(cfg FacebookConfig) (*FacebookVerifier, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.New("facebook app id and secret required")
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FacebookVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (f *FacebookVerifier) Provider() Provider { return ProviderFacebook }

// RequireVerifiedEmail is false: Graph only returns confirmed emails.
func (f *FacebookVerifier) RequireVerifiedEmail() bool { return false }

type fbDebugResponse struct {
	Data struct {
		AppID   string `json:"app_id"`
		IsValid bool   `json:"is_valid"`
		UserID  string `json:"user_id"`
	} `json:"data"`
}

type fbProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify checks that token was issued to this app and is still valid.
func (f *FacebookVerifier) Verify(ctx context.Context, token string) (Assertion, error) {
	q := url.Values{}
	q.Set("input_token", token)
	q.Set("access_token", f.cfg.AppID+"|"+f.cfg.AppSecret)

	var debug fbDebugResponse
	if err := f.getJSON(ctx, f.client, f.cfg.GraphURL+"/debug_token?"+q.Encode(), &debug); err != nil {
		return Assertion{}, err
	}
	if !debug.Data.IsValid || debug.Data.AppID != f.cfg.AppID {
		return Assertion{}, ErrInvalidProviderToken
	}

	// The profile call authenticates as the user.
	userCtx := context.WithValue(ctx, oauth2.HTTPClient, f.client)
	userClient := oauth2.NewClient(userCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	var profile fbProfile
	if err := f.getJSON(ctx, userClient, f.cfg.GraphURL+"/me?fields=id,email", &profile); err != nil {
		return Assertion{}, err
	}
	if profile.ID == "" || profile.ID != debug.Data.UserID {
		return Assertion{}, ErrInvalidProviderToken
	}

	return Assertion{
		Provider:      ProviderFacebook,
		Subject:       profile.ID,
		Email:         profile.Email,
		EmailVerified: profile.Email != "",
	}, nil
}

func (f *FacebookVerifier) getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("facebook graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("facebook graph read: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("facebook graph unavailable: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: graph status %d", ErrInvalidProviderToken, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("facebook graph decode: %w", err)
	}
	return nil
}

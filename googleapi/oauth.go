// Package googleapi wraps Google OAuth2 client config, the Drive API and the
// YouTube Data API. Services are minted per call from a bearer token so every
// linked account uses its own credentials.
package googleapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/okaneo/drivetube/backend/config"
)

// UserinfoEndpoint is var so tests can point it at a local server.
var UserinfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// OAuthConfig builds the oauth2 client config for the Google consent flow.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       cfg.Scopes,
	}
}

// AuthCodeURL returns the consent URL. Offline access plus forced approval
// guarantees Google returns a refresh token even on repeat links.
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Userinfo is the OIDC profile of the account that completed consent.
type Userinfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchUserinfo retrieves the profile using the freshly exchanged token.
func FetchUserinfo(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (*Userinfo, error) {
	client := cfg.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	var ui Userinfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if ui.Email == "" {
		return nil, fmt.Errorf("userinfo missing email")
	}
	return &ui, nil
}

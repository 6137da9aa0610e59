// Package providers contains OAuth2 social providers that exchange a
// provider access token for a verified external identity.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/authmux/authmux"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Google verifies Google OAuth2 access tokens and returns the associated
// profile. Callers hand us an access token they obtained client-side; the
// optional oauth2 config also lets the server exchange authorization codes.
type Google struct {
	Config *oauth2.Config

	// UserInfoURL overrides the userinfo endpoint, for tests.
	UserInfoURL string

	// HTTPClient overrides the client used for userinfo calls, for tests.
	HTTPClient *http.Client
}

// NewGoogle reads client credentials from GOOGLE_AUTH_CLIENT_ID and
// GOOGLE_AUTH_CLIENT_SECRET when not passed explicitly.
func NewGoogle(clientID, clientSecret, callbackURL string) *Google {
	if clientID == "" {
		clientID = os.Getenv("GOOGLE_AUTH_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GOOGLE_AUTH_CLIENT_SECRET")
	}
	return &Google{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

func (g *Google) Name() string { return "google" }

// ExchangeCode turns an authorization code into an access token, for hosts
// running the server-side flow.
func (g *Google) ExchangeCode(ctx context.Context, code string) (string, error) {
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("google code exchange failed: %w", err)
	}
	return tok.AccessToken, nil
}

// FetchProfile validates the access token against the userinfo endpoint.
func (g *Google) FetchProfile(ctx context.Context, accessToken string) (*authmux.SocialProfile, error) {
	userInfoURL := g.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	body, err := fetchJSON(ctx, g.HTTPClient, userInfoURL, accessToken)
	if err != nil {
		return nil, err
	}

	var info struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("invalid google userinfo response: %w", err)
	}
	if info.Sub == "" {
		return nil, authmux.ErrAuthForbidden
	}

	raw := map[string]any{}
	json.Unmarshal(body, &raw)
	return &authmux.SocialProfile{
		UID:       info.Sub,
		Email:     info.Email,
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		Raw:       raw,
	}, nil
}

// fetchJSON performs an authenticated GET using the oauth2 transport. A 401
// or 403 from the provider means the token was rejected, which must surface
// as a masked auth failure rather than a server error.
func fetchJSON(ctx context.Context, base *http.Client, url, accessToken string) ([]byte, error) {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, authmux.ErrAuthForbidden
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

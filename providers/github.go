package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/authmux/authmux"
)

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// GitHub verifies GitHub OAuth2 access tokens and returns the associated
// profile. GitHub keeps email visibility separate from the profile, so a
// second call to the emails endpoint picks the primary verified address
// when the profile hides it.
type GitHub struct {
	Config *oauth2.Config

	// UserURL and EmailsURL override the API endpoints, for tests.
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// NewGitHub reads client credentials from GITHUB_AUTH_CLIENT_ID and
// GITHUB_AUTH_CLIENT_SECRET when not passed explicitly.
func NewGitHub(clientID, clientSecret, callbackURL string) *GitHub {
	if clientID == "" {
		clientID = os.Getenv("GITHUB_AUTH_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GITHUB_AUTH_CLIENT_SECRET")
	}
	return &GitHub{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (g *GitHub) Name() string { return "github" }

// ExchangeCode turns an authorization code into an access token.
func (g *GitHub) ExchangeCode(ctx context.Context, code string) (string, error) {
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github code exchange failed: %w", err)
	}
	return tok.AccessToken, nil
}

// FetchProfile validates the access token against the user endpoint.
func (g *GitHub) FetchProfile(ctx context.Context, accessToken string) (*authmux.SocialProfile, error) {
	userURL := g.UserURL
	if userURL == "" {
		userURL = githubUserURL
	}
	body, err := fetchJSON(ctx, g.HTTPClient, userURL, accessToken)
	if err != nil {
		return nil, err
	}

	var info struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("invalid github user response: %w", err)
	}
	if info.ID == 0 {
		return nil, authmux.ErrAuthForbidden
	}

	email := info.Email
	if email == "" {
		email = g.primaryEmail(ctx, accessToken)
	}

	first, last := splitName(info.Name)
	raw := map[string]any{}
	json.Unmarshal(body, &raw)
	return &authmux.SocialProfile{
		UID:       strconv.FormatInt(info.ID, 10),
		Email:     email,
		FirstName: first,
		LastName:  last,
		Raw:       raw,
	}, nil
}

// primaryEmail is best-effort; a login with no reachable email still works,
// it just cannot be matched to an existing account by address.
func (g *GitHub) primaryEmail(ctx context.Context, accessToken string) string {
	emailsURL := g.EmailsURL
	if emailsURL == "" {
		emailsURL = githubEmailsURL
	}
	body, err := fetchJSON(ctx, g.HTTPClient, emailsURL, accessToken)
	if err != nil {
		return ""
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

package authmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Provider-side outcomes that must be masked as a generic authentication
// failure rather than leaked to the caller.
var (
	// ErrAuthCanceled means the user canceled the provider-side flow.
	ErrAuthCanceled = errors.New("authentication canceled by provider")

	// ErrAuthForbidden means the provider refused the requested scopes or
	// rejected the token.
	ErrAuthForbidden = errors.New("authentication forbidden by provider")
)

// SocialProfile is the verified external identity a provider returns for an
// access token.
type SocialProfile struct {
	UID       string
	Email     string
	FirstName string
	LastName  string

	// Raw is the provider's response as returned, for hosts that need more.
	Raw map[string]any
}

// SocialProvider exchanges a provider access token (or authorization code)
// for a verified external identity. Implementations perform outbound
// network calls; this is the one place the flow may fail for reasons
// outside our control.
type SocialProvider interface {
	Name() string
	FetchProfile(ctx context.Context, accessToken string) (*SocialProfile, error)
}

// SocialHandshake orchestrates social login: verify the external identity,
// then log in the linked user or create/link one.
type SocialHandshake struct {
	Users    UserStore
	Accounts SocialAccountStore

	// SignupAllowed permits creating a new account on first handshake.
	SignupAllowed bool

	providers map[string]SocialProvider
}

// Register adds a provider to the enumerated choice set.
func (s *SocialHandshake) Register(p SocialProvider) *SocialHandshake {
	if s.providers == nil {
		s.providers = make(map[string]SocialProvider)
	}
	s.providers[p.Name()] = p
	return s
}

// ProviderNames returns the registered provider names, sorted.
func (s *SocialHandshake) ProviderNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handshake exchanges a provider access token for a logged-in user.
//
// With a non-nil currentUser (the connect variant) the external identity is
// attached to that user instead of creating a new one. firstName/lastName
// are backfilled only into empty fields, never overwriting existing values,
// and the user is persisted only when something actually changed.
func (s *SocialHandshake) Handshake(ctx context.Context, provider, accessToken string, currentUser *User, firstName, lastName string) (*User, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, NewValidationError("provider",
			fmt.Sprintf("unknown provider %q, valid providers: %v", provider, s.ProviderNames()))
	}

	profile, err := p.FetchProfile(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrAuthCanceled) || errors.Is(err, ErrAuthForbidden) {
			// Mask provider detail; a cancel or scope refusal is just a
			// failed authentication to our callers.
			slog.Info("social handshake rejected by provider", "provider", provider, "err", err)
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if profile == nil || profile.UID == "" {
		return nil, ErrAuthenticationFailed
	}

	user, err := s.resolveUser(ctx, p.Name(), profile, currentUser)
	if err != nil {
		return nil, err
	}

	if firstName == "" {
		firstName = profile.FirstName
	}
	if lastName == "" {
		lastName = profile.LastName
	}
	changed := false
	if user.FirstName == "" && firstName != "" {
		user.FirstName = firstName
		changed = true
	}
	if user.LastName == "" && lastName != "" {
		user.LastName = lastName
		changed = true
	}
	if changed {
		user.UpdatedAt = time.Now().UTC()
		if err := s.Users.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// resolveUser maps the external identity to a user: existing link first,
// then the connect hint, then an email match, then signup.
func (s *SocialHandshake) resolveUser(ctx context.Context, provider string, profile *SocialProfile, currentUser *User) (*User, error) {
	account, err := s.Accounts.GetSocialAccount(ctx, provider, profile.UID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if account != nil {
		if currentUser != nil && account.UserID != currentUser.ID {
			// The external identity already belongs to someone else; a
			// connect must not steal it.
			return nil, ErrAuthenticationFailed
		}
		return s.Users.GetUserByID(ctx, account.UserID)
	}

	user := currentUser
	if user == nil && profile.Email != "" {
		existing, err := s.Users.GetUserByIdentity(ctx, FieldEmail, NormalizeEmail(profile.Email))
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		user = existing
	}
	if user == nil {
		if !s.SignupAllowed {
			return nil, ErrAuthenticationFailed
		}
		now := time.Now().UTC()
		user = &User{
			ID:        uuid.NewString(),
			Email:     NormalizeEmail(profile.Email),
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		slog.Info("created account from social handshake", "provider", provider, "user", user.ID)
	}

	link := &SocialAccount{
		Provider:  provider,
		UID:       profile.UID,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Accounts.SaveSocialAccount(ctx, link); err != nil {
		return nil, err
	}
	return user, nil
}

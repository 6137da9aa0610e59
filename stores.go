package authmux

import (
	"context"
	"strings"
	"time"
)

// User is the account record this library authenticates against. The host
// application owns persistence; authmux only mutates LastLogin (on token
// issuance), Email/PhoneNumber (on device confirmation when identity update
// is enabled) and FirstName/LastName (social backfill into empty fields).
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username,omitempty"`
	Email       string     `json:"email,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsStaff     bool       `json:"is_staff,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// PasswordHash is a bcrypt hash. Empty for users without local
	// credentials (e.g. social-only or invited accounts). Never serialized
	// on API responses; stores persist it through their own record types.
	PasswordHash string `json:"-"`
}

// Identity field names understood by user stores.
const (
	FieldUsername    = "username"
	FieldEmail       = "email"
	FieldPhoneNumber = "phone_number"
)

// UserStore manages user accounts.
type UserStore interface {
	// GetUserByID retrieves a user by id. Returns ErrUserNotFound.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByIdentity looks a user up by a single identity field
	// (username, email, phone_number). Returns ErrUserNotFound.
	GetUserByIdentity(ctx context.Context, field, value string) (*User, error)

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, user *User) error

	// SaveUser updates an existing user.
	SaveUser(ctx context.Context, user *User) error
}

// SocialAccount links an external provider identity to at most one user.
// Created on first successful handshake, reused thereafter.
type SocialAccount struct {
	Provider  string    `json:"provider"`
	UID       string    `json:"uid"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SocialAccountStore manages provider/uid links.
type SocialAccountStore interface {
	// GetSocialAccount returns the link for (provider, uid), or
	// ErrUserNotFound when no link exists.
	GetSocialAccount(ctx context.Context, provider, uid string) (*SocialAccount, error)

	// SaveSocialAccount creates or updates a link.
	SaveSocialAccount(ctx context.Context, account *SocialAccount) error

	// GetUserSocialAccounts returns all links for a user.
	GetUserSocialAccounts(ctx context.Context, userID string) ([]*SocialAccount, error)
}

// DeviceStore manages second-factor devices.
type DeviceStore interface {
	// GetDevice retrieves a device by id. Returns ErrDeviceNotFound.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// GetUserDevices returns all devices owned by a user.
	GetUserDevices(ctx context.Context, userID string) ([]*Device, error)

	// SaveDevice creates or updates a device.
	SaveDevice(ctx context.Context, device *Device) error

	// DeleteDevice removes a device. Returns ErrDeviceNotFound.
	DeleteDevice(ctx context.Context, id string) error
}

// BlacklistStore records revoked refresh token ids (jti) until they would
// have expired anyway. Without one, the blacklist endpoint is disabled.
type BlacklistStore interface {
	// BlacklistJTI records a token id until expiresAt.
	BlacklistJTI(ctx context.Context, jti string, expiresAt time.Time) error

	// IsBlacklisted reports whether a token id is on the denylist.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// NormalizeEmail lowercases the domain part of an email address, matching
// how identities are stored.
func NormalizeEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}

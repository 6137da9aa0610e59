package authmux

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordBackend resolves identity fields plus a "password" credential
// against bcrypt hashes held on the user record.
type PasswordBackend struct {
	Users UserStore

	// IdentityFields are tried in order against the submitted fields.
	IdentityFields []string
}

func (b *PasswordBackend) Name() string { return "password" }

// Authenticate returns (nil, nil) whenever these fields are not for us:
// no password submitted, no matching user, or hash mismatch. The resolver
// converts an empty chain result into the generic failure.
func (b *PasswordBackend) Authenticate(ctx context.Context, fields map[string]string) (*User, error) {
	password, ok := fields["password"]
	if !ok {
		return nil, nil
	}

	user, err := lookupByIdentity(ctx, b.Users, b.identityFields(), fields)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}

func (b *PasswordBackend) identityFields() []string {
	if len(b.IdentityFields) > 0 {
		return b.IdentityFields
	}
	return []string{FieldUsername, FieldEmail, FieldPhoneNumber}
}

// HashPassword wraps bcrypt with the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// lookupByIdentity tries each identity field the caller submitted, in the
// configured order, until a store lookup hits. A missing user on one field
// does not stop the scan; a store failure other than not-found does.
func lookupByIdentity(ctx context.Context, users UserStore, identityFields []string, fields map[string]string) (*User, error) {
	for _, field := range identityFields {
		value, ok := fields[field]
		if !ok {
			continue
		}
		user, err := users.GetUserByIdentity(ctx, field, value)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		return user, nil
	}
	return nil, nil
}

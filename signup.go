package authmux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Signup provisions user accounts from flat field maps, driven by the
// configured required/optional field lists.
type Signup struct {
	Users  UserStore
	Config Config
}

// Create provisions an active account from the submitted fields. Every
// configured required field must be present and non-blank; fields outside
// the required and optional lists are rejected rather than silently dropped.
func (s *Signup) Create(ctx context.Context, fields map[string]string) (*User, error) {
	if !s.Config.SignupAllowed {
		return nil, ErrSignupDisabled
	}
	return s.provision(ctx, fields, true)
}

// Invite provisions an inactive account that cannot log in until activated.
// The caller is expected to be authenticated; the handler enforces that.
func (s *Signup) Invite(ctx context.Context, fields map[string]string) (*User, error) {
	return s.provision(ctx, fields, false)
}

func (s *Signup) provision(ctx context.Context, fields map[string]string, active bool) (*User, error) {
	fields = stripBlanks(fields)

	for _, field := range s.Config.SignupRequiredFields {
		if fields[field] == "" {
			return nil, NewValidationError(field, "this field is required")
		}
	}
	allowed := make(map[string]bool)
	for _, field := range s.Config.SignupRequiredFields {
		allowed[field] = true
	}
	for _, field := range s.Config.SignupOptionalFields {
		allowed[field] = true
	}
	for field := range fields {
		if !allowed[field] {
			return nil, NewValidationError(field, "unknown field")
		}
	}

	for _, field := range s.Config.IdentityFields {
		value, ok := fields[field]
		if !ok {
			continue
		}
		existing, err := s.Users.GetUserByIdentity(ctx, field, value)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		if existing != nil {
			return nil, NewValidationError(field, fmt.Sprintf("a user with this %s already exists", field))
		}
	}

	now := time.Now().UTC()
	user := &User{
		ID:          uuid.NewString(),
		Username:    fields[FieldUsername],
		Email:       fields[FieldEmail],
		PhoneNumber: fields[FieldPhoneNumber],
		FirstName:   fields["first_name"],
		LastName:    fields["last_name"],
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if password := fields["password"]; password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.Users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

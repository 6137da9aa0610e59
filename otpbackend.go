package authmux

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OTPBackend exposes both capabilities: GenerateChallenge delivers a code
// to a device matching the submitted identity, Authenticate resolves an
// identity plus an "otp" credential against the user's devices.
type OTPBackend struct {
	Users  UserStore
	Flow   *FactorFlow
	Config Config
}

func (b *OTPBackend) Name() string { return "otp" }

// GenerateChallenge finds (or, with OTPAutoCreateAccount, creates) the user
// for the submitted identity and sends a challenge to the devices whose
// destination matches it. A missing email/sms device for a submitted
// address is created on the fly so the code has somewhere to go; it stays
// unconfirmed until its first successful verification.
func (b *OTPBackend) GenerateChallenge(ctx context.Context, fields map[string]string) (*User, error) {
	user, err := lookupByIdentity(ctx, b.Users, b.Config.IdentityFields, fields)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = b.autoCreateUser(ctx, fields)
		if err != nil || user == nil {
			return nil, err
		}
	}

	devices, err := b.Flow.Devices.GetUserDevices(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	targets := matchDevices(devices, fields)
	if len(targets) == 0 {
		targets, err = b.createMatchingDevices(ctx, user, fields)
		if err != nil {
			return nil, err
		}
	}
	if len(targets) == 0 {
		// Identity resolved but nothing can carry a challenge. Let the
		// next backend in the chain have a go.
		return nil, nil
	}

	for _, dev := range targets {
		if err := b.Flow.SendChallenge(ctx, dev); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Authenticate verifies an "otp" credential against the user's devices.
// Confirmed devices are tried first; an unconfirmed device whose
// destination matches a submitted identity is confirmed on first successful
// use.
func (b *OTPBackend) Authenticate(ctx context.Context, fields map[string]string) (*User, error) {
	code, ok := fields["otp"]
	if !ok {
		return nil, nil
	}

	user, err := lookupByIdentity(ctx, b.Users, b.Config.IdentityFields, fields)
	if err != nil || user == nil {
		return nil, err
	}

	devices, err := b.Flow.Devices.GetUserDevices(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var confirmed, pending []*Device
	for _, dev := range devices {
		if dev.Confirmed {
			confirmed = append(confirmed, dev)
		} else if deviceMatchesFields(dev, fields) {
			pending = append(pending, dev)
		}
	}

	for _, dev := range confirmed {
		if err := b.Flow.VerifyCode(ctx, dev, code); err == nil {
			return user, nil
		} else if !errors.Is(err, ErrWrongOTP) {
			return nil, err
		}
	}
	for _, dev := range pending {
		err := b.Flow.ConfirmDevice(ctx, user, dev, code)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrWrongOTP) {
			return nil, err
		}
	}
	return nil, nil
}

func (b *OTPBackend) autoCreateUser(ctx context.Context, fields map[string]string) (*User, error) {
	if !b.Config.OTPAutoCreateAccount {
		return nil, nil
	}
	email, hasEmail := fields[FieldEmail]
	phone, hasPhone := fields[FieldPhoneNumber]
	if !hasEmail && !hasPhone {
		return nil, nil
	}

	now := time.Now().UTC()
	user := &User{
		ID:          uuid.NewString(),
		Email:       email,
		PhoneNumber: phone,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.Users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("auto-created account for OTP challenge", "user", user.ID)
	return user, nil
}

func (b *OTPBackend) createMatchingDevices(ctx context.Context, user *User, fields map[string]string) ([]*Device, error) {
	var out []*Device
	if email, ok := fields[FieldEmail]; ok && b.Config.KindEnabled(DeviceEmail) {
		dev, err := b.Flow.IssueChallenge(ctx, user, DeviceEmail, email)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	if phone, ok := fields[FieldPhoneNumber]; ok && b.Config.KindEnabled(DeviceSMS) {
		dev, err := b.Flow.IssueChallenge(ctx, user, DeviceSMS, phone)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}

// matchDevices selects devices whose destination corresponds to one of the
// submitted identity values. TOTP devices never match here: they have
// nothing to send.
func matchDevices(devices []*Device, fields map[string]string) []*Device {
	var out []*Device
	for _, dev := range devices {
		if deviceMatchesFields(dev, fields) {
			out = append(out, dev)
		}
	}
	return out
}

func deviceMatchesFields(dev *Device, fields map[string]string) bool {
	switch dev.Kind {
	case DeviceEmail:
		return dev.Email != "" && dev.Email == fields[FieldEmail]
	case DeviceSMS:
		return dev.PhoneNumber != "" && dev.PhoneNumber == fields[FieldPhoneNumber]
	default:
		return false
	}
}

package authmux

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DeviceKind tags a second-factor device. The set is extensible; the three
// built-in kinds cover code-by-email, code-by-SMS and app-based TOTP.
type DeviceKind string

const (
	DeviceEmail DeviceKind = "email"
	DeviceSMS   DeviceKind = "sms"
	DeviceTOTP  DeviceKind = "totp"
)

// Device is a registered second factor owned by exactly one user. Confirmed
// flips true only after a successful code verification; until then the
// device cannot be used to log in.
type Device struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      DeviceKind `json:"type"`
	Name      string     `json:"name"`
	Confirmed bool       `json:"confirmed"`

	// Destination fields. For email/sms devices the submitted name doubles
	// as the destination address; display name and destination are not
	// separate inputs.
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`

	// Secret is the TOTP shared secret (base32). Only set for totp devices.
	Secret string `json:"secret,omitempty"`

	// Pending challenge state for email/sms devices. Regenerating a
	// challenge always overwrites any prior unexpired one, and a code is
	// cleared the moment it verifies: one attempt, bounded window.
	PendingCode      string    `json:"pending_code,omitempty"`
	PendingExpiresAt time.Time `json:"pending_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Destination returns where challenges for this device are delivered.
func (d *Device) Destination() string {
	switch d.Kind {
	case DeviceEmail:
		return d.Email
	case DeviceSMS:
		return d.PhoneNumber
	default:
		return ""
	}
}

// EmailSender delivers OTP codes over email. Hosts plug in their mailer;
// the console implementation is for development.
type EmailSender interface {
	SendOTPEmail(to, code string) error
}

// SMSSender delivers OTP codes over SMS.
type SMSSender interface {
	SendOTPSMS(to, code string) error
}

// ConsoleEmailSender logs codes instead of sending them.
type ConsoleEmailSender struct{}

func (c *ConsoleEmailSender) SendOTPEmail(to, code string) error {
	slog.Info("OTP email", "to", to, "code", code)
	return nil
}

// ConsoleSMSSender logs codes instead of sending them.
type ConsoleSMSSender struct{}

func (c *ConsoleSMSSender) SendOTPSMS(to, code string) error {
	slog.Info("OTP sms", "to", to, "code", code)
	return nil
}

// kindOps is the per-kind operation set: how to populate a new device, how
// to deliver a challenge, how to verify a code, and which user identity
// field a confirmed device may sync into.
type kindOps struct {
	create      func(f *FactorFlow, user *User, name string, dev *Device) error
	send        func(f *FactorFlow, dev *Device) error
	verify      func(f *FactorFlow, dev *Device, code string, now time.Time) bool
	confirmSync func(user *User, dev *Device) bool
}

var deviceKindOps = map[DeviceKind]kindOps{
	DeviceEmail: {
		create: func(f *FactorFlow, user *User, name string, dev *Device) error {
			dev.Email = NormalizeEmail(name)
			return nil
		},
		send: func(f *FactorFlow, dev *Device) error {
			if f.EmailSender == nil {
				return fmt.Errorf("no email sender configured")
			}
			return f.EmailSender.SendOTPEmail(dev.Email, dev.PendingCode)
		},
		verify: verifyPendingCode,
		confirmSync: func(user *User, dev *Device) bool {
			if user.Email == dev.Email {
				return false
			}
			user.Email = dev.Email
			return true
		},
	},
	DeviceSMS: {
		create: func(f *FactorFlow, user *User, name string, dev *Device) error {
			dev.PhoneNumber = name
			return nil
		},
		send: func(f *FactorFlow, dev *Device) error {
			if f.SMSSender == nil {
				return fmt.Errorf("no sms sender configured")
			}
			return f.SMSSender.SendOTPSMS(dev.PhoneNumber, dev.PendingCode)
		},
		verify: verifyPendingCode,
		confirmSync: func(user *User, dev *Device) bool {
			if user.PhoneNumber == dev.PhoneNumber {
				return false
			}
			user.PhoneNumber = dev.PhoneNumber
			return true
		},
	},
	DeviceTOTP: {
		create: func(f *FactorFlow, user *User, name string, dev *Device) error {
			account := user.Email
			if account == "" {
				account = user.ID
			}
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      f.issuer(),
				AccountName: account,
				Period:      30,
				Digits:      otp.DigitsSix,
				Algorithm:   otp.AlgorithmSHA1,
				SecretSize:  20,
			})
			if err != nil {
				return fmt.Errorf("failed to generate totp secret: %w", err)
			}
			dev.Secret = key.Secret()
			return nil
		},
		// App-based TOTP has nothing to deliver; the code comes from the
		// authenticator app.
		send: func(f *FactorFlow, dev *Device) error { return nil },
		verify: func(f *FactorFlow, dev *Device, code string, now time.Time) bool {
			ok, err := totp.ValidateCustom(strings.TrimSpace(code), dev.Secret, now.UTC(), totp.ValidateOpts{
				Period:    30,
				Skew:      1,
				Digits:    otp.DigitsSix,
				Algorithm: otp.AlgorithmSHA1,
			})
			if err != nil {
				slog.Warn("totp validation error", "device", dev.ID, "err", err)
				return false
			}
			return ok
		},
		confirmSync: func(user *User, dev *Device) bool { return false },
	},
}

// verifyPendingCode checks an email/sms challenge: bounded window, constant
// time compare, cleared by the caller on success so it can never replay.
func verifyPendingCode(f *FactorFlow, dev *Device, code string, now time.Time) bool {
	if dev.PendingCode == "" || now.After(dev.PendingExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(dev.PendingCode), []byte(strings.TrimSpace(code))) == 1
}

// ValidDeviceKinds returns the registered kinds, sorted for stable error
// messages.
func ValidDeviceKinds() []DeviceKind {
	kinds := make([]DeviceKind, 0, len(deviceKindOps))
	for k := range deviceKindOps {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// FactorFlow implements the second-factor challenge/verify operations over
// a device store.
type FactorFlow struct {
	Devices DeviceStore
	Users   UserStore
	Config  Config

	EmailSender EmailSender
	SMSSender   SMSSender

	// Issuer is the label embedded in TOTP provisioning secrets.
	Issuer string
}

func (f *FactorFlow) issuer() string {
	if f.Issuer != "" {
		return f.Issuer
	}
	return "authmux"
}

// IssueChallenge creates a new unconfirmed device of the given kind for the
// user. It persists immediately and does not send anything; delivery is a
// separate SendChallenge call.
func (f *FactorFlow) IssueChallenge(ctx context.Context, user *User, kind DeviceKind, name string) (*Device, error) {
	ops, ok := deviceKindOps[kind]
	if !ok || !f.Config.KindEnabled(kind) {
		return nil, NewValidationError("type",
			fmt.Sprintf("unknown device type %q, valid types: %v", kind, f.enabledKinds()))
	}

	now := time.Now().UTC()
	dev := &Device{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      kind,
		Name:      name,
		Confirmed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ops.create(f, user, name, dev); err != nil {
		return nil, err
	}
	if err := f.Devices.SaveDevice(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

func (f *FactorFlow) enabledKinds() []DeviceKind {
	kinds := make([]DeviceKind, 0, len(f.Config.DeviceKinds))
	for _, k := range f.Config.DeviceKinds {
		if _, ok := deviceKindOps[k]; ok {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// SendChallenge generates a fresh code for the device and delivers it.
// Regenerating always overwrites any prior unexpired code, so resends are
// idempotent at the device level.
func (f *FactorFlow) SendChallenge(ctx context.Context, dev *Device) error {
	ops, ok := deviceKindOps[dev.Kind]
	if !ok {
		return NewValidationError("type", fmt.Sprintf("unknown device type %q", dev.Kind))
	}

	if dev.Kind != DeviceTOTP {
		code, err := generateNumericCode(6)
		if err != nil {
			return err
		}
		ttl := f.Config.ChallengeTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		dev.PendingCode = code
		dev.PendingExpiresAt = time.Now().UTC().Add(ttl)
		dev.UpdatedAt = time.Now().UTC()
		if err := f.Devices.SaveDevice(ctx, dev); err != nil {
			return err
		}
	}

	return ops.send(f, dev)
}

// VerifyCode checks a submitted code against the device without touching
// the confirmed flag. On success the pending challenge is consumed.
func (f *FactorFlow) VerifyCode(ctx context.Context, dev *Device, code string) error {
	ops, ok := deviceKindOps[dev.Kind]
	if !ok {
		return NewValidationError("type", fmt.Sprintf("unknown device type %q", dev.Kind))
	}
	if !ops.verify(f, dev, code, time.Now()) {
		return ErrWrongOTP
	}
	if dev.PendingCode != "" {
		dev.PendingCode = ""
		dev.PendingExpiresAt = time.Time{}
		dev.UpdatedAt = time.Now().UTC()
		if err := f.Devices.SaveDevice(ctx, dev); err != nil {
			return err
		}
	}
	return nil
}

// ConfirmDevice verifies a code and flips the device's confirmed flag.
// When OTPIdentityUpdate is enabled, the device's destination address is
// propagated into the matching user identity field — email devices update
// user.Email, SMS devices update user.PhoneNumber, never both. The user
// write is persisted only when something changed.
func (f *FactorFlow) ConfirmDevice(ctx context.Context, user *User, dev *Device, code string) error {
	if err := f.VerifyCode(ctx, dev, code); err != nil {
		return err
	}

	if !dev.Confirmed {
		dev.Confirmed = true
		dev.UpdatedAt = time.Now().UTC()
		if err := f.Devices.SaveDevice(ctx, dev); err != nil {
			return err
		}
	}

	if f.Config.OTPIdentityUpdate {
		ops := deviceKindOps[dev.Kind]
		if ops.confirmSync(user, dev) {
			user.UpdatedAt = time.Now().UTC()
			if err := f.Users.SaveUser(ctx, user); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProvisioningURL renders the otpauth:// URL an authenticator app scans to
// enroll a TOTP device. Empty for non-TOTP devices.
func (f *FactorFlow) ProvisioningURL(user *User, dev *Device) string {
	if dev.Kind != DeviceTOTP || dev.Secret == "" {
		return ""
	}
	account := user.Email
	if account == "" {
		account = user.ID
	}
	q := url.Values{}
	q.Set("secret", dev.Secret)
	q.Set("issuer", f.issuer())
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + f.issuer() + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// generateNumericCode returns a random code of the given number of digits.
func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

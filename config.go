package authmux

import "time"

// Config is the explicit configuration surface for the auth flows. It is
// passed into the Service constructor rather than read from process-global
// state, so hosts can rebuild a Service when configuration changes.
type Config struct {
	// IdentityFields are the attributes a caller may submit to look a user
	// up. Each is optional on any given request; blank values are stripped
	// before resolution.
	IdentityFields []string

	// RequiredAuthFields must be present on the direct login endpoint.
	RequiredAuthFields []string

	// OptionalAuthFields may be present on login/OTP requests. Credential
	// fields like "password" and "otp" normally live here.
	OptionalAuthFields []string

	// DeviceKinds are the enabled second-factor kinds.
	DeviceKinds []DeviceKind

	// OTPIdentityUpdate, when set, propagates a confirmed device's
	// destination address into the matching user identity field.
	OTPIdentityUpdate bool

	// SendOTPUnauthorizedUser allows unauthenticated callers to request an
	// OTP challenge via POST /otp/.
	SendOTPUnauthorizedUser bool

	// OTPAutoCreateAccount lets the OTP challenge flow create an account
	// for an unknown email/phone identity instead of failing.
	OTPAutoCreateAccount bool

	// SignupAllowed enables POST /users/.
	SignupAllowed bool

	// SignupRequiredFields / SignupOptionalFields drive user provisioning.
	SignupRequiredFields []string
	SignupOptionalFields []string

	// ChallengeTTL bounds the validity window of email/SMS codes.
	// Defaults to 5 minutes.
	ChallengeTTL time.Duration
}

// DefaultConfig mirrors the library's stock behavior: username/email/phone
// identities, password or OTP credentials, all device kinds enabled and all
// toggles on.
func DefaultConfig() Config {
	return Config{
		IdentityFields:          []string{FieldUsername, FieldEmail, FieldPhoneNumber},
		RequiredAuthFields:      nil,
		OptionalAuthFields:      []string{"otp", "password"},
		DeviceKinds:             []DeviceKind{DeviceEmail, DeviceTOTP, DeviceSMS},
		OTPIdentityUpdate:       true,
		SendOTPUnauthorizedUser: true,
		OTPAutoCreateAccount:    true,
		SignupAllowed:           true,
		SignupRequiredFields:    []string{FieldEmail},
		SignupOptionalFields:    []string{"first_name", "last_name", "password", FieldPhoneNumber, FieldUsername},
	}
}

// EnsureDefaults fills zero values with usable defaults.
func (c *Config) EnsureDefaults() *Config {
	if len(c.IdentityFields) == 0 {
		c.IdentityFields = []string{FieldUsername, FieldEmail, FieldPhoneNumber}
	}
	if len(c.OptionalAuthFields) == 0 {
		c.OptionalAuthFields = []string{"otp", "password"}
	}
	if len(c.DeviceKinds) == 0 {
		c.DeviceKinds = []DeviceKind{DeviceEmail, DeviceTOTP, DeviceSMS}
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	return c
}

// KindEnabled reports whether a device kind is configured.
func (c *Config) KindEnabled(kind DeviceKind) bool {
	for _, k := range c.DeviceKinds {
		if k == kind {
			return true
		}
	}
	return false
}

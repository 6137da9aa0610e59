package authmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the resolution, factor and token flows.
var (
	// ErrAuthenticationFailed covers bad credentials, unresolvable
	// identities, inactive users and masked provider failures. The message
	// is deliberately generic so callers cannot tell which field was wrong.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrBackendNotFound means no configured backend exposes the requested
	// capability at all. This is a configuration gap, not a bad credential,
	// and must stay distinguishable from ErrAuthenticationFailed.
	ErrBackendNotFound = errors.New("authorization backend not found")

	// ErrWrongOTP is returned when a submitted code does not match the
	// device's pending challenge or TOTP window, or the challenge expired.
	ErrWrongOTP = errors.New("wrong or expired OTP code")

	// ErrNotImplemented signals a feature that is disabled by configuration,
	// e.g. the blacklist endpoint without a blacklist store installed.
	ErrNotImplemented = errors.New("not implemented")

	// ErrSignupDisabled is returned by the signup flow when self-service
	// account creation is turned off.
	ErrSignupDisabled = errors.New("signup is not allowed")

	// ErrDeviceNotFound is returned when a device id does not exist or is
	// owned by a different user. Ownership checks happen before any code
	// comparison.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUserNotFound is returned by user stores for unknown ids/identities.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenBlacklisted is returned when a refresh token's jti is on the
	// denylist.
	ErrTokenBlacklisted = errors.New("token is blacklisted")
)

// ValidationError describes malformed or unknown input tied to a single
// field, e.g. an unknown device kind or provider name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// writeError maps the error taxonomy onto JSON 4xx/5xx bodies of the shape
// {"error": ..., "code": ..., "field": ...}.
func writeError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.As(err, &ve):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ve.Message,
			"code":  "validation_error",
			"field": ve.Field,
		})
	case errors.Is(err, ErrBackendNotFound):
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ErrBackendNotFound.Error(),
			"code":  "not_found",
		})
	case errors.Is(err, ErrWrongOTP):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ErrWrongOTP.Error(),
			"code":  "wrong_otp",
		})
	case errors.Is(err, ErrDeviceNotFound):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ErrDeviceNotFound.Error(),
			"code":  "device_not_found",
		})
	case errors.Is(err, ErrSignupDisabled):
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ErrSignupDisabled.Error(),
			"code":  "signup_disabled",
		})
	case errors.Is(err, ErrNotImplemented):
		w.WriteHeader(http.StatusNotImplemented)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "feature not enabled",
			"code":  "not_implemented",
		})
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrTokenBlacklisted):
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": ErrAuthenticationFailed.Error(),
			"code":  "authentication_failed",
		})
	default:
		// Anything outside the taxonomy is a server error. No broad
		// conversion to auth failures here.
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "internal error",
			"code":  "server_error",
		})
	}
}

package authmux

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// parseFields decodes a flat JSON object of string fields. Anything that is
// not a string map is a validation error, not a server error.
func parseFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return nil, NewValidationError("", "request body must be a JSON object of string fields")
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// requireUser returns the bearer-authenticated user or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) *User {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, ErrAuthenticationFailed)
	}
	return user
}

// handleToken is the direct login endpoint: identity plus credential fields
// in, token pair out.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, field := range s.Config.RequiredAuthFields {
		if fields[field] == "" {
			writeError(w, NewValidationError(field, "this field is required"))
			return
		}
	}

	user, err := s.Resolver.Resolve(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.Issuer.Issue(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Service) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	refresh := fields["refresh_token"]
	if refresh == "" {
		refresh = fields["refresh"]
	}
	if refresh == "" {
		writeError(w, NewValidationError("refresh_token", "this field is required"))
		return
	}

	pair, err := s.Issuer.Refresh(r.Context(), refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Service) handleTokenVerify(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	token := fields["token"]
	if token == "" {
		writeError(w, NewValidationError("token", "this field is required"))
		return
	}
	if _, err := s.Issuer.Verify(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Service) handleTokenBlacklist(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	refresh := fields["refresh_token"]
	if refresh == "" {
		refresh = fields["refresh"]
	}
	if refresh == "" {
		writeError(w, NewValidationError("refresh_token", "this field is required"))
		return
	}
	if err := s.Issuer.BlacklistToken(r.Context(), refresh); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleOTP starts a second-factor challenge for the submitted identity.
// An unresolvable identity fails like any other authentication error;
// hosts that want enumeration resistance enable OTPAutoCreateAccount.
func (s *Service) handleOTP(w http.ResponseWriter, r *http.Request) {
	if !s.Config.SendOTPUnauthorizedUser {
		if requireUser(w, r) == nil {
			return
		}
	}
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.Resolver.Challenge(r.Context(), fields); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "OTP sent"})
}

func (s *Service) handleSocial(w http.ResponseWriter, r *http.Request) {
	s.socialLogin(w, r, nil)
}

// handleSocialConnect attaches the external identity to the bearer-
// authenticated caller instead of creating or matching an account.
func (s *Service) handleSocialConnect(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	s.socialLogin(w, r, user)
}

func (s *Service) socialLogin(w http.ResponseWriter, r *http.Request, currentUser *User) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if fields["access_token"] == "" {
		writeError(w, NewValidationError("access_token", "this field is required"))
		return
	}

	user, err := s.Social.Handshake(r.Context(), fields["provider"], fields["access_token"],
		currentUser, fields["first_name"], fields["last_name"])
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := s.Issuer.Issue(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// deviceView is the device shape exposed over HTTP. Secrets and pending
// challenge state never leave the server except the one-time TOTP
// provisioning payload on creation.
type deviceView struct {
	ID        string     `json:"id"`
	Kind      DeviceKind `json:"type"`
	Name      string     `json:"name"`
	Confirmed bool       `json:"confirmed"`
	CreatedAt time.Time  `json:"created_at"`

	Secret          string `json:"secret,omitempty"`
	ProvisioningURL string `json:"provisioning_url,omitempty"`
}

func viewDevice(dev *Device) deviceView {
	return deviceView{
		ID:        dev.ID,
		Kind:      dev.Kind,
		Name:      dev.Name,
		Confirmed: dev.Confirmed,
		CreatedAt: dev.CreatedAt,
	}
}

func (s *Service) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	devices, err := s.Devices.GetUserDevices(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, viewDevice(dev))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleDeviceCreate registers a new unconfirmed device. Email and SMS
// devices get their first challenge sent immediately; TOTP devices return
// the provisioning secret once, here and nowhere else.
func (s *Service) handleDeviceCreate(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if fields["name"] == "" && DeviceKind(fields["type"]) != DeviceTOTP {
		writeError(w, NewValidationError("name", "this field is required"))
		return
	}

	dev, err := s.Flow.IssueChallenge(r.Context(), user, DeviceKind(fields["type"]), fields["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	if dev.Kind != DeviceTOTP {
		if err := s.Flow.SendChallenge(r.Context(), dev); err != nil {
			writeError(w, err)
			return
		}
	}

	view := viewDevice(dev)
	if dev.Kind == DeviceTOTP {
		view.Secret = dev.Secret
		view.ProvisioningURL = s.Flow.ProvisioningURL(user, dev)
	}
	writeJSON(w, http.StatusCreated, view)
}

// ownedDevice loads a device and enforces ownership. A device belonging to
// someone else reads as not found; the check happens before any code
// comparison.
func (s *Service) ownedDevice(r *http.Request, user *User) (*Device, error) {
	id := mux.Vars(r)["id"]
	dev, err := s.Devices.GetDevice(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if dev.UserID != user.ID {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

func (s *Service) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	dev, err := s.ownedDevice(r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Devices.DeleteDevice(r.Context(), dev.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeviceConfirm(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	dev, err := s.ownedDevice(r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if fields["otp"] == "" {
		writeError(w, NewValidationError("otp", "this field is required"))
		return
	}
	if err := s.Flow.ConfirmDevice(r.Context(), user, dev, fields["otp"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDevice(dev))
}

// handleDeviceSendOTP resends a challenge for a deliverable device. TOTP
// codes come from the authenticator app, so there is nothing to send.
func (s *Service) handleDeviceSendOTP(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	dev, err := s.ownedDevice(r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	if dev.Kind == DeviceTOTP {
		writeError(w, NewValidationError("type", "totp devices generate codes locally and have nothing to send"))
		return
	}
	if err := s.Flow.SendChallenge(r.Context(), dev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "OTP sent"})
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.Signup.Create(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleInvite provisions an inactive account on behalf of an authenticated
// caller. The invitee activates later, typically through the OTP flow.
func (s *Service) handleInvite(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == nil {
		return
	}
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.Signup.Invite(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

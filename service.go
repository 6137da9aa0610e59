package authmux

import (
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Service wires the flows onto an HTTP surface. Fields left nil get working
// defaults from EnsureDefaults, except the stores, which the host must
// provide.
type Service struct {
	Config Config

	Users    UserStore
	Devices  DeviceStore
	Socials  SocialAccountStore
	Issuer   *TokenIssuer
	Resolver *Resolver
	Flow     *FactorFlow
	Social   *SocialHandshake
	Signup   *Signup

	// Session, when set, is threaded through the bearer middleware so the
	// host's scs sessions track bearer logins too. The host must wrap the
	// Handler in Session.LoadAndSave; scs panics when a request reaches it
	// without loaded session data.
	Session *scs.SessionManager
}

// NewService builds a service over the given stores with the default flows:
// a password backend followed by an OTP backend, console code delivery and
// an HS256 token issuer.
func NewService(cfg Config, users UserStore, devices DeviceStore, socials SocialAccountStore, issuer *TokenIssuer) *Service {
	s := &Service{
		Config:  cfg,
		Users:   users,
		Devices: devices,
		Socials: socials,
		Issuer:  issuer,
	}
	return s.EnsureDefaults()
}

// EnsureDefaults fills unset flows with the stock composition.
func (s *Service) EnsureDefaults() *Service {
	s.Config.EnsureDefaults()
	if s.Issuer == nil {
		s.Issuer = &TokenIssuer{}
	}
	s.Issuer.EnsureDefaults()
	if s.Issuer.Users == nil {
		s.Issuer.Users = s.Users
	}
	if s.Flow == nil {
		s.Flow = &FactorFlow{
			Devices:     s.Devices,
			Users:       s.Users,
			Config:      s.Config,
			EmailSender: &ConsoleEmailSender{},
			SMSSender:   &ConsoleSMSSender{},
			Issuer:      s.Issuer.Issuer,
		}
	}
	if s.Resolver == nil {
		s.Resolver = NewResolver(
			&PasswordBackend{Users: s.Users, IdentityFields: s.Config.IdentityFields},
			&OTPBackend{Users: s.Users, Flow: s.Flow, Config: s.Config},
		)
	}
	if s.Social == nil {
		s.Social = &SocialHandshake{
			Users:         s.Users,
			Accounts:      s.Socials,
			SignupAllowed: s.Config.SignupAllowed,
		}
	}
	if s.Signup == nil {
		s.Signup = &Signup{Users: s.Users, Config: s.Config}
	}
	return s
}

// Handler returns the mounted HTTP surface. Trailing slashes are part of
// the route names.
func (s *Service) Handler() http.Handler {
	s.EnsureDefaults()

	r := mux.NewRouter()
	r.HandleFunc("/token/", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/token/refresh/", s.handleTokenRefresh).Methods(http.MethodPost)
	r.HandleFunc("/token/verify/", s.handleTokenVerify).Methods(http.MethodPost)
	r.HandleFunc("/token/blacklist/", s.handleTokenBlacklist).Methods(http.MethodPost)

	r.HandleFunc("/otp/", s.handleOTP).Methods(http.MethodPost)

	r.HandleFunc("/social/", s.handleSocial).Methods(http.MethodPost)
	r.HandleFunc("/social/connect/", s.handleSocialConnect).Methods(http.MethodPost)

	r.HandleFunc("/otp-devices/", s.handleDeviceList).Methods(http.MethodGet)
	r.HandleFunc("/otp-devices/", s.handleDeviceCreate).Methods(http.MethodPost)
	r.HandleFunc("/otp-devices/{id}/", s.handleDeviceDelete).Methods(http.MethodDelete)
	r.HandleFunc("/otp-devices/{id}/confirm/", s.handleDeviceConfirm).Methods(http.MethodPost)
	r.HandleFunc("/otp-devices/{id}/send_otp/", s.handleDeviceSendOTP).Methods(http.MethodPost)

	r.HandleFunc("/users/", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/users/invite/", s.handleInvite).Methods(http.MethodPost)

	auth := &BearerAuth{Issuer: s.Issuer, Users: s.Users, Session: s.Session}
	return auth.Wrap(r)
}

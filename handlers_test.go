package authmux

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testEnv struct {
	svc     *Service
	server  *httptest.Server
	users   *memUserStore
	devices *memDeviceStore
	socials *memSocialStore
	sender  *captureSender
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvCfg(t, DefaultConfig())
}

func newTestEnvCfg(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	users := newMemUserStore()
	devices := newMemDeviceStore()
	socials := newMemSocialStore()
	sender := newCaptureSender()

	svc := NewService(cfg, users, devices, socials, &TokenIssuer{
		SecretKey: "test-secret",
		Issuer:    "testapp",
		Users:     users,
		Blacklist: newMemBlacklistStore(),
	})
	svc.Flow.EmailSender = sender
	svc.Flow.SMSSender = sender

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return &testEnv{svc: svc, server: server, users: users, devices: devices, socials: socials, sender: sender}
}

func (e *testEnv) post(t *testing.T, path, bearer string, body map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	return e.request(t, http.MethodPost, path, bearer, body)
}

func (e *testEnv) request(t *testing.T, method, path, bearer string, body map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) createUser(t *testing.T, user *User, password string) *User {
	t.Helper()
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		user.PasswordHash = hash
	}
	return mustCreateUser(t, e.users, user)
}

func (e *testEnv) login(t *testing.T, fields map[string]string) string {
	t.Helper()
	resp, body := e.post(t, "/token/", "", fields)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d, body %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login: empty token")
	}
	return token
}

func TestTokenEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Username: "alice", IsActive: true}, "hunter2")

	t.Run("password login", func(t *testing.T) {
		resp, body := env.post(t, "/token/", "", map[string]string{"username": "alice", "password": "hunter2"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		token, _ := body["token"].(string)
		refresh, _ := body["refresh_token"].(string)
		if token == "" || refresh == "" {
			t.Errorf("expected token pair, got %v", body)
		}
		if body["token_type"] != "Bearer" {
			t.Errorf("expected Bearer, got %v", body["token_type"])
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, body := env.post(t, "/token/", "", map[string]string{"username": "alice", "password": "wrong"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		if body["code"] != "authentication_failed" {
			t.Errorf("expected authentication_failed, got %v", body["code"])
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/token/", bytes.NewBufferString("[1,2]"))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d", resp.StatusCode)
		}
	})
}

func TestTokenRefreshAndVerifyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Username: "alice", IsActive: true}, "hunter2")

	resp, body := env.post(t, "/token/", "", map[string]string{"username": "alice", "password": "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %v", body)
	}
	refresh, _ := body["refresh_token"].(string)

	resp, renewed := env.post(t, "/token/refresh/", "", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d, body %v", resp.StatusCode, renewed)
	}
	if token, _ := renewed["token"].(string); token == "" {
		t.Error("expected a fresh access token")
	}

	token, _ := renewed["token"].(string)
	if resp, _ := env.post(t, "/token/verify/", "", map[string]string{"token": token}); resp.StatusCode != http.StatusOK {
		t.Errorf("verify: status %d", resp.StatusCode)
	}
	if resp, _ := env.post(t, "/token/verify/", "", map[string]string{"token": "garbage"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("verify garbage: status %d", resp.StatusCode)
	}
	if resp, _ := env.post(t, "/token/verify/", "", map[string]string{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("verify without token: status %d", resp.StatusCode)
	}

	// The consumed refresh token was rotated out.
	if resp, _ := env.post(t, "/token/refresh/", "", map[string]string{"refresh_token": refresh}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused refresh token: status %d", resp.StatusCode)
	}
}

func TestTokenBlacklistEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Username: "alice", IsActive: true}, "hunter2")

	_, body := env.post(t, "/token/", "", map[string]string{"username": "alice", "password": "hunter2"})
	refresh, _ := body["refresh_token"].(string)

	if resp, _ := env.post(t, "/token/blacklist/", "", map[string]string{"refresh_token": refresh}); resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist: status %d", resp.StatusCode)
	}
	if resp, _ := env.post(t, "/token/refresh/", "", map[string]string{"refresh_token": refresh}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("blacklisted refresh: status %d", resp.StatusCode)
	}
}

func TestTokenBlacklistNotInstalled(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Issuer.Blacklist = nil
	env.createUser(t, &User{ID: "u1", Username: "alice", IsActive: true}, "hunter2")

	_, body := env.post(t, "/token/", "", map[string]string{"username": "alice", "password": "hunter2"})
	refresh, _ := body["refresh_token"].(string)

	resp, errBody := env.post(t, "/token/blacklist/", "", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status %d, body %v", resp.StatusCode, errBody)
	}
	if errBody["code"] != "not_implemented" {
		t.Errorf("expected not_implemented, got %v", errBody["code"])
	}
}

func TestOTPLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Email: "alice@example.com", IsActive: true}, "")

	// Request a challenge for the email identity.
	resp, body := env.post(t, "/otp/", "", map[string]string{"email": "alice@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp request: status %d, body %v", resp.StatusCode, body)
	}
	code := env.sender.lastCode("alice@example.com")
	if code == "" {
		t.Fatal("no code delivered")
	}

	// Exchange the code for tokens.
	resp, tokens := env.post(t, "/token/", "", map[string]string{"email": "alice@example.com", "otp": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp login: status %d, body %v", resp.StatusCode, tokens)
	}
	if token, _ := tokens["token"].(string); token == "" {
		t.Error("expected access token")
	}

	// Codes are single use.
	if resp, _ := env.post(t, "/token/", "", map[string]string{"email": "alice@example.com", "otp": code}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("replayed code: status %d", resp.StatusCode)
	}
}

func TestOTPUnknownIdentityFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OTPAutoCreateAccount = false
	env := newTestEnvCfg(t, cfg)
	env.createUser(t, &User{ID: "u1", Email: "known@example.com", IsActive: true}, "")

	known, _ := env.post(t, "/otp/", "", map[string]string{"email": "known@example.com"})
	if known.StatusCode != http.StatusOK {
		t.Errorf("known identity: status %d", known.StatusCode)
	}

	unknown, body := env.post(t, "/otp/", "", map[string]string{"username": "nobody"})
	if unknown.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown identity: status %d, body %v", unknown.StatusCode, body)
	}
	if body["code"] != "authentication_failed" {
		t.Errorf("expected authentication_failed, got %v", body["code"])
	}
	if _, sent := body["message"]; sent {
		t.Errorf("failure must not claim a code was sent: %v", body)
	}
}

func TestOTPRequiresAuthWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendOTPUnauthorizedUser = false
	env := newTestEnvCfg(t, cfg)

	resp, _ := env.post(t, "/otp/", "", map[string]string{"email": "alice@example.com"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestOTPAutoCreateAccount(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/otp/", "", map[string]string{"email": "fresh@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	code := env.sender.lastCode("fresh@example.com")
	if code == "" {
		t.Fatal("no code delivered to the auto-created account")
	}

	resp, tokens := env.post(t, "/token/", "", map[string]string{"email": "fresh@example.com", "otp": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp login: status %d, body %v", resp.StatusCode, tokens)
	}

	user, err := env.users.GetUserByIdentity(context.Background(), FieldEmail, "fresh@example.com")
	if err != nil {
		t.Fatalf("auto-created user missing: %v", err)
	}
	if !user.IsActive {
		t.Error("auto-created user should be active")
	}
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Username: "alice", Email: "alice@example.com", IsActive: true}, "hunter2")
	env.createUser(t, &User{ID: "u2", Username: "bob", IsActive: true}, "hunter2")
	alice := env.login(t, map[string]string{"username": "alice", "password": "hunter2"})
	bob := env.login(t, map[string]string{"username": "bob", "password": "hunter2"})

	resp, dev := env.post(t, "/otp-devices/", alice, map[string]string{"type": "email", "name": "work@example.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d, body %v", resp.StatusCode, dev)
	}
	devID, _ := dev["id"].(string)
	if dev["confirmed"] != false {
		t.Error("new device must be unconfirmed")
	}
	if _, leaked := dev["pending_code"]; leaked {
		t.Error("pending code must not leave the server")
	}

	t.Run("list", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/otp-devices/", nil)
		req.Header.Set("Authorization", "Bearer "+alice)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var list []map[string]any
		json.NewDecoder(resp.Body).Decode(&list)
		if len(list) != 1 || list[0]["id"] != devID {
			t.Errorf("expected the one device, got %v", list)
		}
	})

	t.Run("requires auth", func(t *testing.T) {
		resp, _ := env.post(t, "/otp-devices/", "", map[string]string{"type": "email", "name": "x@example.com"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("confirm with wrong code", func(t *testing.T) {
		resp, body := env.post(t, "/otp-devices/"+devID+"/confirm/", alice, map[string]string{"otp": "999999x"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
	})

	t.Run("someone else's device reads as missing", func(t *testing.T) {
		code := env.sender.lastCode("work@example.com")
		resp, body := env.post(t, "/otp-devices/"+devID+"/confirm/", bob, map[string]string{"otp": code})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
	})

	t.Run("resend and confirm", func(t *testing.T) {
		if resp, _ := env.post(t, "/otp-devices/"+devID+"/send_otp/", alice, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("send_otp: status %d", resp.StatusCode)
		}
		code := env.sender.lastCode("work@example.com")
		resp, body := env.post(t, "/otp-devices/"+devID+"/confirm/", alice, map[string]string{"otp": code})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("confirm: status %d, body %v", resp.StatusCode, body)
		}
		if body["confirmed"] != true {
			t.Errorf("expected confirmed device, got %v", body)
		}

		// Identity update propagated the device address.
		user, _ := env.users.GetUserByID(context.Background(), "u1")
		if user.Email != "work@example.com" {
			t.Errorf("expected synced email, got %q", user.Email)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if resp, _ := env.request(t, http.MethodDelete, "/otp-devices/"+devID+"/", bob, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("foreign delete: status %d", resp.StatusCode)
		}
		if resp, _ := env.request(t, http.MethodDelete, "/otp-devices/"+devID+"/", alice, nil); resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete: status %d", resp.StatusCode)
		}
		if resp, _ := env.request(t, http.MethodDelete, "/otp-devices/"+devID+"/", alice, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("double delete: status %d", resp.StatusCode)
		}
	})
}

func TestTOTPDeviceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, &User{ID: "u1", Username: "alice", IsActive: true}, "hunter2")
	alice := env.login(t, map[string]string{"username": "alice", "password": "hunter2"})

	resp, dev := env.post(t, "/otp-devices/", alice, map[string]string{"type": "totp"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, body %v", resp.StatusCode, dev)
	}
	secret, _ := dev["secret"].(string)
	provURL, _ := dev["provisioning_url"].(string)
	if secret == "" || provURL == "" {
		t.Errorf("totp creation must return provisioning material, got %v", dev)
	}

	// The secret never shows up again.
	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/otp-devices/", nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var list []map[string]any
	json.NewDecoder(listResp.Body).Decode(&list)
	if len(list) != 1 {
		t.Fatalf("expected one device, got %v", list)
	}
	if _, leaked := list[0]["secret"]; leaked {
		t.Error("secret leaked on the list endpoint")
	}

	// There is no code to deliver for an authenticator app.
	id, _ := dev["id"].(string)
	sendResp, sendBody := env.post(t, "/otp-devices/"+id+"/send_otp/", alice, map[string]string{})
	if sendResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("send_otp on totp device: status %d, body %v", sendResp.StatusCode, sendBody)
	}
	if sendBody["field"] != "type" {
		t.Errorf("expected type field error, got %v", sendBody)
	}
	if _, claimed := sendBody["message"]; claimed {
		t.Errorf("must not claim a code was sent: %v", sendBody)
	}
}

func TestSocialEndpoints(t *testing.T) {
	env := newTestEnv(t)
	provider := &fakeProvider{name: "google", profile: &SocialProfile{
		UID: "g-1", Email: "ada@example.com", FirstName: "Ada",
	}}
	env.svc.Social.Register(provider)

	t.Run("login creates account", func(t *testing.T) {
		resp, body := env.post(t, "/social/", "", map[string]string{"provider": "google", "access_token": "tok"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		if token, _ := body["token"].(string); token == "" {
			t.Error("expected access token")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		resp, body := env.post(t, "/social/", "", map[string]string{"provider": "myspace", "access_token": "tok"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
		if body["field"] != "provider" {
			t.Errorf("expected provider field error, got %v", body)
		}
	})

	t.Run("missing access token", func(t *testing.T) {
		resp, _ := env.post(t, "/social/", "", map[string]string{"provider": "google"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("connect requires auth", func(t *testing.T) {
		resp, _ := env.post(t, "/social/connect/", "", map[string]string{"provider": "google", "access_token": "tok"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("connect binds caller", func(t *testing.T) {
		env.createUser(t, &User{ID: "me", Username: "me", IsActive: true}, "hunter2")
		me := env.login(t, map[string]string{"username": "me", "password": "hunter2"})

		other := &fakeProvider{name: "github", profile: &SocialProfile{UID: "gh-9"}}
		env.svc.Social.Register(other)

		resp, body := env.post(t, "/social/connect/", me, map[string]string{"provider": "github", "access_token": "tok"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		link, err := env.socials.GetSocialAccount(context.Background(), "github", "gh-9")
		if err != nil || link.UserID != "me" {
			t.Errorf("expected link to me, got %+v, %v", link, err)
		}
	})
}

func TestSignupEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("signup", func(t *testing.T) {
		resp, body := env.post(t, "/users/", "", map[string]string{
			"email": "new@example.com", "password": "hunter2", "first_name": "Ada",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		if body["is_active"] != true {
			t.Errorf("signup accounts start active, got %v", body)
		}
		if _, leaked := body["password_hash"]; leaked {
			t.Error("password hash leaked in response")
		}

		// And the password works.
		env.login(t, map[string]string{"email": "new@example.com", "password": "hunter2"})
	})

	t.Run("missing required field", func(t *testing.T) {
		resp, body := env.post(t, "/users/", "", map[string]string{"password": "hunter2"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
		if body["field"] != "email" {
			t.Errorf("expected email field error, got %v", body)
		}
	})

	t.Run("duplicate identity", func(t *testing.T) {
		resp, _ := env.post(t, "/users/", "", map[string]string{"email": "new@example.com", "password": "x"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		resp, body := env.post(t, "/users/", "", map[string]string{"email": "a@b.com", "is_staff": "true"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
	})

	t.Run("signup disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SignupAllowed = false
		closed := newTestEnvCfg(t, cfg)

		resp, body := closed.post(t, "/users/", "", map[string]string{"email": "x@example.com"})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status %d, body %v", resp.StatusCode, body)
		}
	})

	t.Run("invite requires auth", func(t *testing.T) {
		resp, _ := env.post(t, "/users/invite/", "", map[string]string{"email": "guest@example.com"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status %d", resp.StatusCode)
		}
	})

	t.Run("invite creates inactive user", func(t *testing.T) {
		env.createUser(t, &User{ID: "host", Username: "host", IsActive: true}, "hunter2")
		host := env.login(t, map[string]string{"username": "host", "password": "hunter2"})

		resp, body := env.post(t, "/users/invite/", host, map[string]string{"email": "guest@example.com"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d, body %v", resp.StatusCode, body)
		}
		if body["is_active"] != false {
			t.Errorf("invited accounts start inactive, got %v", body)
		}

		// Inactive users resolve but get no tokens.
		env.post(t, "/otp/", "", map[string]string{"email": "guest@example.com"})
		code := env.sender.lastCode("guest@example.com")
		if code == "" {
			t.Fatal("no code delivered to invitee")
		}
		loginResp, _ := env.post(t, "/token/", "", map[string]string{"email": "guest@example.com", "otp": code})
		if loginResp.StatusCode != http.StatusUnauthorized {
			t.Errorf("inactive login: status %d", loginResp.StatusCode)
		}
	})
}

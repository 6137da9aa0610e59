package authmux

import (
	"context"
	"sync"
	"time"
)

// In-memory stores backing the package tests.

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*User{}}
}

func (s *memUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copy := *user
	return &copy, nil
}

func (s *memUserStore) GetUserByIdentity(ctx context.Context, field, value string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		var have string
		switch field {
		case FieldUsername:
			have = user.Username
		case FieldEmail:
			have = user.Email
		case FieldPhoneNumber:
			have = user.PhoneNumber
		}
		if have != "" && have == value {
			copy := *user
			return &copy, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) CreateUser(ctx context.Context, user *User) error {
	return s.SaveUser(ctx, user)
}

func (s *memUserStore) SaveUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *user
	s.users[user.ID] = &copy
	return nil
}

type memDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{devices: map[string]*Device{}}
}

func (s *memDeviceStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	copy := *dev
	return &copy, nil
}

func (s *memDeviceStore) GetUserDevices(ctx context.Context, userID string) ([]*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Device
	for _, dev := range s.devices {
		if dev.UserID == userID {
			copy := *dev
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *memDeviceStore) SaveDevice(ctx context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *device
	s.devices[device.ID] = &copy
	return nil
}

func (s *memDeviceStore) DeleteDevice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(s.devices, id)
	return nil
}

type memSocialStore struct {
	mu       sync.Mutex
	accounts map[string]*SocialAccount
}

func newMemSocialStore() *memSocialStore {
	return &memSocialStore{accounts: map[string]*SocialAccount{}}
}

func (s *memSocialStore) GetSocialAccount(ctx context.Context, provider, uid string) (*SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[provider+"/"+uid]
	if !ok {
		return nil, ErrUserNotFound
	}
	copy := *account
	return &copy, nil
}

func (s *memSocialStore) SaveSocialAccount(ctx context.Context, account *SocialAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *account
	s.accounts[account.Provider+"/"+account.UID] = &copy
	return nil
}

func (s *memSocialStore) GetUserSocialAccounts(ctx context.Context, userID string) ([]*SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SocialAccount
	for _, account := range s.accounts {
		if account.UserID == userID {
			copy := *account
			out = append(out, &copy)
		}
	}
	return out, nil
}

type memBlacklistStore struct {
	mu   sync.Mutex
	jtis map[string]time.Time
}

func newMemBlacklistStore() *memBlacklistStore {
	return &memBlacklistStore{jtis: map[string]time.Time{}}
}

func (s *memBlacklistStore) BlacklistJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jtis[jti] = expiresAt
	return nil
}

func (s *memBlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.jtis[jti]
	return ok && time.Now().Before(exp), nil
}

// captureSender records delivered codes instead of sending them.
type captureSender struct {
	mu    sync.Mutex
	sent  []string
	codes map[string]string
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[string]string{}}
}

func (c *captureSender) record(to, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to)
	c.codes[to] = code
}

func (c *captureSender) SendOTPEmail(to, code string) error {
	c.record(to, code)
	return nil
}

func (c *captureSender) SendOTPSMS(to, code string) error {
	c.record(to, code)
	return nil
}

func (c *captureSender) lastCode(to string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[to]
}

func (c *captureSender) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func mustCreateUser(t interface{ Fatalf(string, ...any) }, store UserStore, user *User) *User {
	if user.ID == "" {
		user.ID = "user-" + user.Username + user.Email + user.PhoneNumber
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

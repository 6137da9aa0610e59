package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/authmux/authmux"
)

// userRecord is the on-disk user shape. The password hash is excluded from
// the API serialization of User, so the record carries it explicitly.
type userRecord struct {
	authmux.User
	PasswordHash string `json:"password_hash,omitempty"`
}

// FSUserStore stores users as JSON files, one file per user. Identity
// lookups scan the directory; this store is for development and small
// deployments, use the gorm store beyond that.
type FSUserStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSUserStore creates a new file-based user store
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userDir() string {
	return filepath.Join(s.StoragePath, "users")
}

func (s *FSUserStore) userPath(id string) string {
	return filepath.Join(s.userDir(), safeName(id)+".json")
}

func (s *FSUserStore) GetUserByID(ctx context.Context, id string) (*authmux.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readUser(s.userPath(id))
}

func (s *FSUserStore) readUser(path string) (*authmux.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	user := rec.User
	user.PasswordHash = rec.PasswordHash
	return &user, nil
}

// GetUserByIdentity scans all user files for a matching identity field.
func (s *FSUserStore) GetUserByIdentity(ctx context.Context, field, value string) (*authmux.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.userDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		user, err := s.readUser(filepath.Join(s.userDir(), entry.Name()))
		if err != nil {
			continue
		}
		if identityValue(user, field) == value {
			return user, nil
		}
	}
	return nil, authmux.ErrUserNotFound
}

func identityValue(user *authmux.User, field string) string {
	switch field {
	case authmux.FieldUsername:
		return user.Username
	case authmux.FieldEmail:
		return user.Email
	case authmux.FieldPhoneNumber:
		return user.PhoneNumber
	default:
		return ""
	}
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *authmux.User) error {
	return s.SaveUser(ctx, user)
}

func (s *FSUserStore) SaveUser(ctx context.Context, user *authmux.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := userRecord{User: *user, PasswordHash: user.PasswordHash}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.userPath(user.ID), data)
}

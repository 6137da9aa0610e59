package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/authmux/authmux"
)

// FSSocialStore stores provider/uid links as JSON files keyed by the pair.
type FSSocialStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSSocialStore creates a new file-based social account store
func NewFSSocialStore(storagePath string) *FSSocialStore {
	return &FSSocialStore{StoragePath: storagePath}
}

func (s *FSSocialStore) socialDir() string {
	return filepath.Join(s.StoragePath, "social_accounts")
}

func (s *FSSocialStore) accountPath(provider, uid string) string {
	return filepath.Join(s.socialDir(), safeName(provider)+"_"+safeName(uid)+".json")
}

func (s *FSSocialStore) GetSocialAccount(ctx context.Context, provider, uid string) (*authmux.SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAccount(s.accountPath(provider, uid))
}

func (s *FSSocialStore) readAccount(path string) (*authmux.SocialAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	var account authmux.SocialAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *FSSocialStore) SaveSocialAccount(ctx context.Context, account *authmux.SocialAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.accountPath(account.Provider, account.UID), data)
}

func (s *FSSocialStore) GetUserSocialAccounts(ctx context.Context, userID string) ([]*authmux.SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.socialDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*authmux.SocialAccount
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		account, err := s.readAccount(filepath.Join(s.socialDir(), entry.Name()))
		if err != nil {
			continue
		}
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	return out, nil
}

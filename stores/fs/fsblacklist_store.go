package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type blacklistRecord struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FSBlacklistStore records revoked token ids as JSON files. Expired entries
// are dropped lazily on lookup.
type FSBlacklistStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSBlacklistStore creates a new file-based blacklist store
func NewFSBlacklistStore(storagePath string) *FSBlacklistStore {
	return &FSBlacklistStore{StoragePath: storagePath}
}

func (s *FSBlacklistStore) jtiPath(jti string) string {
	return filepath.Join(s.StoragePath, "blacklist", safeName(jti)+".json")
}

func (s *FSBlacklistStore) BlacklistJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(blacklistRecord{JTI: jti, ExpiresAt: expiresAt}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.jtiPath(jti), data)
}

func (s *FSBlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.jtiPath(jti)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var rec blacklistRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, err
	}
	if time.Now().After(rec.ExpiresAt) {
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/authmux/authmux"
)

// FSDeviceStore stores second-factor devices as JSON files, one per device.
type FSDeviceStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewFSDeviceStore creates a new file-based device store
func NewFSDeviceStore(storagePath string) *FSDeviceStore {
	return &FSDeviceStore{StoragePath: storagePath}
}

func (s *FSDeviceStore) deviceDir() string {
	return filepath.Join(s.StoragePath, "devices")
}

func (s *FSDeviceStore) devicePath(id string) string {
	return filepath.Join(s.deviceDir(), safeName(id)+".json")
}

func (s *FSDeviceStore) GetDevice(ctx context.Context, id string) (*authmux.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readDevice(s.devicePath(id))
}

func (s *FSDeviceStore) readDevice(path string) (*authmux.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, authmux.ErrDeviceNotFound
		}
		return nil, err
	}
	var dev authmux.Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

// GetUserDevices returns a user's devices ordered by creation time.
func (s *FSDeviceStore) GetUserDevices(ctx context.Context, userID string) ([]*authmux.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.deviceDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*authmux.Device
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		dev, err := s.readDevice(filepath.Join(s.deviceDir(), entry.Name()))
		if err != nil {
			continue
		}
		if dev.UserID == userID {
			out = append(out, dev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FSDeviceStore) SaveDevice(ctx context.Context, device *authmux.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(device, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.devicePath(device.ID), data)
}

func (s *FSDeviceStore) DeleteDevice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.devicePath(id))
	if os.IsNotExist(err) {
		return authmux.ErrDeviceNotFound
	}
	return err
}

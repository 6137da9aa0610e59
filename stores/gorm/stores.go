package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/authmux/authmux"
)

// AutoMigrate runs database migrations for all authmux tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&DeviceModel{},
		&SocialAccountModel{},
		&BlacklistModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements authmux.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*authmux.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByIdentity(ctx context.Context, field, value string) (*authmux.User, error) {
	column, ok := identityColumns[field]
	if !ok {
		return nil, authmux.ErrUserNotFound
	}
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, column+" = ?", value).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

// identityColumns whitelists lookup columns so a field name can never reach
// the query as raw SQL.
var identityColumns = map[string]string{
	authmux.FieldUsername:    "username",
	authmux.FieldEmail:       "email",
	authmux.FieldPhoneNumber: "phone_number",
}

func (s *UserStore) CreateUser(ctx context.Context, user *authmux.User) error {
	return s.db.WithContext(ctx).Create(UserToModel(user)).Error
}

func (s *UserStore) SaveUser(ctx context.Context, user *authmux.User) error {
	return s.db.WithContext(ctx).Save(UserToModel(user)).Error
}

// =============================================================================
// DeviceStore
// =============================================================================

// DeviceStore implements authmux.DeviceStore using GORM
type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

func (s *DeviceStore) GetDevice(ctx context.Context, id string) (*authmux.Device, error) {
	var model DeviceModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authmux.ErrDeviceNotFound
		}
		return nil, err
	}
	return model.ToDevice(), nil
}

func (s *DeviceStore) GetUserDevices(ctx context.Context, userID string) ([]*authmux.Device, error) {
	var models []DeviceModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	devices := make([]*authmux.Device, 0, len(models))
	for i := range models {
		devices = append(devices, models[i].ToDevice())
	}
	return devices, nil
}

func (s *DeviceStore) SaveDevice(ctx context.Context, device *authmux.Device) error {
	return s.db.WithContext(ctx).Save(DeviceToModel(device)).Error
}

func (s *DeviceStore) DeleteDevice(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&DeviceModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return authmux.ErrDeviceNotFound
	}
	return nil
}

// =============================================================================
// SocialAccountStore
// =============================================================================

// SocialAccountStore implements authmux.SocialAccountStore using GORM
type SocialAccountStore struct {
	db *gorm.DB
}

func NewSocialAccountStore(db *gorm.DB) *SocialAccountStore {
	return &SocialAccountStore{db: db}
}

func (s *SocialAccountStore) GetSocialAccount(ctx context.Context, provider, uid string) (*authmux.SocialAccount, error) {
	var model SocialAccountModel
	err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND uid = ?", provider, uid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authmux.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *SocialAccountStore) SaveSocialAccount(ctx context.Context, account *authmux.SocialAccount) error {
	model := &SocialAccountModel{
		Provider:  account.Provider,
		UID:       account.UID,
		UserID:    account.UserID,
		CreatedAt: account.CreatedAt,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

func (s *SocialAccountStore) GetUserSocialAccounts(ctx context.Context, userID string) ([]*authmux.SocialAccount, error) {
	var models []SocialAccountModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error
	if err != nil {
		return nil, err
	}
	accounts := make([]*authmux.SocialAccount, 0, len(models))
	for i := range models {
		accounts = append(accounts, models[i].ToAccount())
	}
	return accounts, nil
}

// =============================================================================
// BlacklistStore
// =============================================================================

// BlacklistStore implements authmux.BlacklistStore using GORM. Expired rows
// are dropped lazily on lookup; hosts with long-lived tables can also run
// PurgeExpired on a schedule.
type BlacklistStore struct {
	db *gorm.DB
}

func NewBlacklistStore(db *gorm.DB) *BlacklistStore {
	return &BlacklistStore{db: db}
}

func (s *BlacklistStore) BlacklistJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Save(&BlacklistModel{JTI: jti, ExpiresAt: expiresAt}).Error
}

func (s *BlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var model BlacklistModel
	err := s.db.WithContext(ctx).First(&model, "jti = ?", jti).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if time.Now().After(model.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&BlacklistModel{}, "jti = ?", jti)
		return false, nil
	}
	return true, nil
}

// PurgeExpired removes blacklist rows whose tokens have expired anyway.
func (s *BlacklistStore) PurgeExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Delete(&BlacklistModel{}, "expires_at < ?", time.Now()).Error
}

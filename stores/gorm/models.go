package gorm

import (
	"time"

	"github.com/authmux/authmux"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:150;index"`
	Email        string `gorm:"size:255;index"`
	PhoneNumber  string `gorm:"size:32;index"`
	FirstName    string `gorm:"size:150"`
	LastName     string `gorm:"size:150"`
	IsActive     bool   `gorm:"default:true"`
	IsStaff      bool   `gorm:"default:false"`
	PasswordHash string `gorm:"size:255"`
	LastLogin    *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *authmux.User {
	return &authmux.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PhoneNumber:  m.PhoneNumber,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		IsActive:     m.IsActive,
		IsStaff:      m.IsStaff,
		PasswordHash: m.PasswordHash,
		LastLogin:    m.LastLogin,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func UserToModel(u *authmux.User) *UserModel {
	return &UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PhoneNumber:  u.PhoneNumber,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		IsActive:     u.IsActive,
		IsStaff:      u.IsStaff,
		PasswordHash: u.PasswordHash,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// DeviceModel is the GORM model for second-factor devices
type DeviceModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	UserID           string `gorm:"size:64;index"`
	Kind             string `gorm:"size:16"`
	Name             string `gorm:"size:255"`
	Confirmed        bool   `gorm:"default:false"`
	Email            string `gorm:"size:255"`
	PhoneNumber      string `gorm:"size:32"`
	Secret           string `gorm:"size:128"`
	PendingCode      string `gorm:"size:16"`
	PendingExpiresAt time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (DeviceModel) TableName() string {
	return "otp_devices"
}

func (m *DeviceModel) ToDevice() *authmux.Device {
	return &authmux.Device{
		ID:               m.ID,
		UserID:           m.UserID,
		Kind:             authmux.DeviceKind(m.Kind),
		Name:             m.Name,
		Confirmed:        m.Confirmed,
		Email:            m.Email,
		PhoneNumber:      m.PhoneNumber,
		Secret:           m.Secret,
		PendingCode:      m.PendingCode,
		PendingExpiresAt: m.PendingExpiresAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func DeviceToModel(d *authmux.Device) *DeviceModel {
	return &DeviceModel{
		ID:               d.ID,
		UserID:           d.UserID,
		Kind:             string(d.Kind),
		Name:             d.Name,
		Confirmed:        d.Confirmed,
		Email:            d.Email,
		PhoneNumber:      d.PhoneNumber,
		Secret:           d.Secret,
		PendingCode:      d.PendingCode,
		PendingExpiresAt: d.PendingExpiresAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// SocialAccountModel is the GORM model for provider/uid links
type SocialAccountModel struct {
	Provider  string    `gorm:"primaryKey;size:32"`
	UID       string    `gorm:"primaryKey;size:255"`
	UserID    string    `gorm:"size:64;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SocialAccountModel) TableName() string {
	return "social_accounts"
}

func (m *SocialAccountModel) ToAccount() *authmux.SocialAccount {
	return &authmux.SocialAccount{
		Provider:  m.Provider,
		UID:       m.UID,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
	}
}

// BlacklistModel is the GORM model for revoked refresh token ids
type BlacklistModel struct {
	JTI       string `gorm:"primaryKey;size:64"`
	ExpiresAt time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BlacklistModel) TableName() string {
	return "token_blacklist"
}

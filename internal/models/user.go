package models

import "time"

// UserStatus 是用户的在线状态。
type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
	UserAway    UserStatus = "away"
	UserBusy    UserStatus = "busy"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case UserOnline, UserOffline, UserAway, UserBusy:
		return true
	}
	return false
}

// User 代表系统中的用户。
type User struct {
	BaseModel
	Username     string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希
	Nickname     string     `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL    string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Bio          string     `gorm:"type:text" json:"bio,omitempty"`
	Status       UserStatus `gorm:"type:varchar(20);default:'offline'" json:"status"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`

	// 登录失败计数与锁定，见 services.AuthService.Login
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LastFailedLoginAt   *time.Time `json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// BasicInfo returns the public projection of u.
func (u *User) BasicInfo() *UserBasicInfo {
	return &UserBasicInfo{
		ID:        u.ID,
		Username:  u.Username,
		Nickname:  u.Nickname,
		AvatarURL: u.AvatarURL,
		Status:    u.Status,
	}
}

// UserBasicInfo holds minimal public information about a user.
type UserBasicInfo struct {
	ID        uint       `json:"id"`
	Username  string     `json:"username"`
	Nickname  string     `json:"nickname,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	Status    UserStatus `json:"status,omitempty"`
}

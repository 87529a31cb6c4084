package storage

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"im-chat/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// GetByLogin 按用户名或邮箱查找用户
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// CountExisting 返回 ids 中实际存在的用户数量（ids 需去重）
	CountExisting(ctx context.Context, ids []uint) (int64, error)
	// ListUsers 列出除 excludeID 以外的用户，query 非空时按用户名/昵称模糊匹配
	ListUsers(ctx context.Context, excludeID uint, query string, limit, offset int) ([]*models.User, error)
	GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error)

	RecordFailedLogin(ctx context.Context, id uint, at time.Time) error
	RecordSuccessfulLogin(ctx context.Context, id uint, at time.Time) error
	ResetFailedLogins(ctx context.Context, id uint) error
	UpdatePresence(ctx context.Context, id uint, status models.UserStatus, at time.Time) error
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID.
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err // Handles gorm.ErrRecordNotFound as well
	}
	return &user, nil
}

// GetByUsername retrieves a user by their username.
func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email.
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update updates an existing user record in the database.
func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return gorm.ErrMissingWhereClause
	}
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *gormUserRepository) CountExisting(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

func (r *gormUserRepository) ListUsers(ctx context.Context, excludeID uint, query string, limit, offset int) ([]*models.User, error) {
	var users []*models.User
	q := r.db.WithContext(ctx).Where("id <> ?", excludeID)
	if query = strings.TrimSpace(query); query != "" {
		// 大小写不敏感的模糊匹配
		term := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(username) LIKE ? OR LOWER(nickname) LIKE ?", term, term)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Order("username ASC").Find(&users).Error
	return users, err
}

// GetBasicInfoByID retrieves minimal public user info by ID.
func (r *gormUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	var basicInfo models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url", "status").
		Where("id = ?", id).
		First(&basicInfo).Error
	if err != nil {
		return nil, err
	}
	return &basicInfo, nil
}

// GetMultipleBasicInfoByIDs retrieves minimal public user info for a list of user IDs.
func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error) {
	var basicInfos []*models.UserBasicInfo
	if len(userIDs) == 0 {
		return basicInfos, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url", "status").
		Where("id IN ?", userIDs).
		Find(&basicInfos).Error
	if err != nil {
		return nil, err
	}
	return basicInfos, nil
}

// RecordFailedLogin 原子地增加失败计数。
func (r *gormUserRepository) RecordFailedLogin(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
			"last_failed_login_at":  at,
		}).Error
}

// RecordSuccessfulLogin 清空失败计数并记录最后在线时间。
func (r *gormUserRepository) RecordSuccessfulLogin(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"last_failed_login_at":  nil,
			"last_seen_at":          at,
		}).Error
}

// ResetFailedLogins 在锁定期过后清空失败计数。
func (r *gormUserRepository) ResetFailedLogins(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"last_failed_login_at":  nil,
		}).Error
}

func (r *gormUserRepository) UpdatePresence(ctx context.Context, id uint, status models.UserStatus, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"last_seen_at": at,
		}).Error
}

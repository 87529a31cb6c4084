package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"im-chat/internal/models"
)

// FriendRequestRepository defines the interface for friend request data operations.
type FriendRequestRepository interface {
	// Create 插入请求；open 状态的请求与同向已有 open 请求冲突时返回唯一键错误（见 IsDuplicateKey）
	Create(ctx context.Context, request *models.FriendRequest) error
	GetByID(ctx context.Context, id uint) (*models.FriendRequest, error)
	// FindOpen 查找有序 (sender, recipient) 之间 pending 或 accepted 的请求，不存在时返回 gorm.ErrRecordNotFound
	FindOpen(ctx context.Context, senderID, recipientID uint) (*models.FriendRequest, error)
	// Respond 仅当请求仍为 pending 时更新状态，返回受影响行数。拒绝会释放 OpenKey
	Respond(ctx context.Context, id uint, status models.FriendRequestStatus, at time.Time) (int64, error)
	ListPendingFor(ctx context.Context, recipientID uint) ([]*models.FriendRequest, error)
}

type gormFriendRequestRepository struct {
	db *gorm.DB
}

// NewGormFriendRequestRepository creates a new GORM-based FriendRequestRepository.
func NewGormFriendRequestRepository(db *gorm.DB) FriendRequestRepository {
	return &gormFriendRequestRepository{db: db}
}

func (r *gormFriendRequestRepository) Create(ctx context.Context, request *models.FriendRequest) error {
	request.OpenKey = nil
	if request.IsOpen() {
		key := models.OpenKeyFor(request.SenderID, request.RecipientID)
		request.OpenKey = &key
	}
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *gormFriendRequestRepository) GetByID(ctx context.Context, id uint) (*models.FriendRequest, error) {
	var request models.FriendRequest
	if err := r.db.WithContext(ctx).First(&request, id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *gormFriendRequestRepository) FindOpen(ctx context.Context, senderID, recipientID uint) (*models.FriendRequest, error) {
	var request models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("open_key = ?", models.OpenKeyFor(senderID, recipientID)).
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *gormFriendRequestRepository) Respond(ctx context.Context, id uint, status models.FriendRequestStatus, at time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":       status,
		"responded_at": at,
	}
	if status == models.FriendRequestRejected {
		updates["open_key"] = nil
	}
	res := r.db.WithContext(ctx).Model(&models.FriendRequest{}).
		Where("id = ? AND status = ?", id, models.FriendRequestPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *gormFriendRequestRepository) ListPendingFor(ctx context.Context, recipientID uint) ([]*models.FriendRequest, error) {
	var requests []*models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, models.FriendRequestPending).
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}

// FriendshipRepository defines the interface for friendship data operations.
type FriendshipRepository interface {
	Create(ctx context.Context, friendship *models.Friendship) error
	AreFriends(ctx context.Context, userA, userB uint) (bool, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
}

type gormFriendshipRepository struct {
	db *gorm.DB
}

// NewGormFriendshipRepository creates a new GORM-based FriendshipRepository.
func NewGormFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: db}
}

// Create 插入好友关系。friendship 须由 models.NewFriendship 构造以保证规范顺序。
func (r *gormFriendshipRepository) Create(ctx context.Context, friendship *models.Friendship) error {
	return r.db.WithContext(ctx).Create(friendship).Error
}

func (r *gormFriendshipRepository) AreFriends(ctx context.Context, userA, userB uint) (bool, error) {
	u1, u2 := models.CanonicalPair(userA, userB)
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id1 = ? AND user_id2 = ?", u1, u2).
		Count(&count).Error
	return count > 0, err
}

// GetFriendIDs 返回 userID 的所有好友ID。
func (r *gormFriendshipRepository) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	var left, right []uint
	if err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id1 = ?", userID).Pluck("user_id2", &left).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id2 = ?", userID).Pluck("user_id1", &right).Error; err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

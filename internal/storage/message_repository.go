package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-chat/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
// 列表方法均按 (created_at, id) 倒序返回，调用方负责反转为正序显示。
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.Message, error)
	ListPrivateBetween(ctx context.Context, userA, userB uint, limit, offset int) ([]*models.Message, error)
	ListByConversation(ctx context.Context, conversationID uint, limit, offset int) ([]*models.Message, error)
	ListByGroup(ctx context.Context, groupID uint, limit, offset int) ([]*models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID uint, since *time.Time) (int64, error)

	// MarkPrivateRead 将 viewer 收到的、尚未读的私聊消息推进到 read，返回本次实际推进的消息ID。
	// 目标行先加锁，并发调用之间每条消息只会被其中一个推进
	MarkPrivateRead(ctx context.Context, viewerID uint, messageIDs []uint, at time.Time) ([]uint, error)
	// MarkDelivered 将 sent 状态的私聊消息推进到 delivered
	MarkDelivered(ctx context.Context, messageID, viewerID uint, at time.Time) (int64, error)
	// AddReceipts 插入群消息回执，重复的 (message, user) 被忽略
	AddReceipts(ctx context.Context, receipts []models.MessageReceipt) error
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func newestFirst(q *gorm.DB, limit, offset int) *gorm.DB {
	q = q.Order("messages.created_at DESC").Order("messages.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Preload("ReadBy").First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormMessageRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	var messages []*models.Message
	if len(ids) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	return messages, err
}

func (r *gormMessageRepository) ListPrivateBetween(ctx context.Context, userA, userB uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	q := r.db.WithContext(ctx).
		Where("message_type = ?", models.PrivateMessage).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", userA, userB, userB, userA)
	err := newestFirst(q, limit, offset).Find(&messages).Error
	return messages, err
}

// ListByConversation 通过会话ID检索消息列表，支持分页。
func (r *gormMessageRepository) ListByConversation(ctx context.Context, conversationID uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	err := newestFirst(q, limit, offset).Find(&messages).Error
	return messages, err
}

func (r *gormMessageRepository) ListByGroup(ctx context.Context, groupID uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	q := r.db.WithContext(ctx).
		Where("group_id = ? AND message_type = ?", groupID, models.GroupMessage).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("message_receipts.id ASC") })
	err := newestFirst(q, limit, offset).Find(&messages).Error
	return messages, err
}

// CountUnread 统计 since 之后对方发送的消息数；since 为空时统计全部。
func (r *gormMessageRepository) CountUnread(ctx context.Context, conversationID, userID uint, since *time.Time) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *gormMessageRepository) MarkPrivateRead(ctx context.Context, viewerID uint, messageIDs []uint, at time.Time) ([]uint, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var pending []uint
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND recipient_id = ? AND status <> ?", messageIDs, viewerID, models.StatusRead).
		Order("id").
		Pluck("id", &pending).Error
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", pending).
		Updates(map[string]interface{}{
			"status":       models.StatusRead,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
			"read_at":      at,
		}).Error
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *gormMessageRepository) MarkDelivered(ctx context.Context, messageID, viewerID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND recipient_id = ? AND status = ?", messageID, viewerID, models.StatusSent).
		Updates(map[string]interface{}{
			"status":       models.StatusDelivered,
			"delivered_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *gormMessageRepository) AddReceipts(ctx context.Context, receipts []models.MessageReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&receipts).Error
}

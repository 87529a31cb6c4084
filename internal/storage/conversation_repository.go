package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"im-chat/internal/models"
)

// ConversationRepository 定义了私聊会话数据操作的接口。
type ConversationRepository interface {
	// Create 插入会话及其两个参与者。调用方应在事务内使用。
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	// FindActiveByPair 按规范化的用户对查找有效会话，不存在时返回 gorm.ErrRecordNotFound
	FindActiveByPair(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	// ListForUser 返回用户可见的有效会话，按最后消息时间倒序
	ListForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error)

	UpdateLastMessage(ctx context.Context, conversationID, messageID uint, at time.Time) error
	UnhideAll(ctx context.Context, conversationID uint) error
	MarkRead(ctx context.Context, conversationID, userID uint, at time.Time) error
	Hide(ctx context.Context, conversationID, userID uint, at time.Time) error
	CountHidden(ctx context.Context, conversationID uint) (int64, error)
	// Deactivate 将会话置为失效并释放 pair key
	Deactivate(ctx context.Context, conversationID uint) error
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

func (r *gormConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	db := r.db.WithContext(ctx)
	participants := conversation.Participants
	conversation.Participants = nil
	if err := db.Create(conversation).Error; err != nil {
		return err
	}
	for i := range participants {
		participants[i].ConversationID = conversation.ID
	}
	if len(participants) > 0 {
		if err := db.Create(&participants).Error; err != nil {
			return err
		}
	}
	conversation.Participants = participants
	return nil
}

// GetByID 通过ID检索会话，包括参与者。
func (r *gormConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&conversation, id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) FindActiveByPair(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("pair_key = ? AND is_active = ?", models.PairKeyFor(userA, userB), true).
		First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *gormConversationRepository) ListForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	query := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ? AND cp.hidden_at IS NULL AND conversations.is_active = ?", userID, true).
		Order("conversations.last_message_at DESC").
		Order("conversations.id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Preload("Participants").Find(&conversations).Error
	return conversations, err
}

// UpdateLastMessage 更新会话的最后一条消息指针。
func (r *gormConversationRepository) UpdateLastMessage(ctx context.Context, conversationID, messageID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
		}).Error
}

func (r *gormConversationRepository) UnhideAll(ctx context.Context, conversationID uint) error {
	return r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND hidden_at IS NOT NULL", conversationID).
		Update("hidden_at", nil).Error
}

// MarkRead 更新参与者的 last_read_at。
func (r *gormConversationRepository) MarkRead(ctx context.Context, conversationID, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", at).Error
}

// Hide 记录参与者删除会话的时间，已删除时不覆盖。
func (r *gormConversationRepository) Hide(ctx context.Context, conversationID, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND hidden_at IS NULL", conversationID, userID).
		Update("hidden_at", at).Error
}

func (r *gormConversationRepository) CountHidden(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND hidden_at IS NOT NULL", conversationID).
		Count(&count).Error
	return count, err
}

func (r *gormConversationRepository) Deactivate(ctx context.Context, conversationID uint) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"is_active": false,
			"pair_key":  nil,
		}).Error
}

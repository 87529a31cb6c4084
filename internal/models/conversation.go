package models

import (
	"fmt"
	"time"
)

// Conversation 代表两个用户之间的私聊会话。
// 参与者按 User1ID < User2ID 的规范顺序存储。PairKey 在会话有效期间为
// "<min>:<max>"，并带唯一索引；会话失效时置空，使同一对用户可以重新建立会话。
type Conversation struct {
	BaseModel
	User1ID       uint      `gorm:"not null;index" json:"user1Id"`
	User2ID       uint      `gorm:"not null;index" json:"user2Id"`
	PairKey       *string   `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	LastMessageID *uint     `json:"lastMessageId,omitempty"`
	LastMessageAt time.Time `gorm:"not null;index" json:"lastMessageAt"`
	IsActive      bool      `gorm:"not null;default:true" json:"isActive"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// CanonicalPair orders two user IDs so that the smaller comes first.
func CanonicalPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// PairKeyFor returns the uniqueness key for the unordered pair {a, b}.
func PairKeyFor(a, b uint) string {
	lo, hi := CanonicalPair(a, b)
	return fmt.Sprintf("%d:%d", lo, hi)
}

// NewConversation builds an active conversation between a and b.
func NewConversation(a, b uint, now time.Time) *Conversation {
	lo, hi := CanonicalPair(a, b)
	key := PairKeyFor(lo, hi)
	return &Conversation{
		User1ID:       lo,
		User2ID:       hi,
		PairKey:       &key,
		LastMessageAt: now,
		IsActive:      true,
	}
}

// Participant returns the participant row for userID if it was loaded.
func (c *Conversation) Participant(userID uint) *ConversationParticipant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ConversationParticipant 保存单个参与者在会话中的状态。
type ConversationParticipant struct {
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversationId"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
	HiddenAt       *time.Time `json:"hiddenAt,omitempty"` // 该参与者删除了会话
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

package models

import (
	"time"

	"im-chat/internal/apperr"
)

// MessageType 决定消息的目标和回执形态。
type MessageType string

const (
	PrivateMessage MessageType = "private"
	GroupMessage   MessageType = "group"
)

// MessageStatus 是私聊消息的回执状态。
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// SealedContent 是消息内容在库中的唯一形态：hex 编码的密文、nonce 和认证标签。
type SealedContent struct {
	Ciphertext string `gorm:"type:text;not null" json:"ciphertext"`
	Nonce      string `gorm:"type:varchar(32);not null" json:"nonce"`
	Tag        string `gorm:"type:varchar(32);not null" json:"tag"`
}

// Message 代表存储在数据库中的聊天消息。
// 私聊消息设置 RecipientID 和 ConversationID，群聊消息设置 GroupID。
type Message struct {
	BaseModel
	SenderID       uint          `gorm:"not null;index" json:"senderId"`
	MessageType    MessageType   `gorm:"type:varchar(10);not null" json:"messageType"`
	RecipientID    *uint         `gorm:"index" json:"recipientId,omitempty"`
	GroupID        *uint         `gorm:"index" json:"groupId,omitempty"`
	ConversationID *uint         `gorm:"index" json:"conversationId,omitempty"`
	Content        SealedContent `gorm:"embedded;embeddedPrefix:content_" json:"-"`

	// 私聊回执
	Status      MessageStatus `gorm:"type:varchar(20)" json:"status,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`

	// 群聊回执
	ReadBy []MessageReceipt `gorm:"foreignKey:MessageID" json:"readBy,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Validate checks the target shape before the message is written.
func (m *Message) Validate() error {
	switch m.MessageType {
	case PrivateMessage:
		if m.RecipientID == nil || m.GroupID != nil {
			return apperr.ErrInvalidTarget
		}
	case GroupMessage:
		if m.GroupID == nil || m.RecipientID != nil {
			return apperr.ErrInvalidTarget
		}
	default:
		return apperr.ErrInvalidTarget
	}
	return nil
}

// ReadByUser reports whether userID has a receipt on a group message.
func (m *Message) ReadByUser(userID uint) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MessageReceipt 记录群成员读取群消息的时间，(MessageID, UserID) 唯一。
type MessageReceipt struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_message_receipt" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_message_receipt" json:"userId"`
	ReadAt    time.Time `gorm:"not null" json:"readAt"`
}

// TableName 指定 MessageReceipt 模型的表名。
func (MessageReceipt) TableName() string {
	return "message_receipts"
}

package services

import (
	"time"

	"go.uber.org/zap"

	"im-chat/internal/models"
)

// UnreadablePlaceholder replaces the content of a message that fails to decrypt.
const UnreadablePlaceholder = "Message decryption failed"

// MessageView 是返回给客户端的消息，内容已解密。
type MessageView struct {
	ID             uint                    `json:"id"`
	SenderID       uint                    `json:"senderId"`
	MessageType    models.MessageType      `json:"messageType"`
	RecipientID    *uint                   `json:"recipientId,omitempty"`
	GroupID        *uint                   `json:"groupId,omitempty"`
	ConversationID *uint                   `json:"conversationId,omitempty"`
	Content        string                  `json:"content"`
	Unreadable     bool                    `json:"unreadable,omitempty"`
	Status         models.MessageStatus    `json:"status,omitempty"`
	DeliveredAt    *time.Time              `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time              `json:"readAt,omitempty"`
	ReadBy         []models.MessageReceipt `json:"readBy,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	ClientMsgID    string                  `json:"clientMsgId,omitempty"`
}

// viewBuilder decrypts messages fail-soft: a message that cannot be opened
// is flagged unreadable and the rest are unaffected.
type viewBuilder struct {
	cipher Cipher
	log    *zap.Logger
}

func (b viewBuilder) view(m *models.Message) *MessageView {
	v := &MessageView{
		ID:             m.ID,
		SenderID:       m.SenderID,
		MessageType:    m.MessageType,
		RecipientID:    m.RecipientID,
		GroupID:        m.GroupID,
		ConversationID: m.ConversationID,
		Status:         m.Status,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		ReadBy:         m.ReadBy,
		CreatedAt:      m.CreatedAt,
	}
	plain, err := b.cipher.Open(m.Content)
	if err != nil {
		b.log.Warn("message decryption failed", zap.Uint("messageId", m.ID), zap.Error(err))
		v.Content = UnreadablePlaceholder
		v.Unreadable = true
		return v
	}
	v.Content = plain
	return v
}

// chronological converts repository rows (newest first) to views in
// ascending order.
func (b viewBuilder) chronological(msgs []*models.Message) []*MessageView {
	out := make([]*MessageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, b.view(msgs[i]))
	}
	return out
}

// ConversationSummary 是会话列表中的一项。
type ConversationSummary struct {
	ID            uint                  `json:"id"`
	OtherUser     *models.UserBasicInfo `json:"otherUser,omitempty"`
	LastMessage   *MessageView          `json:"lastMessage,omitempty"`
	LastMessageAt time.Time             `json:"lastMessageAt"`
	LastReadAt    *time.Time            `json:"lastReadAt,omitempty"`
	UnreadCount   int64                 `json:"unreadCount"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// GroupView 是返回给客户端的群组，成员已解析为用户基本信息。
type GroupView struct {
	ID            uint                    `json:"id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description,omitempty"`
	ImageURL      string                  `json:"imageUrl,omitempty"`
	AdminID       uint                    `json:"adminId"`
	Members       []*models.UserBasicInfo `json:"members"`
	LastMessageID *uint                   `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time              `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// ReadReceiptData is the payload of messages_read.
type ReadReceiptData struct {
	ReaderID       uint      `json:"readerId"`
	ConversationID uint      `json:"conversationId,omitempty"`
	GroupID        uint      `json:"groupId,omitempty"`
	MessageIDs     []uint    `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

// DeliveryData is the payload of message_delivered.
type DeliveryData struct {
	MessageID      uint      `json:"messageId"`
	ConversationID uint      `json:"conversationId,omitempty"`
	RecipientID    uint      `json:"recipientId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

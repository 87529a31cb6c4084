package imtypes

import "encoding/json"

// Inbound event names sent by websocket clients.
const (
	ClientSetup            = "setup"
	ClientJoinChat         = "join_chat"
	ClientLeaveChat        = "leave_chat"
	ClientJoinGroup        = "join_group"
	ClientLeaveGroup       = "leave_group"
	ClientTyping           = "typing"
	ClientStopTyping       = "stop_typing"
	ClientNewMessage       = "new_message"
	ClientMessageDelivered = "message_delivered"
)

// ClientFrame 是客户端发送的帧，Data 根据 Event 解析为下面的负载类型。
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatRef 标识一个私聊会话，用于 join_chat / leave_chat。
type ChatRef struct {
	ConversationID uint `json:"conversationId"`
}

// GroupRef 标识一个群组，用于 join_group / leave_group。
type GroupRef struct {
	GroupID uint `json:"groupId"`
}

// TypingPayload 设置 ConversationID 或 GroupID 其中之一。
type TypingPayload struct {
	ConversationID uint `json:"conversationId,omitempty"`
	GroupID        uint `json:"groupId,omitempty"`
}

// NewMessagePayload 与 REST 的发送消息请求体相同。
type NewMessagePayload struct {
	RecipientID *uint  `json:"recipientId,omitempty"`
	GroupID     *uint  `json:"groupId,omitempty"`
	Content     string `json:"content"`
	ClientMsgID string `json:"clientMsgId,omitempty"` // 客户端生成的ID，在确认中原样返回
}

// MessageRef 标识一条消息，用于 message_delivered。
type MessageRef struct {
	MessageID uint `json:"messageId"`
}

// TypingData is the outbound payload of typing and stop_typing.
type TypingData struct {
	UserID         uint `json:"userId"`
	ConversationID uint `json:"conversationId,omitempty"`
	GroupID        uint `json:"groupId,omitempty"`
}

// ChannelData is the payload of joined / left acknowledgements.
type ChannelData struct {
	Channel string `json:"channel"`
}

// PresenceData is the payload of presence events.
type PresenceData struct {
	UserID uint   `json:"userId"`
	Status string `json:"status"`
}

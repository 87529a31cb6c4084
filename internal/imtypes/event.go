package imtypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Outbound event names.
const (
	EventConnected             = "connected"
	EventJoined                = "joined"
	EventLeft                  = "left"
	EventTyping                = "typing"
	EventStopTyping            = "stop_typing"
	EventMessageReceived       = "message_received"
	EventMessagesRead          = "messages_read"
	EventMessageDelivered      = "message_delivered"
	EventPresence              = "presence"
	EventGroupUpdated          = "group_updated"
	EventFriendRequest         = "friend_request"
	EventFriendRequestAccepted = "friend_request_accepted"
	EventError                 = "error"
)

// Event 是服务端推送给 WebSocket 客户端的帧：{"event": ..., "data": ...}
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, data any) Event {
	return Event{Event: name, Data: data}
}

// IsTyping reports whether the event is a typing signal, which is never
// echoed back to the session that produced it.
func (e Event) IsTyping() bool {
	return e.Event == EventTyping || e.Event == EventStopTyping
}

// ChannelEvent 是经 Kafka 在 apiserver 与 chatserver 之间传递的事件。
type ChannelEvent struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewChannelEvent encodes evt for channel.
func NewChannelEvent(channel string, evt Event) (*ChannelEvent, error) {
	ce := &ChannelEvent{Channel: channel, Event: evt.Event}
	if evt.Data != nil {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s event data: %w", evt.Event, err)
		}
		ce.Data = data
	}
	return ce, nil
}

// ToEvent converts back to a frame; Data stays raw JSON.
func (c *ChannelEvent) ToEvent() Event {
	if len(c.Data) == 0 {
		return Event{Event: c.Event}
	}
	return Event{Event: c.Event, Data: c.Data}
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Channel kinds.
const (
	ChannelUser         = "user"
	ChannelGroup        = "group"
	ChannelConversation = "conversation"
)

func channelKey(kind string, id uint) string {
	return kind + ":" + strconv.FormatUint(uint64(id), 10)
}

// UserChannel returns the per-user channel key "user:<id>".
func UserChannel(id uint) string { return channelKey(ChannelUser, id) }

// GroupChannel returns "group:<id>".
func GroupChannel(id uint) string { return channelKey(ChannelGroup, id) }

// ConversationChannel returns "conversation:<id>".
func ConversationChannel(id uint) string { return channelKey(ChannelConversation, id) }

// ParseChannel splits a channel key into its kind and id.
func ParseChannel(key string) (kind string, id uint, err error) {
	kind, raw, ok := strings.Cut(key, ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid channel key %q", key)
	}
	switch kind {
	case ChannelUser, ChannelGroup, ChannelConversation:
	default:
		return "", 0, fmt.Errorf("unknown channel kind %q", kind)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid channel id in %q", key)
	}
	return kind, uint(n), nil
}

// group_updated actions.
const (
	GroupActionCreated       = "created"
	GroupActionUpdated       = "updated"
	GroupActionMembersAdded  = "members_added"
	GroupActionMemberRemoved = "member_removed"
	GroupActionMemberLeft    = "member_left"
	GroupActionDeleted       = "deleted"
)

// GroupUpdateData is the payload of group_updated.
type GroupUpdateData struct {
	GroupID uint   `json:"groupId"`
	Action  string `json:"action"`
	UserIDs []uint `json:"userIds,omitempty"`
	AdminID uint   `json:"adminId,omitempty"`
}

// Evicts reports whether UserIDs lose access to the group channel.
func (d GroupUpdateData) Evicts() bool {
	switch d.Action {
	case GroupActionMemberRemoved, GroupActionMemberLeft, GroupActionDeleted:
		return true
	}
	return false
}

// GroupUpdate extracts the payload of a group_updated event, whether it was
// published in process or decoded from Kafka as raw JSON.
func GroupUpdate(evt Event) (GroupUpdateData, bool) {
	if evt.Event != EventGroupUpdated {
		return GroupUpdateData{}, false
	}
	switch d := evt.Data.(type) {
	case GroupUpdateData:
		return d, true
	case *GroupUpdateData:
		return *d, d != nil
	case json.RawMessage:
		var out GroupUpdateData
		if err := json.Unmarshal(d, &out); err != nil {
			return GroupUpdateData{}, false
		}
		return out, true
	}
	return GroupUpdateData{}, false
}

package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
	"im-chat/internal/imtypes"
	"im-chat/internal/middleware"
	"im-chat/internal/services"
	ws "im-chat/internal/websocket"
)

const closeTimeout = 5 * time.Second

var errSetupRequired = apperr.InvalidArgument("send setup before other events")

// WebSocketHandler 负责处理 WebSocket 连接请求，并分发客户端发来的事件。
type WebSocketHandler struct {
	// ctx 是服务进程的生命周期，会话不会随升级请求的 context 一起结束
	ctx           context.Context
	hub           *ws.Hub
	verifier      middleware.TokenVerifier
	messages      services.MessageService
	conversations services.ConversationService
	groups        services.GroupService
	users         services.UserService
	wsCfg         config.WebSocketConfig
	log           *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(
	ctx context.Context,
	hub *ws.Hub,
	verifier middleware.TokenVerifier,
	messages services.MessageService,
	conversations services.ConversationService,
	groups services.GroupService,
	users services.UserService,
	wsCfg config.WebSocketConfig,
	log *zap.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:           ctx,
		hub:           hub,
		verifier:      verifier,
		messages:      messages,
		conversations: conversations,
		groups:        groups,
		users:         users,
		wsCfg:         wsCfg,
		log:           log.Named("ws_handler"),
	}
}

// ServeWS 校验访问令牌（?token= 或 Authorization 头）后将连接升级为 WebSocket。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		middleware.WriteAuthError(w, apperr.Unauthorized("missing access token"))
		return
	}
	claims, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		h.log.Debug("websocket authentication failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		middleware.WriteAuthError(w, err)
		return
	}

	// Upgrade 失败时 gorilla 已经写回了 HTTP 错误
	if _, err := ws.Serve(h.ctx, h.hub, h, claims.UserID, w, r, h.wsCfg, h.log); err != nil {
		h.log.Warn("websocket upgrade failed", zap.Uint("userId", claims.UserID), zap.Error(err))
	}
}

// Dispatch implements websocket.Dispatcher.
func (h *WebSocketHandler) Dispatch(ctx context.Context, s *ws.Session, frame imtypes.ClientFrame) error {
	if frame.Event == imtypes.ClientSetup {
		return h.setup(ctx, s)
	}
	if s.State() == ws.StateConnected {
		return errSetupRequired
	}

	switch frame.Event {
	case imtypes.ClientJoinChat, imtypes.ClientLeaveChat:
		var ref imtypes.ChatRef
		if err := decode(frame, &ref); err != nil || ref.ConversationID == 0 {
			return invalidPayload(frame.Event)
		}
		channel := imtypes.ConversationChannel(ref.ConversationID)
		if frame.Event == imtypes.ClientLeaveChat {
			return h.leave(s, channel)
		}
		if _, err := h.conversations.Authorize(ctx, ref.ConversationID, s.UserID); err != nil {
			return err
		}
		return h.join(s, channel)

	case imtypes.ClientJoinGroup, imtypes.ClientLeaveGroup:
		var ref imtypes.GroupRef
		if err := decode(frame, &ref); err != nil || ref.GroupID == 0 {
			return invalidPayload(frame.Event)
		}
		channel := imtypes.GroupChannel(ref.GroupID)
		if frame.Event == imtypes.ClientLeaveGroup {
			return h.leave(s, channel)
		}
		ok, err := h.groups.IsMember(ctx, ref.GroupID, s.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotMember
		}
		return h.join(s, channel)

	case imtypes.ClientTyping, imtypes.ClientStopTyping:
		var p imtypes.TypingPayload
		if err := decode(frame, &p); err != nil || (p.ConversationID == 0) == (p.GroupID == 0) {
			return invalidPayload(frame.Event)
		}
		channel := imtypes.ConversationChannel(p.ConversationID)
		if p.GroupID != 0 {
			channel = imtypes.GroupChannel(p.GroupID)
		}
		if !h.hub.InChannel(s, channel) {
			return apperr.Forbidden("join the chat before sending typing events")
		}
		h.hub.Publish(channel, imtypes.NewEvent(frame.Event, imtypes.TypingData{
			UserID:         s.UserID,
			ConversationID: p.ConversationID,
			GroupID:        p.GroupID,
		}), s.ID)
		return nil

	case imtypes.ClientNewMessage:
		var p imtypes.NewMessagePayload
		if err := decode(frame, &p); err != nil {
			return invalidPayload(frame.Event)
		}
		// message_received 由 MessageService 发布到发送方和接收方的频道
		_, err := h.messages.Send(ctx, s.UserID, services.SendRequest{
			RecipientID: p.RecipientID,
			GroupID:     p.GroupID,
			Content:     p.Content,
			ClientMsgID: p.ClientMsgID,
		})
		return err

	case imtypes.ClientMessageDelivered:
		var ref imtypes.MessageRef
		if err := decode(frame, &ref); err != nil || ref.MessageID == 0 {
			return invalidPayload(frame.Event)
		}
		return h.messages.MarkDelivered(ctx, ref.MessageID, s.UserID)
	}
	return apperr.InvalidArgument("unknown event: " + frame.Event)
}

// setup 可重复调用：每次都重新加入 user 频道，只有第一次计入在线状态。
func (h *WebSocketHandler) setup(ctx context.Context, s *ws.Session) error {
	first := s.Identify()
	h.hub.Join(s, imtypes.UserChannel(s.UserID))
	if first {
		cameOnline, err := h.users.SessionOpened(ctx, s.UserID)
		if err != nil {
			h.log.Warn("mark user online failed", zap.Uint("userId", s.UserID), zap.Error(err))
		}
		if cameOnline {
			h.announceOnline(ctx, s.UserID)
		}
	}
	s.Send(imtypes.NewEvent(imtypes.EventConnected, map[string]any{
		"userId":    s.UserID,
		"sessionId": s.ID,
	}))
	return nil
}

func (h *WebSocketHandler) announceOnline(ctx context.Context, userID uint) {
	groupIDs, err := h.groups.UserGroupIDs(ctx, userID)
	if err != nil {
		h.log.Warn("load groups for presence failed", zap.Uint("userId", userID), zap.Error(err))
		return
	}
	evt := imtypes.NewEvent(imtypes.EventPresence, imtypes.PresenceData{UserID: userID, Status: "online"})
	for _, id := range groupIDs {
		h.hub.Publish(imtypes.GroupChannel(id), evt, "")
	}
}

func (h *WebSocketHandler) join(s *ws.Session, channel string) error {
	h.hub.Join(s, channel)
	s.MarkSubscribed()
	s.Send(imtypes.NewEvent(imtypes.EventJoined, imtypes.ChannelData{Channel: channel}))
	return nil
}

func (h *WebSocketHandler) leave(s *ws.Session, channel string) error {
	h.hub.Leave(s, channel)
	s.Send(imtypes.NewEvent(imtypes.EventLeft, imtypes.ChannelData{Channel: channel}))
	return nil
}

// Closed implements websocket.Dispatcher. Sessions that never ran setup
// were not counted as online and are ignored.
func (h *WebSocketHandler) Closed(s *ws.Session, channels []string) {
	own := imtypes.UserChannel(s.UserID)
	identified := false
	for _, ch := range channels {
		if ch == own {
			identified = true
			break
		}
	}
	if !identified {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), closeTimeout)
	defer cancel()
	wentOffline, err := h.users.SessionClosed(ctx, s.UserID)
	if err != nil {
		h.log.Warn("mark user offline failed", zap.Uint("userId", s.UserID), zap.Error(err))
		return
	}
	if !wentOffline {
		return
	}
	evt := imtypes.NewEvent(imtypes.EventPresence, imtypes.PresenceData{UserID: s.UserID, Status: "offline"})
	for _, ch := range channels {
		if ch != own {
			h.hub.Publish(ch, evt, "")
		}
	}
}

func decode(frame imtypes.ClientFrame, v any) error {
	if len(frame.Data) == 0 {
		return apperr.InvalidArgument("missing data")
	}
	return json.Unmarshal(frame.Data, v)
}

func invalidPayload(event string) error {
	return apperr.InvalidArgument("invalid payload for " + event)
}

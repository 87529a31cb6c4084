package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
	"im-chat/internal/imtypes"
)

// SessionState 是会话的生命周期状态。
type SessionState int32

const (
	StateConnected SessionState = iota
	StateIdentified
	StateSubscribed
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateSubscribed:
		return "subscribed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Dispatcher handles the inbound frames of a session. A returned error is
// reported to the client as an error event; the session stays open.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *Session, frame imtypes.ClientFrame) error
	// Closed runs once after the session left the hub, with the channels it held.
	Closed(s *Session, channels []string)
}

// Session is a middleman between one websocket connection and the hub.
// A user may hold several sessions (devices) at once.
type Session struct {
	ID     string
	UserID uint

	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	// Buffered channel of outbound frames.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newSession(hub *Hub, conn *websocket.Conn, userID uint, sendBuffer int, log *zap.Logger) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	id := uuid.NewString()
	return &Session{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		log:    log.With(zap.String("sessionId", id), zap.Uint("userId", userID)),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Identify moves connected -> identified. It reports true only for the
// first call; repeating setup keeps the current state.
func (s *Session) Identify() bool {
	return s.state.CompareAndSwap(int32(StateConnected), int32(StateIdentified))
}

// MarkSubscribed moves identified -> subscribed after the first explicit join.
func (s *Session) MarkSubscribed() {
	s.state.CompareAndSwap(int32(StateIdentified), int32(StateSubscribed))
}

// Send encodes evt and queues it for the write pump.
func (s *Session) Send(evt imtypes.Event) bool {
	frame, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("encode event failed", zap.String("event", evt.Event), zap.Error(err))
		return false
	}
	return s.enqueue(frame)
}

// SendError reports err to the client without exposing internal details.
func (s *Session) SendError(err error) bool {
	return s.Send(imtypes.NewEvent(imtypes.EventError, imtypes.ErrorData{
		Kind:  string(apperr.KindOf(err)),
		Error: apperr.PublicMessage(err),
	}))
}

// enqueue never blocks: a session whose buffer is full is considered too
// slow and is closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.log.Warn("send buffer full, closing session")
		s.Close()
		return false
	}
}

// Close terminates the session. The read pump then unregisters it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateTerminated))
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// readPump pumps frames from the websocket connection to the dispatcher.
func (s *Session) readPump(ctx context.Context, d Dispatcher, wsCfg config.WebSocketConfig) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.Close()
		channels := s.hub.Unregister(s)
		s.log.Info("session closed", zap.Strings("channels", channels))
		d.Closed(s, channels)
	}()

	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	s.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.log.Debug("ignoring non-text frame", zap.Int("type", messageType))
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			s.SendError(apperr.InvalidArgument("malformed frame"))
			continue
		}
		if err := d.Dispatch(ctx, s, frame); err != nil {
			if apperr.KindOf(err) == apperr.KindInternal || apperr.KindOf(err) == apperr.KindStorage {
				s.log.Error("dispatch failed", zap.String("event", frame.Event), zap.Error(err))
			} else {
				s.log.Debug("frame rejected", zap.String("event", frame.Event), zap.Error(err))
			}
			s.SendError(err)
		}
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (s *Session) writePump(wsCfg config.WebSocketConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// 每个事件一帧，客户端按 JSON 对象解析
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Serve 将 HTTP 请求升级为 WebSocket 并启动会话。userID 必须已经过认证。
func Serve(ctx context.Context, hub *Hub, d Dispatcher, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, log *zap.Logger) (*Session, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 令牌已在升级前校验，不限制来源
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	s := newSession(hub, conn, userID, wsCfg.SendBuffer, log)
	hub.Register(s)
	go s.writePump(wsCfg)
	hub.pumps.Add(1)
	go func() {
		defer hub.pumps.Done()
		s.readPump(ctx, d, wsCfg)
	}()

	s.log.Info("session connected")
	return s, nil
}

package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"im-chat/internal/imtypes"
)

// Hub maintains the active sessions and their channel memberships.
// A channel only references sessions; it never keeps one alive, and
// Unregister removes the session from every channel it joined.
type Hub struct {
	mu sync.RWMutex
	// sessionID -> session
	sessions map[string]*Session
	// channel -> sessionID -> session
	channels map[string]map[string]*Session
	// sessionID -> joined channels
	joined map[string]map[string]struct{}

	// 运行中的 read pump，包括其结束时的 Dispatcher.Closed
	pumps sync.WaitGroup

	log *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		channels: make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
		log:      log.Named("hub"),
	}
}

// Register 登记一个新会话，此时它还没有加入任何频道。
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.joined[s.ID] = make(map[string]struct{})
	total := len(h.sessions)
	h.mu.Unlock()

	h.log.Debug("session registered", zap.String("sessionId", s.ID), zap.Uint("userId", s.UserID), zap.Int("sessions", total))
}

// Unregister removes the session and all of its channel memberships and
// returns the channels it held. Calling it twice is harmless.
func (h *Hub) Unregister(s *Session) []string {
	h.mu.Lock()
	joined, ok := h.joined[s.ID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	channels := make([]string, 0, len(joined))
	for ch := range joined {
		h.removeLocked(ch, s.ID)
		channels = append(channels, ch)
	}
	delete(h.joined, s.ID)
	delete(h.sessions, s.ID)
	total := len(h.sessions)
	h.mu.Unlock()

	sort.Strings(channels)
	h.log.Debug("session unregistered",
		zap.String("sessionId", s.ID),
		zap.Uint("userId", s.UserID),
		zap.Strings("channels", channels),
		zap.Int("sessions", total))
	return channels
}

// Join adds the session to channel. It reports false when the session was
// already a member or is no longer registered.
func (h *Hub) Join(s *Session, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.joined[s.ID]
	if !ok {
		return false
	}
	if _, dup := joined[channel]; dup {
		return false
	}
	members := h.channels[channel]
	if members == nil {
		members = make(map[string]*Session)
		h.channels[channel] = members
	}
	members[s.ID] = s
	joined[channel] = struct{}{}
	return true
}

// Leave removes the session from channel; leaving a channel the session is
// not in is a no-op.
func (h *Hub) Leave(s *Session, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.joined[s.ID]
	if !ok {
		return false
	}
	if _, in := joined[channel]; !in {
		return false
	}
	delete(joined, channel)
	h.removeLocked(channel, s.ID)
	return true
}

func (h *Hub) removeLocked(channel, sessionID string) {
	members := h.channels[channel]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// InChannel reports whether the session has joined channel.
func (h *Hub) InChannel(s *Session, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[s.ID][channel]
	return ok
}

// Publish 把事件投递给频道内的所有会话，返回投递成功的会话数。
// 输入状态事件（typing / stop_typing）不回送给 originSessionID。
func (h *Hub) Publish(channel string, evt imtypes.Event, originSessionID string) int {
	frame, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("encode event failed", zap.String("channel", channel), zap.String("event", evt.Event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.channels[channel]))
	for id, s := range h.channels[channel] {
		if evt.IsTyping() && id == originSessionID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.enqueue(frame) {
			delivered++
		}
	}

	if update, ok := imtypes.GroupUpdate(evt); ok && update.Evicts() {
		h.evict(update)
	}
	return delivered
}

// Emit implements services.EventPublisher for the chat server.
func (h *Hub) Emit(_ context.Context, channel string, evt imtypes.Event) error {
	if _, _, err := imtypes.ParseChannel(channel); err != nil {
		return fmt.Errorf("emit %s: %w", evt.Event, err)
	}
	h.Publish(channel, evt, "")
	return nil
}

// evict drops the sessions of users who lost access to a group from the
// group channel; a deleted group loses all of its sessions.
func (h *Hub) evict(update imtypes.GroupUpdateData) {
	channel := imtypes.GroupChannel(update.GroupID)
	users := make(map[uint]struct{}, len(update.UserIDs))
	for _, id := range update.UserIDs {
		users[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.channels[channel] {
		if _, hit := users[s.UserID]; hit || update.Action == imtypes.GroupActionDeleted {
			delete(h.joined[id], channel)
			h.removeLocked(channel, id)
		}
	}
}

// ChannelSize returns the number of sessions in channel.
func (h *Hub) ChannelSize(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// SessionChannels returns the channels the session has joined, sorted.
func (h *Hub) SessionChannels(sessionID string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.joined[sessionID]))
	for ch := range h.joined[sessionID] {
		out = append(out, ch)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ConnectedUsers returns the distinct users with at least one registered session.
func (h *Hub) ConnectedUsers() []uint {
	h.mu.RLock()
	seen := make(map[uint]struct{}, len(h.sessions))
	out := make([]uint, 0, len(h.sessions))
	for _, s := range h.sessions {
		if _, dup := seen[s.UserID]; !dup {
			seen[s.UserID] = struct{}{}
			out = append(out, s.UserID)
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll terminates every session, e.g. on shutdown. Each read pump then
// unregisters its session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	h.log.Info("all sessions closed", zap.Int("sessions", len(sessions)))
}

// Drain waits until every read pump has returned and its Dispatcher.Closed
// has run, or until ctx ends. Call it after CloseAll on shutdown.
func (h *Hub) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

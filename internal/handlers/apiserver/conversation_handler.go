package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
	"im-chat/internal/services"
)

// ConversationHandler 封装了会话相关的 HTTP 处理器方法。
type ConversationHandler struct {
	convoService   services.ConversationService
	messageService services.MessageService // 用于获取会话消息
	pageCfg        config.PaginationConfig
	log            *zap.Logger
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService, messageService services.MessageService, pageCfg config.PaginationConfig, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		convoService:   convoService,
		messageService: messageService,
		pageCfg:        pageCfg,
		log:            log.Named("conversation_handler"),
	}
}

// CreatePrivateRequest 是发起私聊的请求体。
type CreatePrivateRequest struct {
	UserID uint `json:"userId"`
}

// ListConversations 获取当前用户的会话列表，按最后消息时间倒序。
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.ConversationPageSize)
	summaries, err := h.convoService.ListForUser(r.Context(), userID, page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summaries)
}

// CreatePrivate 查找或创建与指定用户的私聊会话。
func (h *ConversationHandler) CreatePrivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	var req CreatePrivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if req.UserID == 0 {
		writeError(w, h.log, r, apperr.InvalidArgument("userId is required"))
		return
	}
	conv, err := h.convoService.FindOrCreate(r.Context(), userID, req.UserID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	summary, err := h.convoService.GetConversation(r.Context(), conv.ID, userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// GetConversation 返回单个会话，仅参与者可见。
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	summary, err := h.convoService.GetConversation(r.Context(), convID, userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

// MarkRead 把会话标记为已读。
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.convoService.MarkRead(r.Context(), convID, userID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConversation 对当前用户隐藏会话，双方都删除后会话失效。
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.convoService.SoftDelete(r.Context(), convID, userID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages 分页返回会话中的消息（正序），并把收到的消息标记为已读。
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	convID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.MessagePageSize)
	msgs, err := h.messageService.FetchConversationMessages(r.Context(), convID, userID, page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"im-chat/internal/config"
	"im-chat/internal/services"
)

// MessageHandler handles sending messages and reading threads over REST.
type MessageHandler struct {
	messageService services.MessageService
	pageCfg        config.PaginationConfig
	log            *zap.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messageService services.MessageService, pageCfg config.PaginationConfig, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messageService: messageService, pageCfg: pageCfg, log: log.Named("message_handler")}
}

// Send handles POST /api/v1/messages. Exactly one of recipientId and
// groupId must be set.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	var req services.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	view, err := h.messageService.Send(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// PrivateThread handles GET /api/v1/messages/private/{userID}.
func (h *MessageHandler) PrivateThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	otherID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.MessagePageSize)
	msgs, err := h.messageService.FetchPrivateThread(r.Context(), userID, otherID, page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// GroupThread handles GET /api/v1/messages/group/{groupID}.
func (h *MessageHandler) GroupThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.MessagePageSize)
	msgs, err := h.messageService.FetchGroupThread(r.Context(), groupID, userID, page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

package apiserver

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/services"
)

// FriendRequestHandler handles HTTP requests related to friend requests.
type FriendRequestHandler struct {
	friendService services.FriendRequestService
	log           *zap.Logger
}

// NewFriendRequestHandler creates a new FriendRequestHandler.
func NewFriendRequestHandler(fs services.FriendRequestService, log *zap.Logger) *FriendRequestHandler {
	return &FriendRequestHandler{friendService: fs, log: log.Named("friend_request_handler")}
}

// SendFriendRequestPayload defines the expected JSON body for sending a friend request.
type SendFriendRequestPayload struct {
	RecipientID uint   `json:"recipientId"`
	Message     string `json:"message,omitempty"`
}

// SendFriendRequest handles POST /api/v1/friend-requests. The request is
// persisted asynchronously, so success is 202.
func (h *FriendRequestHandler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	var payload SendFriendRequestPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if payload.RecipientID == 0 {
		writeError(w, h.log, r, apperr.InvalidArgument("recipientId is required"))
		return
	}
	if err := h.friendService.SendFriendRequest(r.Context(), requesterID, payload.RecipientID, payload.Message); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "friend request sent"})
}

// ListPending handles GET /api/v1/friend-requests/pending.
func (h *FriendRequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	requests, err := h.friendService.ListPendingRequests(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, requests)
}

// Accept handles POST /api/v1/friend-requests/{id}/accept.
func (h *FriendRequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friendService.AcceptFriendRequest, "friend request accepted")
}

// Reject handles POST /api/v1/friend-requests/{id}/reject.
func (h *FriendRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friendService.RejectFriendRequest, "friend request rejected")
}

func (h *FriendRequestHandler) respond(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, recipientID, requestID uint) error, done string) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	requestID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := fn(r.Context(), userID, requestID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": done})
}

// ListFriends handles GET /api/v1/friends.
func (h *FriendRequestHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	friends, err := h.friendService.GetFriendsList(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, friends)
}

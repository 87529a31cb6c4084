package apiserver

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"im-chat/internal/config"
	"im-chat/internal/services"
)

// UserHandler 封装了用户相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
	pageCfg     config.PaginationConfig
	log         *zap.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, pageCfg config.PaginationConfig, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, pageCfg: pageCfg, log: log.Named("user_handler")}
}

// GetMyProfile 处理获取当前登录用户信息的请求。
func (h *UserHandler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// UpdateMyProfile 更新当前用户的资料，只修改请求中出现的字段。
func (h *UserHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	var req services.UpdateProfileInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	user, err := h.userService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// ListUsers 返回除当前用户外的用户列表，?q= 按用户名或昵称过滤。
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.ConversationPageSize)
	users, err := h.userService.ListUsers(r.Context(), userID, strings.TrimSpace(r.URL.Query().Get("q")), page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, users)
}

// GetUser 返回指定用户的公开信息。
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r, h.log); !ok {
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	info, err := h.userService.GetBasicInfo(r.Context(), targetID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, info)
}

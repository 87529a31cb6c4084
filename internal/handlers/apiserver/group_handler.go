package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
	"im-chat/internal/services"
)

// GroupHandler 封装了群组相关的 HTTP 处理器方法。
type GroupHandler struct {
	groupService services.GroupService
	pageCfg      config.PaginationConfig
	log          *zap.Logger
}

// NewGroupHandler 创建一个新的 GroupHandler 实例。
func NewGroupHandler(groupService services.GroupService, pageCfg config.PaginationConfig, log *zap.Logger) *GroupHandler {
	return &GroupHandler{groupService: groupService, pageCfg: pageCfg, log: log.Named("group_handler")}
}

// AddMembersRequest 是添加群成员的请求体。
type AddMembersRequest struct {
	UserIDs []uint `json:"userIds"`
}

// CreateGroup 处理创建新群组的请求，创建者成为 admin。
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	var req services.CreateGroupInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	group, err := h.groupService.CreateGroup(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	h.log.Info("group created", zap.Uint("groupId", group.ID), zap.Uint("adminId", userID), zap.Int("members", len(group.Members)))
	writeJSONResponse(w, http.StatusCreated, group)
}

// ListGroups 返回当前用户所在的群组，最近更新的在前。
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	page, pageSize := pagination(r, h.pageCfg, h.pageCfg.ConversationPageSize)
	groups, err := h.groupService.ListUserGroups(r.Context(), userID, page, pageSize)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, groups)
}

// GetGroup 获取群组详情，仅成员可见。
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	group, err := h.groupService.GetGroup(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// UpdateGroup 修改群名称、描述或头像（仅 admin）。
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req services.UpdateGroupInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	group, err := h.groupService.UpdateGroup(r.Context(), groupID, userID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// AddMembers 添加群成员（仅 admin）。
func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req AddMembersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, h.log, r, apperr.InvalidArgument("userIds is required"))
		return
	}
	group, err := h.groupService.AddMembers(r.Context(), groupID, userID, req.UserIDs)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// RemoveMember 移除群成员（仅 admin）。
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	group, err := h.groupService.RemoveMember(r.Context(), groupID, userID, targetID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// Leave 退出群组；admin 退出时转交给最早加入的成员，最后一人退出时解散群组。
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r, h.log)
	if !ok {
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	res, err := h.groupService.Leave(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if res.GroupDeleted {
		h.log.Info("group deleted after last member left", zap.Uint("groupId", groupID))
	}
	writeJSONResponse(w, http.StatusOK, res)
}

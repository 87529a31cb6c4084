package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/middleware"
	"im-chat/internal/services"
)

// AuthHandler 封装了认证相关的 HTTP 处理器方法。
type AuthHandler struct {
	authService services.AuthService
	log         *zap.Logger
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log.Named("auth_handler")}
}

// LoginRequest 是用户登录请求的结构体。
type LoginRequest struct {
	UsernameOrEmail string `json:"username"` // 可以是用户名或邮箱
	Password        string `json:"password"`
}

// RefreshRequest carries the refresh token of a previous login.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Register 处理用户注册请求。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}

	user, err := h.authService.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	h.log.Info("user registered", zap.Uint("userId", user.ID), zap.String("username", user.Username))
	writeJSONResponse(w, http.StatusCreated, user)
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if req.UsernameOrEmail == "" || req.Password == "" {
		writeError(w, h.log, r, apperr.InvalidArgument("username and password are required"))
		return
	}

	res, err := h.authService.Login(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindRateLimited {
			h.log.Warn("login rejected, account locked", zap.String("login", req.UsernameOrEmail))
		}
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	res, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

// Logout 将当前访问令牌加入黑名单。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.log, r, apperr.ErrInvalidToken)
		return
	}
	if err := h.authService.Logout(r.Context(), claims); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

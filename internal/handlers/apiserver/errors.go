package apiserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
	"im-chat/internal/middleware"
)

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 20

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Kind  apperr.Kind `json:"kind"`
	Error string      `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidArgument, apperr.KindInvalidTarget:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		// 头部已经发出，编码失败时无法再改写状态码
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError 把 err 映射为状态码和 {"kind","error"} 响应体。内部原因只写日志，不返回给客户端。
func writeError(w http.ResponseWriter, log *zap.Logger, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONResponse(w, status, ErrorResponse{Kind: kind, Error: apperr.PublicMessage(err)})
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidArgument("request body is empty")
		}
		return apperr.Wrap(apperr.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}

// pathID 读取路由中的正整数 ID。
func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.InvalidArgument("invalid " + name)
	}
	return uint(id), nil
}

// pagination 解析 ?page= 与 ?limit=，page 从 1 开始。
func pagination(r *http.Request, cfg config.PaginationConfig, def int) (page, pageSize int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	return page, cfg.PageSize(limit, def)
}

// currentUser 返回已认证的用户ID；路由未经过 AuthMiddleware 时写回 401。
func currentUser(w http.ResponseWriter, r *http.Request, log *zap.Logger) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, log, r, apperr.ErrInvalidToken)
	}
	return userID, ok
}

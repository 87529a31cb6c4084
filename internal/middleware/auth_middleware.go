package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// ClaimsKey 是用于在上下文中存储令牌声明的键。
const ClaimsKey contextKey = "claims"

// TokenVerifier 由 auth.JWTVerifier 实现。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware 验证 Bearer 访问令牌并将声明添加到上下文中。
func AuthMiddleware(verifier TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				WriteAuthError(w, apperr.Unauthorized("missing or malformed authorization header"))
				return
			}
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindStorage {
					log.Error("token verification failed", zap.Error(err))
				}
				WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// WriteAuthError writes err as a JSON 401 (503 for storage failures).
func WriteAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if apperr.KindOf(err) == apperr.KindStorage {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"kind":  string(apperr.KindOf(err)),
		"error": apperr.PublicMessage(err),
	})
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaimsFromContext 从上下文中获取令牌声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	claims, ok := GetClaimsFromContext(ctx)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

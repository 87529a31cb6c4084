package auth

import (
	"context"
	"time"
)

// TokenBlacklist 保存被吊销令牌的 jti。登出和刷新时写入，Verify 时查询。
// redis.TokenBlacklist 是生产实现；为 nil 时 JWTVerifier 不做吊销检查。
type TokenBlacklist interface {
	// Add 吊销 jti，记录保留到令牌原本的过期时间，之后令牌本身已失效。
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	// IsBlacklisted 报告 jti 是否已被吊销。存储不可用时返回 error，调用方按存储错误处理。
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"im-chat/internal/auth"
)

const blacklistKeyPrefix = "bl:jti:"

// TokenBlacklist 是 auth.TokenBlacklist 接口的 Redis 实现。
type TokenBlacklist struct {
	client redis.Cmdable
}

var _ auth.TokenBlacklist = (*TokenBlacklist)(nil)

// NewTokenBlacklist 创建一个新的 TokenBlacklist 实例。
func NewTokenBlacklist(client redis.Cmdable) *TokenBlacklist {
	return &TokenBlacklist{client: client}
}

func blacklistKey(jti string) string {
	return blacklistKeyPrefix + jti
}

// Add 将 jti 加入黑名单，过期时间为 Token 的原始过期时间点。已过期的 Token 无需加入。
func (b *TokenBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	ttl := time.Until(originalTokenExpTime)
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, blacklistKey(jti), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("添加到 Redis 黑名单失败 for JTI %s: %w", jti, err)
	}
	return nil
}

// IsBlacklisted 检查 jti 是否在黑名单中。
func (b *TokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	err := b.client.Get(ctx, blacklistKey(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("从 Redis 黑名单检查失败 for JTI %s: %w", jti, err)
	}
	return true, nil
}

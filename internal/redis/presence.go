package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:user:"

// PresenceRegistry 记录每个用户当前打开的连接数，跨 chatserver 进程共享。
// 计数键带 TTL，进程崩溃后残留的计数会自动过期。
type PresenceRegistry struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewPresenceRegistry creates a registry whose counters expire after ttl
// without a refresh.
func NewPresenceRegistry(client redis.Cmdable, ttl time.Duration) *PresenceRegistry {
	return &PresenceRegistry{client: client, ttl: ttl}
}

func presenceKey(userID uint) string {
	return presenceKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// Connect increments the user's session count. first is true when this is
// the user's only open session.
func (p *PresenceRegistry) Connect(ctx context.Context, userID uint) (first bool, err error) {
	key := presenceKey(userID)
	pipe := p.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence connect user %d: %w", userID, err)
	}
	return incr.Val() == 1, nil
}

// Disconnect decrements the user's session count. last is true when no
// session remains.
func (p *PresenceRegistry) Disconnect(ctx context.Context, userID uint) (last bool, err error) {
	key := presenceKey(userID)
	n, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("presence disconnect user %d: %w", userID, err)
	}
	if n <= 0 {
		if err := p.client.Del(ctx, key).Err(); err != nil {
			return true, fmt.Errorf("presence cleanup user %d: %w", userID, err)
		}
		return true, nil
	}
	return false, nil
}

// Refresh extends the counter TTL while the user keeps a session open.
func (p *PresenceRegistry) Refresh(ctx context.Context, userID uint) error {
	return p.client.Expire(ctx, presenceKey(userID), p.ttl).Err()
}

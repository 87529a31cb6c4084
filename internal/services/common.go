package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// EventPublisher 将实时事件投递到一个频道（user:<id>、group:<id> 等）。
// chatserver 中由 websocket.Hub 实现，apiserver 中由 kafka.EventBridge 实现。
type EventPublisher interface {
	Publish(ctx context.Context, channel string, evt imtypes.Event) error
}

// PublisherFunc adapts a function, such as websocket.Hub.Emit, to EventPublisher.
type PublisherFunc func(ctx context.Context, channel string, evt imtypes.Event) error

func (f PublisherFunc) Publish(ctx context.Context, channel string, evt imtypes.Event) error {
	return f(ctx, channel, evt)
}

// Cipher seals and opens message content.
type Cipher interface {
	Seal(plaintext string) (models.SealedContent, error)
	Open(sealed models.SealedContent) (string, error)
}

// LogPublisher 仅记录事件，用于没有实时通道的部署（例如 Kafka 被禁用的 apiserver）。
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, channel string, evt imtypes.Event) error {
	p.log.Debug("event dropped, no realtime transport", zap.String("channel", channel), zap.String("event", evt.Event))
	return nil
}

// core 汇集各服务共用的依赖：数据库、日志、事件发布和操作超时。
type core struct {
	db        *gorm.DB
	log       *zap.Logger
	publisher EventPublisher
	opTimeout time.Duration
}

func newCore(db *gorm.DB, publisher EventPublisher, opTimeout time.Duration, log *zap.Logger) core {
	if publisher == nil {
		publisher = NewLogPublisher(log)
	}
	return core{db: db, log: log, publisher: publisher, opTimeout: opTimeout}
}

// opCtx bounds one service operation by the configured storage timeout.
func (c *core) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return storage.WithTimeout(ctx, c.opTimeout)
}

// transaction runs fn in a database transaction. Errors that are already
// *apperr.Error pass through; anything else becomes a storage error.
func (c *core) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := c.db.WithContext(ctx).Transaction(fn); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// publish delivers an event after the state change is committed. Delivery is
// best effort: clients reconcile from the persisted state.
func (c *core) publish(ctx context.Context, channel string, name string, data any) {
	if err := c.publisher.Publish(ctx, channel, imtypes.NewEvent(name, data)); err != nil {
		c.log.Warn("publish event failed",
			zap.String("channel", channel),
			zap.String("event", name),
			zap.Error(err))
	}
}

// lookupErr maps a repository lookup error: record-not-found becomes
// notFound, everything else a storage error.
func lookupErr(op string, err error, notFound error) error {
	if storage.IsNotFound(err) {
		return notFound
	}
	return apperr.Storage(op, err)
}

// uniqueIDs drops zeros and duplicates, keeping first-seen order.
func uniqueIDs(ids ...uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// pageBounds converts a 1-based page into limit/offset.
func pageBounds(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

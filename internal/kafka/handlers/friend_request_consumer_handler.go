package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"im-chat/internal/apperr"
	"im-chat/internal/services"
)

// FriendRequestProcessor 是消费端需要的服务能力，由 services.FriendRequestService 实现。
type FriendRequestProcessor interface {
	ProcessFriendRequest(ctx context.Context, evt services.FriendRequestEvent) error
}

// FriendRequestConsumerLogic 处理好友请求 topic 中的消息。
type FriendRequestConsumerLogic struct {
	friendService FriendRequestProcessor
	log           *zap.Logger
}

// NewFriendRequestConsumerLogic creates a new instance of FriendRequestConsumerLogic.
func NewFriendRequestConsumerLogic(fs FriendRequestProcessor, log *zap.Logger) *FriendRequestConsumerLogic {
	return &FriendRequestConsumerLogic{friendService: fs, log: log.Named("friend_request_consumer")}
}

// HandleFriendRequest is the kafka.MessageHandler of the friend request topic.
// Malformed events and business rejections are committed and skipped; only
// retryable storage failures are returned, so the consumer retries and then
// redelivers the message.
func (h *FriendRequestConsumerLogic) HandleFriendRequest(ctx context.Context, msg *kafka.Message) error {
	log := h.log.With(zap.String("key", string(msg.Key)), zap.String("offset", msg.TopicPartition.Offset.String()))

	var evt services.FriendRequestEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		log.Warn("skipping malformed friend request", zap.Error(err), zap.ByteString("value", msg.Value))
		return nil
	}

	err := h.friendService.ProcessFriendRequest(ctx, evt)
	switch {
	case err == nil:
		log.Debug("friend request processed", zap.Uint("senderId", evt.SenderID), zap.Uint("recipientId", evt.RecipientID))
		return nil
	case apperr.IsRetryable(err):
		log.Error("friend request processing failed, will retry", zap.Error(err))
		return err
	default:
		log.Info("friend request rejected",
			zap.Uint("senderId", evt.SenderID),
			zap.Uint("recipientId", evt.RecipientID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil
	}
}

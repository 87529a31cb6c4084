package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"im-chat/internal/config"
)

// MessageHandler processes one consumed message. A nil return commits the
// offset. An error is retried in place; when the retries are used up the
// consumer seeks back to the message so it is polled again.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// RetryPolicy bounds the in-place retries of a failing handler.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration // 每次重试后翻倍
}

// handle runs handler on msg, retrying up to p.Retries more times. It returns
// the last error, or ctx.Err() if ctx ends while waiting.
func (p RetryPolicy) handle(ctx context.Context, handler MessageHandler, msg *kafka.Message, log *zap.Logger) error {
	backoff := p.Backoff
	for attempt := 0; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil || attempt >= p.Retries {
			return err
		}
		log.Warn("handler failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	retry    RetryPolicy
	groupID  string
	log      *zap.Logger
}

// NewConfluentKafkaConsumer creates a consumer; the underlying client is
// created by Consume once the group ID is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, log *zap.Logger) MessageConsumer {
	return &confluentKafkaConsumer{
		cfg:   cfg,
		retry: RetryPolicy{Retries: cfg.HandlerRetries, Backoff: cfg.HandlerBackoff},
		log:   log.Named("kafka.consumer"),
	}
}

// Consume blocks until ctx is canceled or a fatal Kafka error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID
	log := c.log.With(zap.String("group", groupID), zap.Strings("topics", topics))

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": "false", // 处理成功后手动提交
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log.Info("Kafka consumer started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Kafka consumer loop finished")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			msgLog := log.With(zap.String("topic", *e.TopicPartition.Topic), zap.String("offset", e.TopicPartition.Offset.String()))
			if err := c.retry.handle(ctx, handler, e, msgLog); err != nil {
				if ctx.Err() != nil {
					log.Info("Kafka consumer loop finished")
					return nil
				}
				// 不提交，并回退到失败的 offset；否则后续消息的提交会越过它
				msgLog.Error("error processing Kafka message, rewinding", zap.Error(err))
				if err := c.consumer.Seek(e.TopicPartition, 0); err != nil {
					msgLog.Error("failed to seek back to failed offset", zap.Error(err))
				}
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				msgLog.Error("failed to commit offset", zap.Error(err))
			}
		case kafka.Error:
			log.Error("Kafka consumer error",
				zap.Error(e),
				zap.Bool("fatal", e.IsFatal()),
				zap.Bool("retriable", e.IsRetriable()))
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Info("partitions assigned", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Info("partitions revoked", zap.Int("count", len(e.Partitions)))
			_ = c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.log.Error("error closing Kafka consumer", zap.String("group", c.groupID), zap.Error(err))
	} else {
		c.log.Info("Kafka consumer closed", zap.String("group", c.groupID))
	}
	c.consumer = nil
}

package kafkahandlers

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"im-chat/internal/apperr"
	"im-chat/internal/services"
)

type stubProcessor struct {
	got []services.FriendRequestEvent
	err error
}

func (s *stubProcessor) ProcessFriendRequest(_ context.Context, evt services.FriendRequestEvent) error {
	s.got = append(s.got, evt)
	return s.err
}

func message(value string) *kafka.Message {
	topic := "im-friend-request"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Offset: 7},
		Key:            []byte("1-2"),
		Value:          []byte(value),
	}
}

func TestHandleFriendRequest(t *testing.T) {
	ctx := context.Background()
	stub := &stubProcessor{}
	h := NewFriendRequestConsumerLogic(stub, zaptest.NewLogger(t))

	require.NoError(t, h.HandleFriendRequest(ctx, message(`{"senderId":1,"recipientId":2,"message":"hi"}`)))
	require.Len(t, stub.got, 1)
	assert.Equal(t, uint(1), stub.got[0].SenderID)
	assert.Equal(t, "hi", stub.got[0].Message)

	// 格式错误的消息被跳过
	require.NoError(t, h.HandleFriendRequest(ctx, message(`not json`)))
	assert.Len(t, stub.got, 1)

	stub.err = apperr.ErrAlreadyFriends
	assert.NoError(t, h.HandleFriendRequest(ctx, message(`{"senderId":1,"recipientId":2}`)))

	stub.err = apperr.Storage("create friend request", errors.New("connection refused"))
	assert.Error(t, h.HandleFriendRequest(ctx, message(`{"senderId":1,"recipientId":2}`)))
}

package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/kafka"
	"im-chat/internal/kafka/mocks"
	"im-chat/internal/storage"
)

func newFriendService(t *testing.T, f *fixture, producer kafka.MessageProducer) FriendRequestService {
	t.Helper()
	return NewFriendRequestService(
		f.db,
		f.users,
		storage.NewGormFriendRequestRepository(f.db),
		storage.NewGormFriendshipRepository(f.db),
		f.convs,
		producer,
		"friend-requests",
		f.pub,
		testTimeout,
		zaptest.NewLogger(t),
	)
}

func TestSendFriendRequest_PublishesToKafka(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")

	ctrl := gomock.NewController(t)
	producer := mocks.NewMockMessageProducer(ctrl)
	var payload []byte
	producer.EXPECT().
		SendMessage(gomock.Any(), "friend-requests", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ []byte, p []byte) error {
			payload = p
			return nil
		})

	svc := newFriendService(t, f, producer)
	require.NoError(t, svc.SendFriendRequest(ctx, a.ID, b.ID, " hello "))

	var evt FriendRequestEvent
	require.NoError(t, json.Unmarshal(payload, &evt))
	assert.Equal(t, a.ID, evt.SenderID)
	assert.Equal(t, b.ID, evt.RecipientID)
	assert.Equal(t, "hello", evt.Message)

	assert.ErrorIs(t, svc.SendFriendRequest(ctx, a.ID, a.ID, ""), apperr.ErrFriendRequestSelf)
	assert.ErrorIs(t, svc.SendFriendRequest(ctx, a.ID, 4040, ""), apperr.ErrUserNotFound)
}

func TestFriendRequest_AcceptFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	svc := newFriendService(t, f, nil)

	require.NoError(t, svc.SendFriendRequest(ctx, a.ID, b.ID, "hi bob"))
	assert.ErrorIs(t, svc.SendFriendRequest(ctx, a.ID, b.ID, ""), apperr.ErrFriendRequestExists)
	assert.Len(t, f.pub.on(imtypes.UserChannel(b.ID), imtypes.EventFriendRequest), 1)

	pending, err := svc.ListPendingRequests(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Sender)
	assert.Equal(t, "alice", pending[0].Sender.Username)
	reqID := pending[0].ID

	assert.ErrorIs(t, svc.AcceptFriendRequest(ctx, c.ID, reqID), apperr.ErrNotRequestRecipient)
	require.NoError(t, svc.AcceptFriendRequest(ctx, b.ID, reqID))
	assert.ErrorIs(t, svc.AcceptFriendRequest(ctx, b.ID, reqID), apperr.ErrRequestNotPending)

	friends, err := svc.GetFriendsList(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, b.ID, friends[0].ID)

	accepted := f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventFriendRequestAccepted)
	require.Len(t, accepted, 1)
	data := accepted[0].Data.(FriendRequestAcceptedData)
	conv, err := f.convs.FindOrCreate(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, data.ConversationID)

	assert.ErrorIs(t, svc.SendFriendRequest(ctx, b.ID, a.ID, ""), apperr.ErrAlreadyFriends)
}

func TestFriendRequest_RejectAllowsResend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	svc := newFriendService(t, f, nil)

	require.NoError(t, svc.SendFriendRequest(ctx, a.ID, b.ID, ""))
	pending, err := svc.ListPendingRequests(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, svc.RejectFriendRequest(ctx, b.ID, pending[0].ID))
	assert.ErrorIs(t, svc.RejectFriendRequest(ctx, b.ID, 999), apperr.ErrFriendRequestNotFound)

	require.NoError(t, svc.SendFriendRequest(ctx, a.ID, b.ID, "again"))
}

func TestProcessFriendRequest_RejectsMalformedEvent(t *testing.T) {
	f := newFixture(t)
	svc := newFriendService(t, f, nil)
	err := svc.ProcessFriendRequest(context.Background(), FriendRequestEvent{SenderID: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendFriendRequest_ConcurrentInlineSendsStoreOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	svc := newFriendService(t, f, nil)

	const senders = 6
	errs := make([]error, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.SendFriendRequest(ctx, a.ID, b.ID, "hi")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrFriendRequestExists)
	}
	assert.Equal(t, 1, ok)

	pending, err := svc.ListPendingRequests(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

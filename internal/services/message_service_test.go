package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
)

func TestSend_TargetExclusivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "g", MemberIDs: []uint{b.ID}})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), GroupID: uintPtr(g.ID), Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget)
	_, err = f.msgs.Send(ctx, a.ID, SendRequest{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget)
	_, err = f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "   "})
	assert.ErrorIs(t, err, apperr.ErrEmptyContent)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSend_GroupRequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "g"})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, b.ID, SendRequest{GroupID: uintPtr(g.ID), Content: "let me in"})
	assert.ErrorIs(t, err, apperr.ErrNotMember)
	_, err = f.msgs.Send(ctx, b.ID, SendRequest{GroupID: uintPtr(9999), Content: "hello"})
	assert.ErrorIs(t, err, apperr.ErrGroupNotFound)
}

func TestPrivateThread_SendFetchAndReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conv, err := f.convs.FindOrCreate(ctx, a.ID, b.ID)
	require.NoError(t, err)

	sent, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "hi", ClientMsgID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, sent.Status)
	assert.Equal(t, "c-1", sent.ClientMsgID)
	require.NotNil(t, sent.ConversationID)
	assert.Equal(t, conv.ID, *sent.ConversationID)
	assert.Len(t, f.pub.on(imtypes.UserChannel(b.ID), imtypes.EventMessageReceived), 1)
	assert.Len(t, f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventMessageReceived), 1)

	stored, err := f.msgRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Content.Ciphertext, "hi")
	assert.Len(t, stored.Content.Nonce, 32)
	assert.Len(t, stored.Content.Tag, 32)

	thread, err := f.msgs.FetchPrivateThread(ctx, b.ID, a.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "hi", thread[0].Content)
	assert.Equal(t, models.StatusRead, thread[0].Status)
	assert.NotNil(t, thread[0].DeliveredAt)
	assert.NotNil(t, thread[0].ReadAt)

	afterFirst, err := f.msgRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	require.NotNil(t, afterFirst.ReadAt)

	// 第二次拉取不再改变状态
	_, err = f.msgs.FetchPrivateThread(ctx, b.ID, a.ID, 1, 50)
	require.NoError(t, err)
	afterSecond, err := f.msgRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, afterFirst.ReadAt.Equal(*afterSecond.ReadAt))
	assert.Len(t, f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventMessagesRead), 1)

	senderView, err := f.msgs.FetchPrivateThread(ctx, a.ID, b.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, senderView, 1)
	assert.Equal(t, models.StatusRead, senderView[0].Status)
}

func TestPrivateThread_ChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: text})
		require.NoError(t, err)
	}

	thread, err := f.msgs.FetchPrivateThread(ctx, a.ID, b.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "one", thread[0].Content)
	assert.Equal(t, "three", thread[2].Content)
	// 发送者拉取不改变状态
	assert.Equal(t, models.StatusSent, thread[0].Status)

	page, err := f.msgs.FetchPrivateThread(ctx, a.ID, b.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)
}

func TestFetch_DecryptionFailureIsFailSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	first, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "intact"})
	require.NoError(t, err)
	second, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "tampered"})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Message{}).Where("id = ?", second.ID).
		Update("content_tag", strings.Repeat("0", 32)).Error)

	thread, err := f.msgs.FetchPrivateThread(ctx, b.ID, a.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, first.ID, thread[0].ID)
	assert.Equal(t, "intact", thread[0].Content)
	assert.False(t, thread[0].Unreadable)
	assert.True(t, thread[1].Unreadable)
	assert.Equal(t, UnreadablePlaceholder, thread[1].Content)
}

func TestGroupThread_ReadByTracksReaders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c, outsider := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol"), f.user(t, "dave")
	g, err := f.groups.CreateGroup(ctx, a.ID, CreateGroupInput{Name: "abc", MemberIDs: []uint{b.ID, c.ID}})
	require.NoError(t, err)

	sent, err := f.msgs.Send(ctx, a.ID, SendRequest{GroupID: uintPtr(g.ID), Content: "hello group"})
	require.NoError(t, err)
	require.Len(t, sent.ReadBy, 1)
	assert.Equal(t, a.ID, sent.ReadBy[0].UserID)
	assert.Len(t, f.pub.on(imtypes.GroupChannel(g.ID), imtypes.EventMessageReceived), 1)

	_, err = f.msgs.FetchGroupThread(ctx, g.ID, outsider.ID, 1, 50)
	assert.ErrorIs(t, err, apperr.ErrNotMember)

	thread, err := f.msgs.FetchGroupThread(ctx, g.ID, b.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "hello group", thread[0].Content)

	// 重复拉取不产生重复回执
	_, err = f.msgs.FetchGroupThread(ctx, g.ID, b.ID, 1, 50)
	require.NoError(t, err)

	stored, err := f.msgRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	readers := map[uint]int{}
	for _, r := range stored.ReadBy {
		readers[r.UserID]++
	}
	assert.Equal(t, map[uint]int{a.ID: 1, b.ID: 1}, readers)
	assert.Len(t, f.pub.on(imtypes.GroupChannel(g.ID), imtypes.EventMessagesRead), 1)

	refreshed, err := f.groupRep.GetGroupByID(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastMessageID)
	assert.Equal(t, sent.ID, *refreshed.LastMessageID)
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	sent, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "ping"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.msgs.MarkDelivered(ctx, sent.ID, a.ID), apperr.ErrNotParticipant)
	assert.ErrorIs(t, f.msgs.MarkDelivered(ctx, 12345, b.ID), apperr.ErrMessageNotFound)

	require.NoError(t, f.msgs.MarkDelivered(ctx, sent.ID, b.ID))
	require.NoError(t, f.msgs.MarkDelivered(ctx, sent.ID, b.ID))
	assert.Len(t, f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventMessageDelivered), 1)

	stored, err := f.msgRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
}

func TestFetchConversationMessages_RequiresParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	sent, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "secret"})
	require.NoError(t, err)

	_, err = f.msgs.FetchConversationMessages(ctx, *sent.ConversationID, c.ID, 1, 50)
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	msgs, err := f.msgs.FetchConversationMessages(ctx, *sent.ConversationID, b.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestReadPrivate_ConcurrentReaderKeepsStoredReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	first, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "one"})
	require.NoError(t, err)
	second, err := f.msgs.Send(ctx, a.ID, SendRequest{RecipientID: uintPtr(b.ID), Content: "two"})
	require.NoError(t, err)

	// 两次拉取都读到了未读状态，其中一次先把 first 推进为已读
	stale, err := f.msgRepo.GetByIDs(ctx, []uint{first.ID, second.ID})
	require.NoError(t, err)
	earlier := time.Now().Add(-time.Minute)
	marked, err := f.msgRepo.MarkPrivateRead(ctx, b.ID, []uint{first.ID}, earlier)
	require.NoError(t, err)
	require.Equal(t, []uint{first.ID}, marked)

	views, err := f.msgs.(*messageService).readPrivate(ctx, b.ID, stale)
	require.NoError(t, err)
	require.Len(t, views, 2)

	for _, v := range views {
		stored, err := f.msgRepo.GetByID(ctx, v.ID)
		require.NoError(t, err)
		require.NotNil(t, v.ReadAt)
		require.NotNil(t, stored.ReadAt)
		assert.WithinDuration(t, *stored.ReadAt, *v.ReadAt, time.Millisecond, "message %d", v.ID)
	}

	events := f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventMessagesRead)
	require.Len(t, events, 1)
	assert.Equal(t, []uint{second.ID}, events[0].Data.(ReadReceiptData).MessageIDs)

	// 全部已被其他拉取推进时不再通知
	stale, err = f.msgRepo.GetByIDs(ctx, []uint{first.ID})
	require.NoError(t, err)
	stale[0].Status = models.StatusSent
	_, err = f.msgs.(*messageService).readPrivate(ctx, b.ID, stale)
	require.NoError(t, err)
	assert.Len(t, f.pub.on(imtypes.UserChannel(a.ID), imtypes.EventMessagesRead), 1)
	assert.Equal(t, models.StatusRead, stale[0].Status)
}

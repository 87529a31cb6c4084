package storage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-chat/internal/models"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

func createUser(t *testing.T, repo storage.UserRepository, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Status: models.UserOffline}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func TestIsDuplicateKey(t *testing.T) {
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	createUser(t, users, "alice")

	err := users.Create(context.Background(), &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
	require.Error(t, err)
	assert.True(t, storage.IsDuplicateKey(err))

	assert.False(t, storage.IsDuplicateKey(nil))
	assert.False(t, storage.IsDuplicateKey(errors.New("boom")))
	assert.True(t, storage.IsDuplicateKey(fmt.Errorf("wrapped: %w", gorm.ErrDuplicatedKey)))
}

func TestUserRepository_LoginBookkeeping(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	u := createUser(t, users, "bob")

	now := time.Now()
	require.NoError(t, users.RecordFailedLogin(ctx, u.ID, now))
	require.NoError(t, users.RecordFailedLogin(ctx, u.ID, now))

	got, err := users.GetByLogin(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedLoginAttempts)
	require.NotNil(t, got.LastFailedLoginAt)

	require.NoError(t, users.RecordSuccessfulLogin(ctx, u.ID, now))
	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LastFailedLoginAt)
	assert.NotNil(t, got.LastSeenAt)
}

func TestUserRepository_ListUsers(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	me := createUser(t, users, "me")
	createUser(t, users, "carol")
	createUser(t, users, "caroline")
	createUser(t, users, "dave")

	all, err := users.ListUsers(ctx, me.ID, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := users.ListUsers(ctx, me.ID, "CAROL", 0, 0)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	n, err := users.CountExisting(ctx, []uint{me.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConversationRepository_PairAndHide(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	convs := storage.NewGormConversationRepository(db)
	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	now := time.Now()
	conv := models.NewConversation(b.ID, a.ID, now)
	conv.Participants = []models.ConversationParticipant{
		{UserID: a.ID, JoinedAt: now},
		{UserID: b.ID, JoinedAt: now},
	}
	require.NoError(t, convs.Create(ctx, conv))
	assert.Equal(t, a.ID, conv.User1ID)

	dup := models.NewConversation(a.ID, b.ID, now)
	err := convs.Create(ctx, dup)
	assert.True(t, storage.IsDuplicateKey(err))

	found, err := convs.FindActiveByPair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)
	assert.Len(t, found.Participants, 2)

	require.NoError(t, convs.Hide(ctx, conv.ID, a.ID, now))
	list, err := convs.ListForUser(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = convs.ListForUser(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, convs.Hide(ctx, conv.ID, b.ID, now))
	hidden, err := convs.CountHidden(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hidden)

	require.NoError(t, convs.Deactivate(ctx, conv.ID))
	_, err = convs.FindActiveByPair(ctx, a.ID, b.ID)
	assert.True(t, storage.IsNotFound(err))

	// pair key 已释放，可以重新建立会话
	again := models.NewConversation(a.ID, b.ID, now)
	require.NoError(t, convs.Create(ctx, again))
	assert.NotEqual(t, conv.ID, again.ID)
}

func TestGroupRepository_Members(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	groups := storage.NewGormGroupRepository(db)
	a := createUser(t, users, "a")
	b := createUser(t, users, "b")
	c := createUser(t, users, "c")

	now := time.Now()
	g := &models.Group{Name: "g", AdminID: a.ID, Members: []models.GroupMember{{UserID: a.ID, JoinedAt: now}}}
	require.NoError(t, groups.CreateGroup(ctx, g))

	require.NoError(t, groups.AddMembers(ctx, g.ID, []uint{b.ID, c.ID}, now))
	require.NoError(t, groups.AddMembers(ctx, g.ID, []uint{a.ID, b.ID}, now))

	loaded, err := groups.GetGroupByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID, c.ID}, loaded.MemberIDs())

	ok, err := groups.IsMember(ctx, g.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, groups.RemoveMember(ctx, g.ID, b.ID))
	loaded, err = groups.GetGroupForUpdate(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, c.ID}, loaded.MemberIDs())

	ids, err := groups.GetUserGroupIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{g.ID}, ids)
}

func TestMessageRepository_Receipts(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	users := storage.NewGormUserRepository(db)
	messages := storage.NewGormMessageRepository(db)
	a := createUser(t, users, "a")
	b := createUser(t, users, "b")

	sealed := models.SealedContent{Ciphertext: "00", Nonce: "00", Tag: "00"}
	msg := &models.Message{SenderID: a.ID, MessageType: models.PrivateMessage, RecipientID: &b.ID, Content: sealed, Status: models.StatusSent}
	require.NoError(t, messages.Create(ctx, msg))

	now := time.Now()
	marked, err := messages.MarkPrivateRead(ctx, a.ID, []uint{msg.ID}, now)
	require.NoError(t, err)
	assert.Empty(t, marked, "sender cannot mark own message read")

	marked, err = messages.MarkPrivateRead(ctx, b.ID, []uint{msg.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, []uint{msg.ID}, marked)

	marked, err = messages.MarkPrivateRead(ctx, b.ID, []uint{msg.ID}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, marked)

	got, err := messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.ReadAt)
	assert.WithinDuration(t, now, *got.ReadAt, time.Second)

	list, err := messages.ListPrivateBetween(ctx, b.ID, a.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMessageRepository_GroupReceiptsIgnoreDuplicates(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	messages := storage.NewGormMessageRepository(db)

	gid := uint(7)
	msg := &models.Message{SenderID: 1, MessageType: models.GroupMessage, GroupID: &gid, Content: models.SealedContent{Ciphertext: "00", Nonce: "00", Tag: "00"}}
	require.NoError(t, messages.Create(ctx, msg))

	now := time.Now()
	require.NoError(t, messages.AddReceipts(ctx, []models.MessageReceipt{{MessageID: msg.ID, UserID: 1, ReadAt: now}}))
	require.NoError(t, messages.AddReceipts(ctx, []models.MessageReceipt{
		{MessageID: msg.ID, UserID: 1, ReadAt: now},
		{MessageID: msg.ID, UserID: 2, ReadAt: now},
	}))

	list, err := messages.ListByGroup(ctx, gid, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].ReadBy, 2)
	assert.True(t, list[0].ReadByUser(2))
	assert.False(t, list[0].ReadByUser(3))
}

func TestFriendRequestRepository_OneOpenRequestPerDirection(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	requests := storage.NewGormFriendRequestRepository(db)

	pending := func(sender, recipient uint) *models.FriendRequest {
		return &models.FriendRequest{SenderID: sender, RecipientID: recipient, Status: models.FriendRequestPending}
	}

	first := pending(1, 2)
	require.NoError(t, requests.Create(ctx, first))
	err := requests.Create(ctx, pending(1, 2))
	require.Error(t, err)
	assert.True(t, storage.IsDuplicateKey(err))

	// 方向不同的请求互不影响
	require.NoError(t, requests.Create(ctx, pending(2, 1)))

	open, err := requests.FindOpen(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	n, err := requests.Respond(ctx, first.ID, models.FriendRequestRejected, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = requests.FindOpen(ctx, 1, 2)
	assert.True(t, storage.IsNotFound(err))

	again := pending(1, 2)
	require.NoError(t, requests.Create(ctx, again))
	n, err = requests.Respond(ctx, again.ID, models.FriendRequestAccepted, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	err = requests.Create(ctx, pending(1, 2))
	assert.True(t, storage.IsDuplicateKey(err))
}

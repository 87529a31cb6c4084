package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"im-chat/internal/crypto"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

const testTimeout = 5 * time.Second

type published struct {
	channel string
	evt     imtypes.Event
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, evt imtypes.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, evt: evt})
	return nil
}

func (p *recordingPublisher) on(channel, name string) []imtypes.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []imtypes.Event
	for _, e := range p.events {
		if e.channel == channel && e.evt.Event == name {
			out = append(out, e.evt)
		}
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	pub      *recordingPublisher
	users    storage.UserRepository
	convRepo storage.ConversationRepository
	groupRep storage.GroupRepository
	msgRepo  storage.MessageRepository
	convs    ConversationService
	groups   GroupService
	msgs     MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	db := storagetest.Open(t)
	cipher, err := crypto.NewMessageCipher("unit test passphrase")
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		pub:      &recordingPublisher{},
		users:    storage.NewGormUserRepository(db),
		convRepo: storage.NewGormConversationRepository(db),
		groupRep: storage.NewGormGroupRepository(db),
		msgRepo:  storage.NewGormMessageRepository(db),
	}
	f.convs = NewConversationService(db, f.convRepo, f.users, f.msgRepo, cipher, f.pub, testTimeout, log)
	f.groups = NewGroupService(db, f.groupRep, f.users, f.pub, testTimeout, log)
	f.msgs = NewMessageService(db, f.msgRepo, f.groupRep, f.convs, cipher, f.pub, testTimeout, log)
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Status: models.UserOffline}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func uintPtr(v uint) *uint { return &v }

package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/access"
	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// maxFindOrCreateAttempts bounds the lookup/insert retries of FindOrCreate.
const maxFindOrCreateAttempts = 3

// ConversationService 定义了私聊会话相关服务的接口。
type ConversationService interface {
	// FindOrCreate 返回两个用户之间唯一的有效会话，并发调用收敛到同一条记录。
	FindOrCreate(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID uint, page, pageSize int) ([]*ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID, viewerID uint) (*ConversationSummary, error)
	// Authorize 加载会话并校验 viewer 是参与者
	Authorize(ctx context.Context, conversationID, viewerID uint) (*models.Conversation, error)
	MarkRead(ctx context.Context, conversationID, viewerID uint) error
	// SoftDelete 对 viewer 隐藏会话；两个参与者都删除后会话失效。幂等。
	SoftDelete(ctx context.Context, conversationID, viewerID uint) error
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	core
	convRepo storage.ConversationRepository
	userRepo storage.UserRepository
	msgRepo  storage.MessageRepository
	views    viewBuilder
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	db *gorm.DB,
	convRepo storage.ConversationRepository,
	userRepo storage.UserRepository,
	msgRepo storage.MessageRepository,
	cipher Cipher,
	publisher EventPublisher,
	opTimeout time.Duration,
	log *zap.Logger,
) ConversationService {
	log = log.Named("conversation_service")
	return &conversationService{
		core:     newCore(db, publisher, opTimeout, log),
		convRepo: convRepo,
		userRepo: userRepo,
		msgRepo:  msgRepo,
		views:    viewBuilder{cipher: cipher, log: log},
	}
}

func (s *conversationService) FindOrCreate(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	if userA == userB {
		return nil, apperr.ErrSelfConversation
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.userRepo.CountExisting(ctx, []uint{userA, userB})
	if err != nil {
		return nil, apperr.Storage("check conversation users", err)
	}
	if n < 2 {
		return nil, apperr.ErrUserNotFound
	}

	for attempt := 1; attempt <= maxFindOrCreateAttempts; attempt++ {
		conv, err := s.convRepo.FindActiveByPair(ctx, userA, userB)
		if err == nil {
			return conv, nil
		}
		if !storage.IsNotFound(err) {
			return nil, apperr.Storage("find conversation", err)
		}

		now := time.Now()
		conv = models.NewConversation(userA, userB, now)
		conv.Participants = []models.ConversationParticipant{
			{UserID: conv.User1ID, JoinedAt: now},
			{UserID: conv.User2ID, JoinedAt: now},
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return storage.NewGormConversationRepository(tx).Create(ctx, conv)
		})
		if err == nil {
			s.log.Info("conversation created",
				zap.Uint("conversationId", conv.ID),
				zap.Uint("user1", conv.User1ID),
				zap.Uint("user2", conv.User2ID))
			return conv, nil
		}
		if !storage.IsDuplicateKey(err) {
			return nil, apperr.Storage("create conversation", err)
		}
		// 另一个请求抢先创建了会话，重新查找
		s.log.Debug("conversation create lost race, retrying", zap.Int("attempt", attempt))
	}
	return nil, apperr.Conflict("conversation is being created concurrently, retry")
}

func (s *conversationService) ListForUser(ctx context.Context, userID uint, page, pageSize int) ([]*ConversationSummary, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	limit, offset := pageBounds(page, pageSize)
	convs, err := s.convRepo.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list conversations", err)
	}
	if len(convs) == 0 {
		return []*ConversationSummary{}, nil
	}

	otherIDs := make([]uint, 0, len(convs))
	lastIDs := make([]uint, 0, len(convs))
	for _, c := range convs {
		otherIDs = append(otherIDs, access.OtherParticipant(c, userID))
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}
	users, err := s.basicInfoByID(ctx, otherIDs)
	if err != nil {
		return nil, err
	}
	lastMsgs, err := s.msgRepo.GetByIDs(ctx, lastIDs)
	if err != nil {
		return nil, apperr.Storage("load last messages", err)
	}
	byID := make(map[uint]*models.Message, len(lastMsgs))
	for _, m := range lastMsgs {
		byID[m.ID] = m
	}

	out := make([]*ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary, err := s.summarize(ctx, c, userID, users, byID)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *conversationService) GetConversation(ctx context.Context, conversationID, viewerID uint) (*ConversationSummary, error) {
	conv, err := s.Authorize(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	users, err := s.basicInfoByID(ctx, []uint{access.OtherParticipant(conv, viewerID)})
	if err != nil {
		return nil, err
	}
	byID := map[uint]*models.Message{}
	if conv.LastMessageID != nil {
		m, err := s.msgRepo.GetByID(ctx, *conv.LastMessageID)
		if err != nil && !storage.IsNotFound(err) {
			return nil, apperr.Storage("load last message", err)
		}
		if m != nil {
			byID[m.ID] = m
		}
	}
	return s.summarize(ctx, conv, viewerID, users, byID)
}

func (s *conversationService) Authorize(ctx context.Context, conversationID, viewerID uint) (*models.Conversation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, lookupErr("get conversation", err, apperr.ErrConversationNotFound)
	}
	if err := access.RequireParticipant(conv, viewerID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *conversationService) MarkRead(ctx context.Context, conversationID, viewerID uint) error {
	if _, err := s.Authorize(ctx, conversationID, viewerID); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.convRepo.MarkRead(ctx, conversationID, viewerID, time.Now()); err != nil {
		return apperr.Storage("mark conversation read", err)
	}
	return nil
}

func (s *conversationService) SoftDelete(ctx context.Context, conversationID, viewerID uint) error {
	if _, err := s.Authorize(ctx, conversationID, viewerID); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	deactivated := false
	err := s.transaction(ctx, "delete conversation", func(tx *gorm.DB) error {
		repo := storage.NewGormConversationRepository(tx)
		if err := repo.Hide(ctx, conversationID, viewerID, time.Now()); err != nil {
			return err
		}
		hidden, err := repo.CountHidden(ctx, conversationID)
		if err != nil {
			return err
		}
		if hidden < 2 {
			return nil
		}
		deactivated = true
		return repo.Deactivate(ctx, conversationID)
	})
	if err != nil {
		return err
	}
	s.log.Info("conversation deleted by participant",
		zap.Uint("conversationId", conversationID),
		zap.Uint("userId", viewerID),
		zap.Bool("deactivated", deactivated))
	return nil
}

func (s *conversationService) basicInfoByID(ctx context.Context, ids []uint) (map[uint]*models.UserBasicInfo, error) {
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, uniqueIDs(ids...))
	if err != nil {
		return nil, apperr.Storage("load users", err)
	}
	out := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, u := range infos {
		out[u.ID] = u
	}
	return out, nil
}

func (s *conversationService) summarize(
	ctx context.Context,
	c *models.Conversation,
	viewerID uint,
	users map[uint]*models.UserBasicInfo,
	lastMsgs map[uint]*models.Message,
) (*ConversationSummary, error) {
	summary := &ConversationSummary{
		ID:            c.ID,
		OtherUser:     users[access.OtherParticipant(c, viewerID)],
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
	if p := c.Participant(viewerID); p != nil {
		summary.LastReadAt = p.LastReadAt
	}
	if c.LastMessageID != nil {
		if m, ok := lastMsgs[*c.LastMessageID]; ok {
			summary.LastMessage = s.views.view(m)
		}
	}
	unread, err := s.msgRepo.CountUnread(ctx, c.ID, viewerID, summary.LastReadAt)
	if err != nil {
		return nil, apperr.Storage("count unread", err)
	}
	summary.UnreadCount = unread
	return summary, nil
}

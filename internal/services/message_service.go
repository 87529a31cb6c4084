package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/access"
	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// SendRequest 是发送消息的请求，RecipientID 与 GroupID 必须且只能设置一个。
type SendRequest struct {
	RecipientID *uint  `json:"recipientId,omitempty"`
	GroupID     *uint  `json:"groupId,omitempty"`
	Content     string `json:"content"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// Validate checks the target shape and content before anything is loaded.
func (r SendRequest) Validate() error {
	if (r.RecipientID == nil) == (r.GroupID == nil) {
		return apperr.ErrInvalidTarget
	}
	if strings.TrimSpace(r.Content) == "" {
		return apperr.ErrEmptyContent
	}
	return nil
}

// MessageService 定义了消息存储和回执相关服务的接口。
type MessageService interface {
	Send(ctx context.Context, senderID uint, req SendRequest) (*MessageView, error)
	// FetchPrivateThread 返回两人之间的消息（正序），viewer 收到的未读消息被标记为已读。
	FetchPrivateThread(ctx context.Context, viewerID, otherID uint, page, pageSize int) ([]*MessageView, error)
	// FetchGroupThread 返回群消息（正序），并为 viewer 补齐已读回执。
	FetchGroupThread(ctx context.Context, groupID, viewerID uint, page, pageSize int) ([]*MessageView, error)
	FetchConversationMessages(ctx context.Context, conversationID, viewerID uint, page, pageSize int) ([]*MessageView, error)
	// MarkDelivered 由接收方的在线会话确认送达，sent -> delivered，幂等。
	MarkDelivered(ctx context.Context, messageID, viewerID uint) error
}

type messageService struct {
	core
	msgRepo       storage.MessageRepository
	groupRepo     storage.GroupRepository
	conversations ConversationService
	cipher        Cipher
	views         viewBuilder
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(
	db *gorm.DB,
	msgRepo storage.MessageRepository,
	groupRepo storage.GroupRepository,
	conversations ConversationService,
	cipher Cipher,
	publisher EventPublisher,
	opTimeout time.Duration,
	log *zap.Logger,
) MessageService {
	log = log.Named("message_service")
	return &messageService{
		core:          newCore(db, publisher, opTimeout, log),
		msgRepo:       msgRepo,
		groupRepo:     groupRepo,
		conversations: conversations,
		cipher:        cipher,
		views:         viewBuilder{cipher: cipher, log: log},
	}
}

func (s *messageService) Send(ctx context.Context, senderID uint, req SendRequest) (*MessageView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RecipientID != nil {
		return s.sendPrivate(ctx, senderID, *req.RecipientID, req)
	}
	return s.sendGroup(ctx, senderID, *req.GroupID, req)
}

func (s *messageService) sendPrivate(ctx context.Context, senderID, recipientID uint, req SendRequest) (*MessageView, error) {
	conv, err := s.conversations.FindOrCreate(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg := &models.Message{
		SenderID:       senderID,
		MessageType:    models.PrivateMessage,
		RecipientID:    &recipientID,
		ConversationID: &conv.ID,
		Status:         models.StatusSent,
	}
	if err := s.seal(msg, req.Content); err != nil {
		return nil, err
	}

	err = s.transaction(ctx, "send private message", func(tx *gorm.DB) error {
		if err := storage.NewGormMessageRepository(tx).Create(ctx, msg); err != nil {
			return err
		}
		convRepo := storage.NewGormConversationRepository(tx)
		if err := convRepo.UpdateLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
			return err
		}
		return convRepo.UnhideAll(ctx, conv.ID)
	})
	if err != nil {
		return nil, err
	}

	view := s.views.view(msg)
	view.Content = req.Content
	view.ClientMsgID = req.ClientMsgID
	s.log.Debug("private message sent", zap.Uint("messageId", msg.ID), zap.Uint("conversationId", conv.ID))

	s.publish(ctx, imtypes.UserChannel(recipientID), imtypes.EventMessageReceived, view)
	s.publish(ctx, imtypes.UserChannel(senderID), imtypes.EventMessageReceived, view)
	return view, nil
}

func (s *messageService) sendGroup(ctx context.Context, senderID, groupID uint, req SendRequest) (*MessageView, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, lookupErr("get group", err, apperr.ErrGroupNotFound)
	}
	if err := access.RequireMember(group, senderID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:    senderID,
		MessageType: models.GroupMessage,
		GroupID:     &groupID,
	}
	if err := s.seal(msg, req.Content); err != nil {
		return nil, err
	}

	err = s.transaction(ctx, "send group message", func(tx *gorm.DB) error {
		repo := storage.NewGormMessageRepository(tx)
		if err := repo.Create(ctx, msg); err != nil {
			return err
		}
		msg.ReadBy = []models.MessageReceipt{{MessageID: msg.ID, UserID: senderID, ReadAt: msg.CreatedAt}}
		if err := repo.AddReceipts(ctx, msg.ReadBy); err != nil {
			return err
		}
		return storage.NewGormGroupRepository(tx).UpdateLastMessage(ctx, groupID, msg.ID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	view := s.views.view(msg)
	view.Content = req.Content
	view.ClientMsgID = req.ClientMsgID
	s.log.Debug("group message sent", zap.Uint("messageId", msg.ID), zap.Uint("groupId", groupID))

	s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventMessageReceived, view)
	return view, nil
}

// seal validates the message shape and encrypts its content. Plaintext never
// reaches the repository.
func (s *messageService) seal(msg *models.Message, plaintext string) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encrypt message", err)
	}
	msg.Content = sealed
	return nil
}

func (s *messageService) FetchPrivateThread(ctx context.Context, viewerID, otherID uint, page, pageSize int) ([]*MessageView, error) {
	if viewerID == otherID {
		return nil, apperr.ErrSelfConversation
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	limit, offset := pageBounds(page, pageSize)
	msgs, err := s.msgRepo.ListPrivateBetween(ctx, viewerID, otherID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list private messages", err)
	}
	return s.readPrivate(ctx, viewerID, msgs)
}

func (s *messageService) FetchConversationMessages(ctx context.Context, conversationID, viewerID uint, page, pageSize int) ([]*MessageView, error) {
	if _, err := s.conversations.Authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	limit, offset := pageBounds(page, pageSize)
	msgs, err := s.msgRepo.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list conversation messages", err)
	}
	return s.readPrivate(ctx, viewerID, msgs)
}

// readPrivate advances every fetched message addressed to viewer that is not
// yet read, then builds the views. Already-read messages are untouched.
func (s *messageService) readPrivate(ctx context.Context, viewerID uint, msgs []*models.Message) ([]*MessageView, error) {
	var (
		unread  []*models.Message
		convIDs = map[uint]struct{}{}
	)
	for _, m := range msgs {
		if m.ConversationID != nil {
			convIDs[*m.ConversationID] = struct{}{}
		}
		if m.RecipientID != nil && *m.RecipientID == viewerID && m.Status != models.StatusRead {
			unread = append(unread, m)
		}
	}
	if len(unread) == 0 {
		return s.views.chronological(msgs), nil
	}

	now := time.Now()
	ids := make([]uint, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
	}
	var (
		marked []uint
		lost   []*models.Message
	)
	err := s.transaction(ctx, "mark messages read", func(tx *gorm.DB) error {
		msgRepo := storage.NewGormMessageRepository(tx)
		var err error
		if marked, err = msgRepo.MarkPrivateRead(ctx, viewerID, ids, now); err != nil {
			return err
		}
		if len(marked) < len(ids) {
			// 其余消息已被同一用户的并发拉取推进，读回存储中的时间戳
			if lost, err = msgRepo.GetByIDs(ctx, missing(ids, marked)); err != nil {
				return err
			}
		}
		if len(marked) == 0 {
			return nil
		}
		convRepo := storage.NewGormConversationRepository(tx)
		for convID := range convIDs {
			if err := convRepo.MarkRead(ctx, convID, viewerID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stored := make(map[uint]*models.Message, len(lost))
	for _, m := range lost {
		stored[m.ID] = m
	}
	markedSet := make(map[uint]struct{}, len(marked))
	for _, id := range marked {
		markedSet[id] = struct{}{}
	}

	// 同步内存中的状态，只为本次推进的消息按发送者分组通知
	bySender := map[uint][]uint{}
	convOf := map[uint]uint{}
	for _, m := range unread {
		if _, ok := markedSet[m.ID]; !ok {
			if cur, ok := stored[m.ID]; ok {
				m.Status, m.DeliveredAt, m.ReadAt = cur.Status, cur.DeliveredAt, cur.ReadAt
			}
			continue
		}
		if m.DeliveredAt == nil {
			m.DeliveredAt = &now
		}
		m.Status = models.StatusRead
		m.ReadAt = &now
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
		if m.ConversationID != nil {
			convOf[m.SenderID] = *m.ConversationID
		}
	}
	for senderID, msgIDs := range bySender {
		s.publish(ctx, imtypes.UserChannel(senderID), imtypes.EventMessagesRead, ReadReceiptData{
			ReaderID:       viewerID,
			ConversationID: convOf[senderID],
			MessageIDs:     msgIDs,
			ReadAt:         now,
		})
	}
	return s.views.chronological(msgs), nil
}

// missing returns the ids in all that are not in done.
func missing(all, done []uint) []uint {
	seen := make(map[uint]struct{}, len(done))
	for _, id := range done {
		seen[id] = struct{}{}
	}
	var out []uint
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *messageService) FetchGroupThread(ctx context.Context, groupID, viewerID uint, page, pageSize int) ([]*MessageView, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, lookupErr("get group", err, apperr.ErrGroupNotFound)
	}
	if err := access.RequireMember(group, viewerID); err != nil {
		return nil, err
	}

	limit, offset := pageBounds(page, pageSize)
	msgs, err := s.msgRepo.ListByGroup(ctx, groupID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list group messages", err)
	}

	now := time.Now()
	var receipts []models.MessageReceipt
	for _, m := range msgs {
		if !m.ReadByUser(viewerID) {
			receipts = append(receipts, models.MessageReceipt{MessageID: m.ID, UserID: viewerID, ReadAt: now})
		}
	}
	if len(receipts) == 0 {
		return s.views.chronological(msgs), nil
	}
	if err := s.msgRepo.AddReceipts(ctx, receipts); err != nil {
		return nil, apperr.Storage("add read receipts", err)
	}

	ids := make([]uint, 0, len(receipts))
	byID := make(map[uint]*models.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	for _, r := range receipts {
		m := byID[r.MessageID]
		m.ReadBy = append(m.ReadBy, r)
		ids = append(ids, r.MessageID)
	}
	s.publish(ctx, imtypes.GroupChannel(groupID), imtypes.EventMessagesRead, ReadReceiptData{
		ReaderID:   viewerID,
		GroupID:    groupID,
		MessageIDs: ids,
		ReadAt:     now,
	})
	return s.views.chronological(msgs), nil
}

func (s *messageService) MarkDelivered(ctx context.Context, messageID, viewerID uint) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return lookupErr("get message", err, apperr.ErrMessageNotFound)
	}
	if msg.MessageType != models.PrivateMessage || msg.RecipientID == nil || *msg.RecipientID != viewerID {
		return apperr.ErrNotParticipant
	}

	now := time.Now()
	n, err := s.msgRepo.MarkDelivered(ctx, messageID, viewerID, now)
	if err != nil {
		return apperr.Storage("mark delivered", err)
	}
	if n == 0 {
		return nil
	}
	data := DeliveryData{MessageID: messageID, RecipientID: viewerID, DeliveredAt: now}
	if msg.ConversationID != nil {
		data.ConversationID = *msg.ConversationID
	}
	s.publish(ctx, imtypes.UserChannel(msg.SenderID), imtypes.EventMessageDelivered, data)
	return nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/kafka"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// FriendRequestEvent 是发往好友请求 topic 的 Kafka 消息。
type FriendRequestEvent struct {
	SenderID    uint      `json:"senderId"`
	RecipientID uint      `json:"recipientId"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FriendRequestAcceptedData is the payload of friend_request_accepted.
type FriendRequestAcceptedData struct {
	RequestID      uint                  `json:"requestId"`
	Friend         *models.UserBasicInfo `json:"friend"`
	ConversationID uint                  `json:"conversationId"`
}

// FriendRequestService defines the interface for friend request operations.
type FriendRequestService interface {
	// SendFriendRequest 校验后把请求投递到 Kafka；producer 为 nil 时直接处理。
	SendFriendRequest(ctx context.Context, senderID, recipientID uint, message string) error
	ProcessFriendRequest(ctx context.Context, evt FriendRequestEvent) error
	AcceptFriendRequest(ctx context.Context, recipientID, requestID uint) error
	RejectFriendRequest(ctx context.Context, recipientID, requestID uint) error
	ListPendingRequests(ctx context.Context, userID uint) ([]*models.FriendRequestWithSender, error)
	GetFriendsList(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error)
}

type friendRequestService struct {
	core
	userRepo       storage.UserRepository
	requestRepo    storage.FriendRequestRepository
	friendshipRepo storage.FriendshipRepository
	conversations  ConversationService
	producer       kafka.MessageProducer
	topic          string
}

// NewFriendRequestService creates a new FriendRequestService instance.
func NewFriendRequestService(
	db *gorm.DB,
	userRepo storage.UserRepository,
	requestRepo storage.FriendRequestRepository,
	friendshipRepo storage.FriendshipRepository,
	conversations ConversationService,
	producer kafka.MessageProducer,
	topic string,
	publisher EventPublisher,
	opTimeout time.Duration,
	log *zap.Logger,
) FriendRequestService {
	return &friendRequestService{
		core:           newCore(db, publisher, opTimeout, log.Named("friend_request_service")),
		userRepo:       userRepo,
		requestRepo:    requestRepo,
		friendshipRepo: friendshipRepo,
		conversations:  conversations,
		producer:       producer,
		topic:          topic,
	}
}

// SendFriendRequest validates the request and publishes an event to Kafka.
func (s *friendRequestService) SendFriendRequest(ctx context.Context, senderID, recipientID uint, message string) error {
	if senderID == recipientID {
		return apperr.ErrFriendRequestSelf
	}
	evt := FriendRequestEvent{
		SenderID:    senderID,
		RecipientID: recipientID,
		Message:     strings.TrimSpace(message),
		Timestamp:   time.Now(),
	}

	opCtx, cancel := s.opCtx(ctx)
	err := s.validate(opCtx, s.userRepo, s.friendshipRepo, s.requestRepo, evt)
	cancel()
	if err != nil {
		return err
	}

	if s.producer == nil {
		return s.ProcessFriendRequest(ctx, evt)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode friend request", err)
	}
	key := []byte(fmt.Sprintf("%d-%d", senderID, recipientID))
	if err := s.producer.SendMessage(ctx, s.topic, key, payload); err != nil {
		s.log.Error("produce friend request failed", zap.String("topic", s.topic), zap.Error(err))
		return apperr.Storage("queue friend request", err)
	}
	s.log.Info("friend request queued",
		zap.String("topic", s.topic),
		zap.Uint("senderId", senderID),
		zap.Uint("recipientId", recipientID))
	return nil
}

func (s *friendRequestService) validate(
	ctx context.Context,
	users storage.UserRepository,
	friendships storage.FriendshipRepository,
	requests storage.FriendRequestRepository,
	evt FriendRequestEvent,
) error {
	if _, err := users.GetByID(ctx, evt.RecipientID); err != nil {
		return lookupErr("get recipient", err, apperr.ErrUserNotFound)
	}
	friends, err := friendships.AreFriends(ctx, evt.SenderID, evt.RecipientID)
	if err != nil {
		return apperr.Storage("check friendship", err)
	}
	if friends {
		return apperr.ErrAlreadyFriends
	}
	_, err = requests.FindOpen(ctx, evt.SenderID, evt.RecipientID)
	switch {
	case err == nil:
		return apperr.ErrFriendRequestExists
	case !storage.IsNotFound(err):
		return apperr.Storage("check friend request", err)
	}
	return nil
}

// ProcessFriendRequest 重新校验并持久化请求，随后通知接收方。
func (s *friendRequestService) ProcessFriendRequest(ctx context.Context, evt FriendRequestEvent) error {
	if evt.SenderID == 0 || evt.RecipientID == 0 || evt.SenderID == evt.RecipientID {
		return apperr.InvalidArgument("malformed friend request event")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	request := &models.FriendRequest{
		SenderID:    evt.SenderID,
		RecipientID: evt.RecipientID,
		Status:      models.FriendRequestPending,
		Message:     evt.Message,
	}
	err := s.transaction(ctx, "create friend request", func(tx *gorm.DB) error {
		requests := storage.NewGormFriendRequestRepository(tx)
		if err := s.validate(ctx, storage.NewGormUserRepository(tx), storage.NewGormFriendshipRepository(tx), requests, evt); err != nil {
			return err
		}
		if err := requests.Create(ctx, request); err != nil {
			// 并发的同向请求已先提交
			if storage.IsDuplicateKey(err) {
				return apperr.ErrFriendRequestExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	sender, err := s.userRepo.GetBasicInfoByID(ctx, evt.SenderID)
	if err != nil {
		s.log.Warn("load friend request sender failed", zap.Uint("senderId", evt.SenderID), zap.Error(err))
	}
	s.publish(ctx, imtypes.UserChannel(evt.RecipientID), imtypes.EventFriendRequest,
		&models.FriendRequestWithSender{FriendRequest: *request, Sender: sender})
	s.log.Info("friend request stored", zap.Uint("requestId", request.ID))
	return nil
}

func (s *friendRequestService) AcceptFriendRequest(ctx context.Context, recipientID, requestID uint) error {
	request, err := s.respond(ctx, recipientID, requestID, models.FriendRequestAccepted)
	if err != nil {
		return err
	}

	conv, err := s.conversations.FindOrCreate(ctx, request.SenderID, request.RecipientID)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	friend, err := s.userRepo.GetBasicInfoByID(ctx, recipientID)
	if err != nil {
		s.log.Warn("load accepting user failed", zap.Uint("userId", recipientID), zap.Error(err))
	}
	s.publish(ctx, imtypes.UserChannel(request.SenderID), imtypes.EventFriendRequestAccepted, FriendRequestAcceptedData{
		RequestID:      requestID,
		Friend:         friend,
		ConversationID: conv.ID,
	})
	return nil
}

func (s *friendRequestService) RejectFriendRequest(ctx context.Context, recipientID, requestID uint) error {
	_, err := s.respond(ctx, recipientID, requestID, models.FriendRequestRejected)
	return err
}

// respond 在一个事务中更新请求状态；接受时同时建立好友关系。
func (s *friendRequestService) respond(ctx context.Context, recipientID, requestID uint, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var request *models.FriendRequest
	err := s.transaction(ctx, "respond friend request", func(tx *gorm.DB) error {
		requests := storage.NewGormFriendRequestRepository(tx)
		r, err := requests.GetByID(ctx, requestID)
		if err != nil {
			return lookupErr("get friend request", err, apperr.ErrFriendRequestNotFound)
		}
		if r.RecipientID != recipientID {
			return apperr.ErrNotRequestRecipient
		}
		n, err := requests.Respond(ctx, requestID, status, time.Now())
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrRequestNotPending
		}
		r.Status = status
		request = r
		if status != models.FriendRequestAccepted {
			return nil
		}
		err = storage.NewGormFriendshipRepository(tx).Create(ctx, models.NewFriendship(r.SenderID, r.RecipientID))
		if err != nil && !storage.IsDuplicateKey(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("friend request answered", zap.Uint("requestId", requestID), zap.String("status", string(status)))
	return request, nil
}

func (s *friendRequestService) ListPendingRequests(ctx context.Context, userID uint) ([]*models.FriendRequestWithSender, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	requests, err := s.requestRepo.ListPendingFor(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("list friend requests", err)
	}
	senderIDs := make([]uint, 0, len(requests))
	for _, r := range requests {
		senderIDs = append(senderIDs, r.SenderID)
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, uniqueIDs(senderIDs...))
	if err != nil {
		return nil, apperr.Storage("load senders", err)
	}
	byID := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, u := range infos {
		byID[u.ID] = u
	}
	out := make([]*models.FriendRequestWithSender, 0, len(requests))
	for _, r := range requests {
		out = append(out, &models.FriendRequestWithSender{FriendRequest: *r, Sender: byID[r.SenderID]})
	}
	return out, nil
}

func (s *friendRequestService) GetFriendsList(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("list friends", err)
	}
	if len(ids) == 0 {
		return []*models.UserBasicInfo{}, nil
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Storage("load friends", err)
	}
	return infos, nil
}

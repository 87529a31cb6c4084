package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// PresenceStore 统计每个用户的在线会话数。redis.PresenceRegistry 是跨进程实现。
type PresenceStore interface {
	// Connect 返回 true 表示这是该用户的第一个会话
	Connect(ctx context.Context, userID uint) (first bool, err error)
	// Disconnect 返回 true 表示该用户最后一个会话已关闭
	Disconnect(ctx context.Context, userID uint) (last bool, err error)
}

// MemoryPresence 是单进程的 PresenceStore，在未配置 Redis 时使用。
type MemoryPresence struct {
	mu       sync.Mutex
	sessions map[uint]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{sessions: make(map[uint]int)}
}

func (p *MemoryPresence) Connect(_ context.Context, userID uint) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[userID]++
	return p.sessions[userID] == 1, nil
}

func (p *MemoryPresence) Disconnect(_ context.Context, userID uint) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.sessions[userID] - 1
	if n <= 0 {
		delete(p.sessions, userID)
		return true, nil
	}
	p.sessions[userID] = n
	return false, nil
}

// UpdateProfileInput 只更新非空字段。
type UpdateProfileInput struct {
	Username  *string            `json:"username"`
	Email     *string            `json:"email"`
	Nickname  *string            `json:"nickname"`
	AvatarURL *string            `json:"avatarUrl"`
	Bio       *string            `json:"bio"`
	Status    *models.UserStatus `json:"status"`
}

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetProfile(ctx context.Context, userID uint) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uint, in UpdateProfileInput) (*models.User, error)
	// ListUsers 返回除 callerID 外的用户，query 按用户名/昵称模糊匹配
	ListUsers(ctx context.Context, callerID uint, query string, page, pageSize int) ([]*models.UserBasicInfo, error)
	GetBasicInfo(ctx context.Context, userID uint) (*models.UserBasicInfo, error)
	GetMultipleBasicInfo(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error)
	// SessionOpened / SessionClosed 维护在线状态，返回用户是否因此上线/下线
	SessionOpened(ctx context.Context, userID uint) (cameOnline bool, err error)
	SessionClosed(ctx context.Context, userID uint) (wentOffline bool, err error)
}

type userService struct {
	core
	userRepo storage.UserRepository
	presence PresenceStore
}

// NewUserService 创建一个新的 UserService 实例。presence 为 nil 时使用 MemoryPresence。
func NewUserService(db *gorm.DB, userRepo storage.UserRepository, presence PresenceStore, opTimeout time.Duration, log *zap.Logger) UserService {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	return &userService{
		core:     newCore(db, nil, opTimeout, log.Named("user_service")),
		userRepo: userRepo,
		presence: presence,
	}
}

func (s *userService) GetProfile(ctx context.Context, userID uint) (*models.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("get user", err, apperr.ErrUserNotFound)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, userID uint, in UpdateProfileInput) (*models.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("get user", err, apperr.ErrUserNotFound)
	}

	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if len(name) < 3 {
			return nil, apperr.InvalidArgument("username must be at least 3 characters")
		}
		user.Username = name
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if !strings.Contains(email, "@") {
			return nil, apperr.InvalidArgument("invalid email")
		}
		user.Email = email
	}
	if in.Nickname != nil {
		user.Nickname = strings.TrimSpace(*in.Nickname)
	}
	if in.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if in.Bio != nil {
		user.Bio = *in.Bio
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperr.InvalidArgument("invalid status")
		}
		user.Status = *in.Status
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, apperr.ErrUserAlreadyExists
		}
		return nil, apperr.Storage("update user", err)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, callerID uint, query string, page, pageSize int) ([]*models.UserBasicInfo, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	limit, offset := pageBounds(page, pageSize)
	users, err := s.userRepo.ListUsers(ctx, callerID, strings.TrimSpace(query), limit, offset)
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	out := make([]*models.UserBasicInfo, 0, len(users))
	for _, u := range users {
		out = append(out, u.BasicInfo())
	}
	return out, nil
}

func (s *userService) GetBasicInfo(ctx context.Context, userID uint) (*models.UserBasicInfo, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	info, err := s.userRepo.GetBasicInfoByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("get user", err, apperr.ErrUserNotFound)
	}
	return info, nil
}

func (s *userService) GetMultipleBasicInfo(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error) {
	userIDs = uniqueIDs(userIDs...)
	if len(userIDs) == 0 {
		return []*models.UserBasicInfo{}, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, userIDs)
	if err != nil {
		return nil, apperr.Storage("get users", err)
	}
	return infos, nil
}

func (s *userService) SessionOpened(ctx context.Context, userID uint) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	first, err := s.presence.Connect(ctx, userID)
	if err != nil {
		return false, apperr.Storage("presence connect", err)
	}
	if !first {
		return false, nil
	}
	if err := s.userRepo.UpdatePresence(ctx, userID, models.UserOnline, time.Now()); err != nil {
		return true, apperr.Storage("update presence", err)
	}
	return true, nil
}

func (s *userService) SessionClosed(ctx context.Context, userID uint) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	last, err := s.presence.Disconnect(ctx, userID)
	if err != nil {
		return false, apperr.Storage("presence disconnect", err)
	}
	if !last {
		return false, nil
	}
	if err := s.userRepo.UpdatePresence(ctx, userID, models.UserOffline, time.Now()); err != nil {
		return true, apperr.Storage("update presence", err)
	}
	return true, nil
}

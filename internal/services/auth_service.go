package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// TokenIssuer 由 auth.JWTVerifier 实现。
type TokenIssuer interface {
	IssuePair(userID uint, username string) (*auth.TokenPair, error)
	VerifyRefresh(ctx context.Context, token string) (*auth.Claims, error)
	Revoke(ctx context.Context, claims *auth.Claims) error
}

// RegisterInput 是注册请求的参数。
type RegisterInput struct {
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate 检查注册参数。
func (in *RegisterInput) Validate() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Nickname = strings.TrimSpace(in.Nickname)
	switch {
	case len(in.Username) < 3:
		return apperr.InvalidArgument("username must be at least 3 characters")
	case !strings.Contains(in.Email, "@"):
		return apperr.InvalidArgument("invalid email")
	case len(in.Password) < 6:
		return apperr.InvalidArgument("password must be at least 6 characters")
	case len(in.Password) > auth.MaxPasswordBytes:
		return auth.ErrPasswordTooLong
	}
	return nil
}

// LoginResult 是登录或刷新成功后返回给客户端的内容。
type LoginResult struct {
	*auth.TokenPair
	User *models.User `json:"user"`
}

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	// Login 接受用户名或邮箱。连续失败 MaxFailedLogins 次后账号锁定 LockoutDuration。
	Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

// authService 是 AuthService 的实现。
type authService struct {
	core
	userRepo storage.UserRepository
	tokens   TokenIssuer
	cfg      config.AuthConfig
	now      func() time.Time
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(db *gorm.DB, userRepo storage.UserRepository, tokens TokenIssuer, cfg config.AuthConfig, opTimeout time.Duration, log *zap.Logger) AuthService {
	return &authService{
		core:     newCore(db, nil, opTimeout, log.Named("auth_service")),
		userRepo: userRepo,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register 处理用户注册逻辑。
func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	hashedPassword, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "hash password", err)
	}
	user := &models.User{
		Username:     in.Username,
		Nickname:     in.Nickname,
		Email:        in.Email,
		PasswordHash: hashedPassword,
		Status:       models.UserOffline,
	}
	// 唯一索引兜底用户名/邮箱冲突，不做先查后插
	if err := s.userRepo.Create(ctx, user); err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, apperr.ErrUserAlreadyExists
		}
		return nil, apperr.Storage("create user", err)
	}
	s.log.Info("user registered", zap.Uint("userId", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Login 处理用户登录逻辑。
func (s *authService) Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	user, err := s.userRepo.GetByLogin(ctx, strings.TrimSpace(usernameOrEmail))
	if err != nil {
		// 不区分“用户不存在”和“密码错误”
		return nil, lookupErr("get user", err, apperr.ErrInvalidCredentials)
	}

	now := s.now()
	if err := s.checkLockout(ctx, user, now); err != nil {
		return nil, err
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		if err := s.userRepo.RecordFailedLogin(ctx, user.ID, now); err != nil {
			return nil, apperr.Storage("record failed login", err)
		}
		s.log.Info("login failed", zap.Uint("userId", user.ID), zap.Int("attempts", user.FailedLoginAttempts+1))
		return nil, apperr.ErrInvalidCredentials
	}

	if err := s.userRepo.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, apperr.Storage("record login", err)
	}
	user.FailedLoginAttempts = 0
	user.LastFailedLoginAt = nil
	user.LastSeenAt = &now

	pair, err := s.tokens.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "issue token", err)
	}
	return &LoginResult{TokenPair: pair, User: user}, nil
}

// checkLockout rejects a locked account and clears an expired lock.
func (s *authService) checkLockout(ctx context.Context, user *models.User, now time.Time) error {
	if s.cfg.MaxFailedLogins <= 0 || user.FailedLoginAttempts < s.cfg.MaxFailedLogins || user.LastFailedLoginAt == nil {
		return nil
	}
	remaining := s.cfg.LockoutDuration - now.Sub(*user.LastFailedLoginAt)
	if remaining > 0 {
		minutes := int(math.Ceil(remaining.Minutes()))
		return apperr.Wrap(apperr.KindRateLimited,
			fmt.Sprintf("account temporarily locked, try again in %d minute(s)", minutes),
			apperr.ErrAccountLocked)
	}
	if err := s.userRepo.ResetFailedLogins(ctx, user.ID); err != nil {
		return apperr.Storage("reset failed logins", err)
	}
	user.FailedLoginAttempts = 0
	user.LastFailedLoginAt = nil
	return nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, lookupErr("get user", err, apperr.ErrInvalidToken)
	}
	// 刷新令牌只能使用一次
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return nil, err
	}
	pair, err := s.tokens.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "issue token", err)
	}
	return &LoginResult{TokenPair: pair, User: user}, nil
}

func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return err
	}
	if claims != nil {
		s.log.Info("user logged out", zap.Uint("userId", claims.UserID))
	}
	return nil
}

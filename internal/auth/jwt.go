package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
)

// TokenType 区分访问令牌和刷新令牌。
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims 是 JWT 中的自定义声明，嵌入了 jwt.RegisteredClaims。
type Claims struct {
	UserID    uint      `json:"userId"`
	Username  string    `json:"username"`
	TokenType TokenType `json:"tokenType"`
	jwt.RegisteredClaims
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// JWTVerifier 签发并验证 HS256 令牌。blacklist 可以为 nil，此时不检查吊销。
type JWTVerifier struct {
	cfg       config.AuthConfig
	blacklist TokenBlacklist
	now       func() time.Time
}

// NewJWTVerifier creates a verifier for the given auth configuration.
func NewJWTVerifier(cfg config.AuthConfig, blacklist TokenBlacklist) *JWTVerifier {
	return &JWTVerifier{cfg: cfg, blacklist: blacklist, now: time.Now}
}

// IssuePair 为指定用户生成访问令牌和刷新令牌。
func (v *JWTVerifier) IssuePair(userID uint, username string) (*TokenPair, error) {
	access, accessExp, err := v.generate(userID, username, AccessToken, v.cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := v.generate(userID, username, RefreshToken, v.cfg.RefreshExpiry)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (v *JWTVerifier) generate(userID uint, username string, typ TokenType, ttl time.Duration) (string, time.Time, error) {
	jwtID, err := uuid.NewRandom()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("生成 JWT ID 失败: %w", err)
	}

	now := v.now()
	exp := now.Add(ttl)
	claims := &Claims{
		UserID:    userID,
		Username:  username,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jwtID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.cfg.TokenIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.cfg.JWTSecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("生成 JWT 失败: %w", err)
	}
	return token, exp, nil
}

// Verify validates an access token and returns its claims.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	return v.verify(ctx, token, AccessToken)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (v *JWTVerifier) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	return v.verify(ctx, token, RefreshToken)
}

func (v *JWTVerifier) verify(ctx context.Context, tokenString string, want TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, apperr.ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// 确保签名算法是我们期望的
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecretKey), nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, apperr.ErrInvalidToken
	}
	if claims.TokenType != want {
		return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", fmt.Errorf("token type %q, want %q", claims.TokenType, want))
	}

	if v.blacklist != nil {
		if claims.ID == "" {
			return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", errors.New("missing jti"))
		}
		revoked, err := v.blacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, apperr.Storage("check token blacklist", err)
		}
		if revoked {
			return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", errors.New("token revoked"))
		}
	}
	return claims, nil
}

// Revoke blacklists the token until its original expiry.
func (v *JWTVerifier) Revoke(ctx context.Context, claims *Claims) error {
	if v.blacklist == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	if err := v.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.Storage("revoke token", err)
	}
	return nil
}

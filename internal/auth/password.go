package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"im-chat/internal/apperr"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned for passwords bcrypt would reject.
var ErrPasswordTooLong = apperr.InvalidArgument("password must be at most 72 bytes")

// HashPassword 返回密码的 bcrypt 哈希（DefaultCost），结果直接存入 users.password_hash。
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	return string(hash), err
}

// CheckPasswordHash 比较明文密码与存储的哈希。哈希格式损坏时同样返回 false。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

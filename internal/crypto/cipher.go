// Package crypto seals message content at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
)

const (
	keySize   = 32
	nonceSize = 16
	tagSize   = 16
)

// hkdfInfo binds derived keys to their purpose.
var hkdfInfo = []byte("im-chat message content v1")

// MessageCipher 使用 AES-256-GCM（16 字节 nonce）加解密消息内容。
type MessageCipher struct {
	aead cipher.AEAD
}

// NewMessageCipher builds a cipher from the configured key. A 64 character hex
// string is used as the raw 32-byte key; anything else is treated as a
// passphrase and stretched with HKDF-SHA256.
func NewMessageCipher(key string) (*MessageCipher, error) {
	if key == "" {
		return nil, errors.New("message encryption key is empty")
	}
	raw, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &MessageCipher{aead: aead}, nil
}

func deriveKey(key string) ([]byte, error) {
	if len(key) == keySize*2 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	raw := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, hkdfInfo), raw); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return raw, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (c *MessageCipher) Seal(plaintext string) (models.SealedContent, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return models.SealedContent{}, fmt.Errorf("generate nonce: %w", err)
	}
	out := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	return models.SealedContent{
		Ciphertext: hex.EncodeToString(ct),
		Nonce:      hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(tag),
	}, nil
}

// Open decrypts sealed content. Any malformed field, tampering or key
// mismatch yields apperr.ErrDecryption.
func (c *MessageCipher) Open(sealed models.SealedContent) (string, error) {
	ct, err := hex.DecodeString(sealed.Ciphertext)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "message decryption failed", err)
	}
	nonce, err := hex.DecodeString(sealed.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return "", apperr.ErrDecryption
	}
	tag, err := hex.DecodeString(sealed.Tag)
	if err != nil || len(tag) != tagSize {
		return "", apperr.ErrDecryption
	}
	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "message decryption failed", err)
	}
	return string(plain), nil
}

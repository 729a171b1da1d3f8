package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// token.go - вебхук-токены ботов
//
// Токен выдается один раз при создании бота, в базе хранится только
// bcrypt-хеш. Входящий вебхук аутентифицируется сравнением с хешем.

const tokenBytes = 24 // 48 hex-символов

var (
	ErrEmptyToken    = errors.New("token is empty")
	ErrTokenMismatch = errors.New("token mismatch")
)

// GenerateToken генерирует новый вебхук-токен (hex)
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken возвращает bcrypt-хеш токена для хранения
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken сверяет токен из запроса с хранимым хешем
func VerifyToken(token, hash string) error {
	if token == "" || hash == "" {
		return ErrEmptyToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return ErrTokenMismatch
	}
	return nil
}

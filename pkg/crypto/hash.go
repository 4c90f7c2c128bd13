package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования токенов API
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenTooLong  = errors.New("token exceeds 72 bytes")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash")
)

// DefaultCost - стоимость bcrypt по умолчанию
const DefaultCost = 12

// maxTokenLength - ограничение bcrypt
const maxTokenLength = 72

// HashToken хеширует токен API. cost вне [MinCost, MaxCost] прижимается к границе.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > maxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сравнивает токен с bcrypt-хешем за постоянное время
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrTokenMismatch
	default:
		return ErrInvalidHash
	}
}

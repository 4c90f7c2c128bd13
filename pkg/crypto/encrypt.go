package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// Ошибки шифрования
var (
	ErrInvalidKeyLength  = errors.New("encryption key must be 32 bytes (raw, hex or base64)")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication error")
)

// SealedPrefix помечает зашифрованные значения в сохранённой конфигурации
const SealedPrefix = "enc:"

// KeySize - размер ключа AES-256
const KeySize = 32

// Cipher шифрует секреты аккаунтов AES-256-GCM.
// Формат шифртекста: base64(nonce || sealed).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher создаёт шифр из 32-байтного ключа
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey принимает ключ из переменной окружения: 32 сырых байта,
// 64 hex-символа или base64 от 32 байт
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) == KeySize:
		return []byte(s), nil
	case len(s) == KeySize*2:
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, ErrInvalidKeyLength
}

// GenerateKey возвращает случайный ключ в hex (для .env)
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Encrypt шифрует plaintext со случайным nonce
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает и проверяет тег аутентификации
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Seal шифрует значение и добавляет SealedPrefix. Уже запечатанные значения не трогает.
func (c *Cipher) Seal(value string) (string, error) {
	if IsSealed(value) {
		return value, nil
	}
	enc, err := c.Encrypt(value)
	if err != nil {
		return "", err
	}
	return SealedPrefix + enc, nil
}

// Open снимает SealedPrefix и расшифровывает. Значения без префикса возвращаются как есть.
func (c *Cipher) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return c.Decrypt(strings.TrimPrefix(value, SealedPrefix))
}

// IsSealed сообщает, зашифровано ли значение
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

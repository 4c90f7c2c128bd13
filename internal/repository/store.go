package repository

import (
	"fmt"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/crypto"
)

// ConfigLoadError - сохранённая конфигурация не читается (битый JSON/YAML).
// Для файлового хранилища не фатальна: список считается пустым.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load accounts config %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}

// sealAccounts возвращает копию списка с зашифрованными секретами.
// Без шифра возвращает копию как есть.
func sealAccounts(c *crypto.Cipher, accounts []models.AccountConfig) ([]models.AccountConfig, error) {
	return transformSecrets(c, accounts, c.Seal)
}

// openAccounts расшифровывает секреты. Незашифрованные значения остаются как есть,
// поэтому ключ можно включить на уже существующем файле.
func openAccounts(c *crypto.Cipher, accounts []models.AccountConfig) ([]models.AccountConfig, error) {
	return transformSecrets(c, accounts, c.Open)
}

func transformSecrets(c *crypto.Cipher, accounts []models.AccountConfig, fn func(string) (string, error)) ([]models.AccountConfig, error) {
	out := make([]models.AccountConfig, len(accounts))
	for i, acc := range accounts {
		out[i] = acc.Clone()
		if c == nil {
			continue
		}
		for l := range out[i].Legs {
			for k, v := range out[i].Legs[l].Params {
				if !models.IsSecretParam(k) {
					continue
				}
				nv, err := fn(v)
				if err != nil {
					return nil, fmt.Errorf("account %s leg %d param %s: %w", acc.ID, l, k, err)
				}
				out[i].Legs[l].Params[k] = nv
			}
		}
	}
	return out, nil
}

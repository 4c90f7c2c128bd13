package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/crypto"
)

// AccountRepository - хранилище аккаунтов в таблице accounts (PostgreSQL).
// Порядок списка задаётся колонкой position.
type AccountRepository struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// NewAccountRepository создает новый экземпляр репозитория. cipher == nil - без шифрования.
func NewAccountRepository(db *sql.DB, cipher *crypto.Cipher) *AccountRepository {
	return &AccountRepository{db: db, cipher: cipher}
}

const accountsSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		position        INTEGER NOT NULL,
		name            TEXT NOT NULL,
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		target_notional DOUBLE PRECISION NOT NULL,
		symbol          TEXT NOT NULL DEFAULT '',
		legs            JSONB NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Migrate создаёт таблицу accounts, если её нет
func (r *AccountRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, accountsSchema); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

// Load возвращает все аккаунты в сохранённом порядке
func (r *AccountRepository) Load(ctx context.Context) ([]models.AccountConfig, error) {
	query := `
		SELECT id, name, enabled, target_notional, symbol, legs
		FROM accounts
		ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.AccountConfig
	for rows.Next() {
		var acc models.AccountConfig
		var legsJSON []byte
		if err := rows.Scan(
			&acc.ID,
			&acc.Name,
			&acc.Enabled,
			&acc.TargetNotional,
			&acc.Symbol,
			&legsJSON,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(legsJSON, &acc.Legs); err != nil {
			return nil, fmt.Errorf("account %s: decode legs: %w", acc.ID, err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return openAccounts(r.cipher, accounts)
}

// Save заменяет список целиком в одной транзакции
func (r *AccountRepository) Save(ctx context.Context, accounts []models.AccountConfig) error {
	sealed, err := sealAccounts(r.cipher, accounts)
	if err != nil {
		return fmt.Errorf("encrypt accounts: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	query := `
		INSERT INTO accounts (id, position, name, enabled, target_notional, symbol, legs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	for i, acc := range sealed {
		legsJSON, err := json.Marshal(acc.Legs)
		if err != nil {
			return fmt.Errorf("account %s: encode legs: %w", acc.ID, err)
		}

		if _, err := tx.ExecContext(ctx, query,
			acc.ID,
			i,
			acc.Name,
			acc.Enabled,
			acc.TargetNotional,
			acc.Symbol,
			legsJSON,
			now,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("account %s: duplicate id", acc.ID)
			}
			return fmt.Errorf("insert account %s: %w", acc.ID, err)
		}
	}

	return tx.Commit()
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}

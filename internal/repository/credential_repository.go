package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signalbot/internal/models"
)

var ErrCredentialNotFound = errors.New("exchange credential not found")

// CredentialRepository - доступ к зашифрованным API-ключам биржи
//
// Ключи хранятся зашифрованными (AES-256-GCM, base64); репозиторий
// возвращает их как есть, расшифровка - забота вызывающего.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создает репозиторий ключей
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetForBot возвращает ключи для бота: сначала привязанные к самому
// боту, иначе дефолтные ключи пользователя (bot_id IS NULL)
func (r *CredentialRepository) GetForBot(ctx context.Context, userID, botID int64) (*models.ExchangeCredential, error) {
	query := `SELECT id, user_id, bot_id, api_key, api_secret, created_at, updated_at
		FROM exchange_credentials
		WHERE user_id = $1 AND (bot_id = $2 OR bot_id IS NULL)
		ORDER BY bot_id NULLS LAST
		LIMIT 1`

	var cred models.ExchangeCredential
	var credBotID sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, userID, botID).Scan(
		&cred.ID, &cred.UserID, &credBotID,
		&cred.APIKey, &cred.APISecret,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential user=%d bot=%d: %w", userID, botID, err)
	}

	if credBotID.Valid {
		cred.BotID = &credBotID.Int64
	}

	return &cred, nil
}

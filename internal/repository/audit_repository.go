package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalbot/internal/models"
)

// AuditRepository - журнал решений конвейера
//
// Запись идет на каждой точке принятия решения; вызывающий код
// трактует ошибки аудита как некритичные (логирует и продолжает).
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает репозиторий журнала аудита
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append добавляет запись в журнал
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	var details []byte
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}

	query := `INSERT INTO audit_log (level, event, message, bot_id, trade_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		entry.Level, entry.Event, entry.Message,
		entry.BotID, entry.TradeID, details, time.Now().UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return nil
}

// ListRecent возвращает последние записи журнала (для read API)
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, level, event, message, bot_id, trade_id, details, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var botID, tradeID sql.NullInt64
		var details []byte

		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Event, &entry.Message,
			&botID, &tradeID, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		if botID.Valid {
			entry.BotID = &botID.Int64
		}
		if tradeID.Valid {
			entry.TradeID = &tradeID.Int64
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

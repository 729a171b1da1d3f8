package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"signalbot/internal/models"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	// ErrNoOpenTrade - нет открытой сделки для (бот, символ)
	ErrNoOpenTrade = errors.New("no open trade for bot and symbol")
	// ErrOpenTradeExists - частичный уникальный индекс по (bot_id, symbol)
	// WHERE state='open' не пустил вторую открытую сделку
	ErrOpenTradeExists = errors.New("open trade already exists for bot and symbol")
)

// TradeRepository - доступ к сделкам
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает репозиторий сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, bot_id, user_id, symbol, side, order_type, quantity,
	planned_entry_price, entry_price, stop_loss, take_profit,
	exit_price, realized_pnl, fees, state, close_reason,
	exchange_order_id, simulated,
	avg_entry_price, avg_exit_price, reconciled_at,
	metrics, created_at, closed_at`

// Create сохраняет новую открытую сделку и проставляет ID и CreatedAt
func (r *TradeRepository) Create(ctx context.Context, t *models.Trade) error {
	query := `INSERT INTO trades (
			bot_id, user_id, symbol, side, order_type, quantity,
			planned_entry_price, entry_price, stop_loss, take_profit,
			realized_pnl, fees, state, close_reason, exchange_order_id, simulated,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at`

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query,
		t.BotID, t.UserID, t.Symbol, t.Side, t.OrderType, t.Quantity,
		t.PlannedEntryPrice, t.EntryPrice, t.StopLoss, t.TakeProfit,
		t.RealizedPnl, t.Fees, models.TradeStateOpen, t.CloseReason,
		t.ExchangeOrderID, t.Simulated, now,
	).Scan(&t.ID, &t.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrOpenTradeExists
		}
		return fmt.Errorf("create trade: %w", err)
	}

	t.State = models.TradeStateOpen
	return nil
}

// GetByID возвращает сделку по id
func (r *TradeRepository) GetByID(ctx context.Context, id int64) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("get trade %d: %w", id, err)
	}

	return trade, nil
}

// GetOpenTrade возвращает самую свежую открытую сделку для (бот, символ)
func (r *TradeRepository) GetOpenTrade(ctx context.Context, botID int64, symbol string) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE bot_id = $1 AND symbol = $2 AND state = $3
		ORDER BY created_at DESC
		LIMIT 1`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, botID, symbol, models.TradeStateOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoOpenTrade
		}
		return nil, fmt.Errorf("get open trade bot=%d symbol=%s: %w", botID, symbol, err)
	}

	return trade, nil
}

// Close переводит сделку open -> closed
//
// Guard state='open' в WHERE делает закрытие идемпотентным: повторный
// вызов по уже закрытой сделке возвращает ErrNoOpenTrade, состояние
// closed терминально.
func (r *TradeRepository) Close(ctx context.Context, id int64, exitPrice, realizedPnl, fees float64, closeReason string, closedAt time.Time) error {
	query := `UPDATE trades
		SET state = $1, exit_price = $2, realized_pnl = $3, fees = $4,
		    close_reason = $5, closed_at = $6
		WHERE id = $7 AND state = $8`

	result, err := r.db.ExecContext(ctx, query,
		models.TradeStateClosed, exitPrice, realizedPnl, fees,
		closeReason, closedAt.UTC(), id, models.TradeStateOpen)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoOpenTrade
	}

	return nil
}

// SetMetrics сохраняет аналитический снимок закрытой сделки (jsonb)
func (r *TradeRepository) SetMetrics(ctx context.Context, id int64, m *models.TradeMetrics) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `UPDATE trades SET metrics = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, raw, id)
	if err != nil {
		return fmt.Errorf("set metrics for trade %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// ApplyReconciliation перезаписывает оценочный PnL авторитетными данными биржи
//
// Guard reconciled_at IS NULL не дает второй сверке затереть уже
// авторитетное значение; для симулированных сделок guard снят.
func (r *TradeRepository) ApplyReconciliation(ctx context.Context, id int64, pnl, avgEntry, avgExit float64, reconciledAt time.Time) error {
	query := `UPDATE trades
		SET realized_pnl = $1, avg_entry_price = $2, avg_exit_price = $3,
		    reconciled_at = $4
		WHERE id = $5 AND (reconciled_at IS NULL OR simulated = true)`

	result, err := r.db.ExecContext(ctx, query, pnl, avgEntry, avgExit, reconciledAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("reconcile trade %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// SumRealizedPnlSince суммирует realized_pnl (NULL как 0) по сделкам
// бота, созданным начиная с since. Используется дневным лимитом убытка.
func (r *TradeRepository) SumRealizedPnlSince(ctx context.Context, botID int64, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(COALESCE(realized_pnl, 0)), 0)
		FROM trades
		WHERE bot_id = $1 AND created_at >= $2`

	var sum float64
	if err := r.db.QueryRowContext(ctx, query, botID, since.UTC()).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum pnl for bot %d: %w", botID, err)
	}

	return sum, nil
}

// ListByBot возвращает последние сделки бота
func (r *TradeRepository) ListByBot(ctx context.Context, botID int64, limit int) ([]*models.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE bot_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades for bot %d: %w", botID, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// ListUnreconciled возвращает закрытые реальные сделки без сверки
// (для периодического прохода воркера)
func (r *TradeRepository) ListUnreconciled(ctx context.Context, limit int) ([]*models.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE state = $1 AND simulated = false AND reconciled_at IS NULL
		  AND exchange_order_id <> ''
		ORDER BY closed_at ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, models.TradeStateClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]*models.Trade, error) {
	var trades []*models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var realizedPnl sql.NullFloat64
	var closeReason, orderID sql.NullString
	var reconciledAt, closedAt sql.NullTime
	var metricsRaw []byte

	err := row.Scan(
		&t.ID, &t.BotID, &t.UserID, &t.Symbol, &t.Side, &t.OrderType, &t.Quantity,
		&t.PlannedEntryPrice, &t.EntryPrice, &t.StopLoss, &t.TakeProfit,
		&t.ExitPrice, &realizedPnl, &t.Fees, &t.State, &closeReason,
		&orderID, &t.Simulated,
		&t.AvgEntryPrice, &t.AvgExitPrice, &reconciledAt,
		&metricsRaw, &t.CreatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	if realizedPnl.Valid {
		t.RealizedPnl = &realizedPnl.Float64
	}
	t.CloseReason = closeReason.String
	t.ExchangeOrderID = orderID.String
	if reconciledAt.Valid {
		t.ReconciledAt = &reconciledAt.Time
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	if len(metricsRaw) > 0 {
		var m models.TradeMetrics
		if err := json.Unmarshal(metricsRaw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		t.Metrics = &m
	}

	return &t, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalbot/internal/models"
)

var ErrBotNotFound = errors.New("bot not found")

// BotRepository - доступ к конфигурациям ботов
type BotRepository struct {
	db *sql.DB
}

// NewBotRepository создает репозиторий ботов
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

const botColumns = `id, user_id, name, symbol, side, order_type, quantity,
	position_sizing_enabled, risk_per_trade, fee_percent,
	daily_loss_limit, max_position_size,
	stop_loss_percent, take_profit_percent, test_mode,
	profit_loss, trade_count, webhook_token_hash, enabled,
	created_at, updated_at`

// GetByID возвращает бота по id
func (r *BotRepository) GetByID(ctx context.Context, id int64) (*models.BotConfig, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`

	bot, err := scanBot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("get bot %d: %w", id, err)
	}

	return bot, nil
}

// GetAllEnabled возвращает всех включенных ботов
func (r *BotRepository) GetAllEnabled(ctx context.Context) ([]*models.BotConfig, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE enabled = true ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.BotConfig
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, bot)
	}

	return bots, rows.Err()
}

// ApplyTradeResult атомарно прибавляет PnL сделки к счётчикам бота
//
// Один UPDATE без чтения: параллельные сигналы не теряют инкременты.
func (r *BotRepository) ApplyTradeResult(ctx context.Context, botID int64, pnlDelta float64) error {
	query := `UPDATE bots
		SET profit_loss = profit_loss + $1,
		    trade_count = trade_count + 1,
		    updated_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, pnlDelta, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("apply trade result for bot %d: %w", botID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBotNotFound
	}

	return nil
}

// AddProfitLoss атомарно прибавляет дельту PnL без изменения счётчика
// сделок (используется сверкой: сделка уже посчитана при закрытии)
func (r *BotRepository) AddProfitLoss(ctx context.Context, botID int64, delta float64) error {
	query := `UPDATE bots
		SET profit_loss = profit_loss + $1,
		    updated_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, delta, time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("add profit loss for bot %d: %w", botID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBotNotFound
	}

	return nil
}

// rowScanner покрывает *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*models.BotConfig, error) {
	var bot models.BotConfig
	err := row.Scan(
		&bot.ID, &bot.UserID, &bot.Name, &bot.Symbol, &bot.Side, &bot.OrderType, &bot.Quantity,
		&bot.PositionSizingEnabled, &bot.RiskPerTrade, &bot.FeePercent,
		&bot.DailyLossLimit, &bot.MaxPositionSize,
		&bot.StopLossPercent, &bot.TakeProfitPercent, &bot.TestMode,
		&bot.ProfitLoss, &bot.TradeCount, &bot.WebhookTokenHash, &bot.Enabled,
		&bot.CreatedAt, &bot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

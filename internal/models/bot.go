package models

import "time"

// Направления сделки в формате Bybit v5
const (
	SideBuy  = "Buy"
	SideSell = "Sell"
)

// Типы ордеров
const (
	OrderTypeMarket = "Market"
	OrderTypeLimit  = "Limit"
)

// BotConfig - конфигурация торгового бота, принимающего сигналы по вебхуку
//
// Каждый бот привязан к одному символу и одному направлению по умолчанию.
// Накопительные счётчики (ProfitLoss, TradeCount) обновляются только
// атомарными SQL-инкрементами в репозитории, никогда через read-modify-write.
type BotConfig struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"user_id" db:"user_id"`

	Name      string `json:"name" db:"name"`
	Symbol    string `json:"symbol" db:"symbol"`         // Например: BTCUSDT
	Side      string `json:"side" db:"side"`             // Buy / Sell (дефолт для сигнала без side)
	OrderType string `json:"order_type" db:"order_type"` // Market / Limit

	// Количество по умолчанию, если сигнал не содержит qty
	// и расчёт размера позиции выключен
	Quantity float64 `json:"quantity" db:"quantity"`

	// Параметры расчёта размера позиции
	PositionSizingEnabled bool    `json:"position_sizing_enabled" db:"position_sizing_enabled"`
	RiskPerTrade          float64 `json:"risk_per_trade" db:"risk_per_trade"` // USDT на сделку
	FeePercent            float64 `json:"fee_percent" db:"fee_percent"`       // Комиссия в процентах: 0.075 = 0.075%

	// Риск-лимиты (0 = проверка выключена)
	DailyLossLimit  float64 `json:"daily_loss_limit" db:"daily_loss_limit"`   // USDT с 00:00 UTC
	MaxPositionSize float64 `json:"max_position_size" db:"max_position_size"` // Максимальный нотионал, USDT

	// Стоп-лосс и тейк-профит в процентах от цены входа (0 = не ставить)
	StopLossPercent   float64 `json:"stop_loss_percent" db:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent" db:"take_profit_percent"`

	// Тестовый режим: ордера не уходят на биржу, исполнение симулируется
	TestMode bool `json:"test_mode" db:"test_mode"`

	// Накопительная статистика
	ProfitLoss float64 `json:"profit_loss" db:"profit_loss"`
	TradeCount int64   `json:"trade_count" db:"trade_count"`

	// bcrypt-хеш вебхук-токена; сам токен нигде не хранится
	WebhookTokenHash string `json:"-" db:"webhook_token_hash"`

	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OppositeSide возвращает противоположное направление для закрывающего ордера
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

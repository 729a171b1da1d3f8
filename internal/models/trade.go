package models

import "time"

// Состояния сделки. Переход только open -> closed, closed - терминальное.
const (
	TradeStateOpen   = "open"
	TradeStateClosed = "closed"
)

// Причины закрытия сделки
const (
	CloseReasonSignal     = "signal"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonStopLoss   = "stop_loss"
)

// Trade - одна сделка жизненного цикла open -> closed
//
// RealizedPnl равен nil до закрытия. После сверки с биржей
// (ReconciledAt != nil) значение считается авторитетным и не
// перезаписывается оценкой, кроме симулированных сделок.
type Trade struct {
	ID     int64 `json:"id" db:"id"`
	BotID  int64 `json:"bot_id" db:"bot_id"`
	UserID int64 `json:"user_id" db:"user_id"`

	Symbol    string  `json:"symbol" db:"symbol"`
	Side      string  `json:"side" db:"side"`
	OrderType string  `json:"order_type" db:"order_type"`
	Quantity  float64 `json:"quantity" db:"quantity"`

	// Цена входа: плановая из сигнала и фактическая после исполнения
	PlannedEntryPrice float64 `json:"planned_entry_price" db:"planned_entry_price"`
	EntryPrice        float64 `json:"entry_price" db:"entry_price"`

	// 0 = не установлен
	StopLoss   float64 `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64 `json:"take_profit" db:"take_profit"`

	ExitPrice   float64  `json:"exit_price" db:"exit_price"` // 0 до закрытия
	RealizedPnl *float64 `json:"realized_pnl" db:"realized_pnl"`
	Fees        float64  `json:"fees" db:"fees"`

	State       string `json:"state" db:"state"`
	CloseReason string `json:"close_reason,omitempty" db:"close_reason"`

	// Идентификатор ордера на бирже; для симуляции префикс SIM-
	ExchangeOrderID string `json:"exchange_order_id" db:"exchange_order_id"`

	// Симулированная сделка (бот был в тестовом режиме)
	Simulated bool `json:"simulated" db:"simulated"`

	// Поля сверки с биржей
	AvgEntryPrice float64    `json:"avg_entry_price" db:"avg_entry_price"`
	AvgExitPrice  float64    `json:"avg_exit_price" db:"avg_exit_price"`
	ReconciledAt  *time.Time `json:"reconciled_at" db:"reconciled_at"`

	// Аналитический снимок, заполняется при закрытии
	Metrics *TradeMetrics `json:"metrics,omitempty" db:"metrics"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ClosedAt  *time.Time `json:"closed_at" db:"closed_at"`
}

// IsOpen возвращает true если сделка ещё не закрыта
func (t *Trade) IsOpen() bool {
	return t.State == TradeStateOpen
}

// IsReconciled возвращает true если PnL уже сверен с биржей
func (t *Trade) IsReconciled() bool {
	return t.ReconciledAt != nil
}

// HasProtectiveOrders возвращает true если на сделке висят SL или TP:
// закрытие произойдёт на бирже само, встречный ордер не нужен
func (t *Trade) HasProtectiveOrders() bool {
	return t.StopLoss > 0 || t.TakeProfit > 0
}

// PnlValue возвращает realized_pnl с NULL как 0
func (t *Trade) PnlValue() float64 {
	if t.RealizedPnl == nil {
		return 0
	}
	return *t.RealizedPnl
}

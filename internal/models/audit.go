package models

import "time"

// Уровни записей журнала аудита
const (
	AuditLevelInfo  = "info"
	AuditLevelWarn  = "warn"
	AuditLevelError = "error"
)

// AuditEntry - запись журнала решений конвейера
//
// Пишется на каждой точке принятия решения и на каждой ошибке:
// приём сигнала, отказ риск-контроля, выставление ордера, закрытие,
// сверка. Details сериализуется в jsonb. Запись best-effort: ошибка
// аудита не валит обработку сигнала.
type AuditEntry struct {
	ID      int64  `json:"id" db:"id"`
	Level   string `json:"level" db:"level"`
	Event   string `json:"event" db:"event"` // signal_received, risk_denied, order_placed, ...
	Message string `json:"message" db:"message"`

	BotID   *int64 `json:"bot_id,omitempty" db:"bot_id"`
	TradeID *int64 `json:"trade_id,omitempty" db:"trade_id"`

	Details map[string]interface{} `json:"details,omitempty" db:"details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

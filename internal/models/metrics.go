package models

// Исходы сделки для аналитики
const (
	OutcomeWin       = "win"
	OutcomeLoss      = "loss"
	OutcomeBreakeven = "breakeven"
)

// TradeMetrics - аналитический снимок закрытой сделки
//
// Считается один раз при закрытии и хранится как JSON-колонка сделки.
// Все значения производные, пересчитываются после сверки с биржей.
type TradeMetrics struct {
	RMultiple        float64 `json:"r_multiple"`         // PnL / максимальный риск
	EntrySlippagePct float64 `json:"entry_slippage_pct"` // (факт - план) / план * 100
	TotalFees        float64 `json:"total_fees"`
	DurationSeconds  float64 `json:"duration_seconds"`
	Outcome          string  `json:"outcome"` // win / loss / breakeven
}

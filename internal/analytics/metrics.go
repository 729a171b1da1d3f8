package analytics

import (
	"errors"
	"math"
	"time"

	"signalbot/internal/models"
)

// metrics.go - аналитика закрытой сделки
//
// Чистые вычисления без I/O. Отсутствующие необязательные входы
// безопасно трактуются как ноль; обязательные входы без значений
// дают ErrMissingInput.

// ErrMissingInput - не заполнен обязательный вход расчёта
var ErrMissingInput = errors.New("metrics: missing required input")

// Допуск, ниже которого PnL считается нулевым (breakeven)
const breakevenTolerance = 1e-9

// Input - входы расчёта метрик закрытой сделки
type Input struct {
	PlannedEntryPrice float64 // цена из сигнала; 0 = неизвестна
	ActualEntryPrice  float64 // обязательное
	StopLoss          float64
	TakeProfit        float64

	MaxRisk     float64 // запланированный риск сделки, USDT; 0 = неизвестен
	RealizedPnl float64
	OpenFee     float64
	CloseFee    float64

	OpenedAt time.Time // обязательное
	ClosedAt time.Time // обязательное, не раньше OpenedAt
}

// Calculate считает метрики закрытой сделки
func Calculate(in Input) (*models.TradeMetrics, error) {
	if in.ActualEntryPrice <= 0 {
		return nil, ErrMissingInput
	}
	if in.OpenedAt.IsZero() || in.ClosedAt.IsZero() {
		return nil, ErrMissingInput
	}
	if in.ClosedAt.Before(in.OpenedAt) {
		return nil, ErrMissingInput
	}

	m := &models.TradeMetrics{
		TotalFees:       in.OpenFee + in.CloseFee,
		DurationSeconds: in.ClosedAt.Sub(in.OpenedAt).Seconds(),
		Outcome:         classify(in.RealizedPnl),
	}

	// R-multiple: PnL как кратное запланированного риска
	if in.MaxRisk > 0 {
		m.RMultiple = in.RealizedPnl / in.MaxRisk
	}

	// Проскальзывание входа в процентах от плановой цены
	if in.PlannedEntryPrice > 0 {
		m.EntrySlippagePct = (in.ActualEntryPrice - in.PlannedEntryPrice) / in.PlannedEntryPrice * 100
	}

	return m, nil
}

// classify нормализует исход: win / loss / breakeven
func classify(pnl float64) string {
	switch {
	case pnl > breakevenTolerance:
		return models.OutcomeWin
	case pnl < -breakevenTolerance:
		return models.OutcomeLoss
	default:
		return models.OutcomeBreakeven
	}
}

// MaxRiskFromPrices оценивает запланированный риск по ценам входа и SL.
// 0 если стоп-лосс не задан.
func MaxRiskFromPrices(entryPrice, stopLoss, qty float64) float64 {
	if entryPrice <= 0 || stopLoss <= 0 || qty <= 0 {
		return 0
	}
	return math.Abs(entryPrice-stopLoss) * qty
}

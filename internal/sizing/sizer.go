package sizing

import (
	"errors"
	"fmt"
	"math"

	"signalbot/internal/models"
	"signalbot/pkg/utils"
)

// sizer.go - расчёт размера позиции из риск-параметров
//
// Чистая функция без I/O: одни и те же входы всегда дают одно и то же
// количество. Все округления вниз: завышенное количество = завышенный риск.

// ErrInvalidStopLoss - стоп-лосс не с той стороны от цены входа
// (для Buy должен быть строго ниже, для Sell строго выше)
var ErrInvalidStopLoss = errors.New("stop loss on wrong side of entry price")

// ValidationError - некорректный входной параметр расчёта
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sizing validation: %s %s", e.Field, e.Message)
}

// Params - входы расчёта размера позиции
type Params struct {
	EntryPrice float64 // > 0
	StopLoss   float64 // > 0, направление проверяется по Side
	RiskAmount float64 // > 0, USDT риска на сделку
	Side       string  // Buy / Sell

	// Комиссия в процентах биржи: 0.075 означает 0.075%
	FeePercent float64

	// Ограничения инструмента
	MinQty  float64 // >= 0
	QtyStep float64 // >= 0, 0 = без шага

	// Максимальный нотионал позиции в USDT, 0 = без ограничения
	MaxPositionSize float64

	// Знаков после запятой в итоговом количестве, <= 0 = дефолт 8
	Decimals int
}

// Calculate возвращает количество для ордера
//
// Алгоритм:
//  1. Риск на единицу = |entry - stop|.
//  2. К риску добавляется комиссия за вход и выход, выходом считается
//     стоп-лосс: (entry + stop) * fee.
//  3. Количество = riskAmount / риск на единицу с комиссией.
//  4. Поднять до minQty, округлить вниз до шага лота; если округление
//     увело под minQty - вверх до ближайшего кратного шагу.
//  5. При превышении maxPositionSize пересчитать от нотионала и снова
//     округлить вниз до шага.
//  6. Обрезать до Decimals знаков.
func Calculate(p Params) (float64, error) {
	if err := validate(p); err != nil {
		return 0, err
	}

	decimals := p.Decimals
	if decimals <= 0 {
		decimals = 8
	}

	riskPerUnit := math.Abs(p.EntryPrice - p.StopLoss)

	// Комиссия туда-обратно на единицу, стоп-лосс как предполагаемый выход
	fee := p.FeePercent / 100
	feePerUnit := (p.EntryPrice + p.StopLoss) * fee

	quantity := p.RiskAmount / (riskPerUnit + feePerUnit)

	quantity = utils.ClampMin(quantity, p.MinQty)
	quantity = utils.RoundToStep(quantity, p.QtyStep)
	// Минимум может быть не кратен шагу: округление вниз увело бы под
	// minQty, поднимаем до ближайшего кратного сверху
	if quantity < p.MinQty {
		quantity = utils.CeilToStep(p.MinQty, p.QtyStep)
	}

	// Ограничение нотионала: пересчёт от капа и повторное округление вниз
	if p.MaxPositionSize > 0 && quantity*p.EntryPrice > p.MaxPositionSize {
		quantity = p.MaxPositionSize / p.EntryPrice
		quantity = utils.RoundToStep(quantity, p.QtyStep)
	}

	return utils.TruncateDecimals(quantity, decimals), nil
}

func validate(p Params) error {
	if p.EntryPrice <= 0 {
		return &ValidationError{Field: "entry_price", Message: "must be positive"}
	}
	if p.StopLoss <= 0 {
		return &ValidationError{Field: "stop_loss", Message: "must be positive"}
	}
	if p.RiskAmount <= 0 {
		return &ValidationError{Field: "risk_amount", Message: "must be positive"}
	}

	switch p.Side {
	case models.SideBuy:
		if p.StopLoss >= p.EntryPrice {
			return ErrInvalidStopLoss
		}
	case models.SideSell:
		if p.StopLoss <= p.EntryPrice {
			return ErrInvalidStopLoss
		}
	default:
		return &ValidationError{Field: "side", Message: "must be Buy or Sell"}
	}

	return nil
}

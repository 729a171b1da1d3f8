package engine

import (
	"fmt"
	"math/rand"
	"strings"

	"signalbot/internal/exchange"
)

// simulate.go - симуляция исполнения для ботов в тестовом режиме
//
// Изолированная стратегия: реальный путь расчёта PnL её не касается.
// Случайный PnL нужен только чтобы дашборд показывал живые данные.

const simOrderPrefix = "SIM-"

// simulateOrder имитирует мгновенное исполнение по плановой цене
func simulateOrder(fillPrice float64) *exchange.OrderResult {
	return &exchange.OrderResult{
		OrderID:  fmt.Sprintf("%s%012x", simOrderPrefix, rand.Int63n(1<<48)),
		Status:   exchange.OrderStatusFilled,
		AvgPrice: fillPrice,
	}
}

// simulatePnl возвращает случайный PnL в пределах +-2% нотионала
func simulatePnl(notional float64) float64 {
	if notional <= 0 {
		return 0
	}
	return (rand.Float64()*4 - 2) / 100 * notional
}

// isSimulatedOrderID распознает идентификаторы симулированных ордеров
func isSimulatedOrderID(orderID string) bool {
	return strings.HasPrefix(orderID, simOrderPrefix)
}

package exchange

import (
	"context"
	"fmt"
	"time"
)

// Статусы ордера на бирже
const (
	OrderStatusNew       = "New"
	OrderStatusFilled    = "Filled"
	OrderStatusRejected  = "Rejected"
	OrderStatusCancelled = "Cancelled"
)

// OrderRequest - параметры выставляемого ордера
type OrderRequest struct {
	Symbol    string
	Side      string // Buy / Sell
	OrderType string // Market / Limit
	Qty       float64

	Price      float64 // только для Limit
	StopLoss   float64 // 0 = не ставить
	TakeProfit float64 // 0 = не ставить

	// Количество знаков после запятой для qty (из InstrumentRule)
	QtyDecimals int
}

// OrderResult - результат выставления ордера
type OrderResult struct {
	OrderID  string
	Status   string
	AvgPrice float64 // 0 если биржа еще не вернула цену исполнения
}

// InstrumentRule - нормализованные торговые правила инструмента
//
// Источник: lotSizeFilter из /v5/market/instruments-info.
// Decimals выводится из дробной части строки qtyStep: "0.001" -> 3.
type InstrumentRule struct {
	Symbol      string
	MinOrderQty float64
	QtyStep     float64
	Decimals    int
}

// ClosedPnlRecord - запись закрытого PnL с биржи (/v5/position/closed-pnl)
type ClosedPnlRecord struct {
	OrderID       string
	Symbol        string
	Side          string
	Qty           float64
	ClosedPnl     float64
	AvgEntryPrice float64
	AvgExitPrice  float64
	CreatedTime   time.Time
}

// APIError - ошибка API биржи (retCode != 0 или не-2xx HTTP статус)
type APIError struct {
	Status  int    // HTTP статус
	Code    int    // retCode Bybit
	Message string // retMsg
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error: status=%d retCode=%d msg=%s", e.Status, e.Code, e.Message)
}

// Api - операции биржи, которые использует движок сделок
//
// Интерфейс маленький намеренно: один протокол (Bybit v5), абстракция
// нужна только чтобы подставлять фейк в тестах движка.
type Api interface {
	GetInstrumentRule(ctx context.Context, symbol string) (*InstrumentRule, error)
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	GetOrderFillPrice(ctx context.Context, symbol, orderID string) (float64, error)
	GetClosedPnl(ctx context.Context, symbol string, limit int) ([]ClosedPnlRecord, error)
}

package websocket

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"signalbot/internal/models"
)

// messages.go - типизированные сообщения для дашборда

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Типы исходящих сообщений
const (
	MessageTradeOpened     = "tradeOpened"
	MessageTradeClosed     = "tradeClosed"
	MessageTradeReconciled = "tradeReconciled"
)

// Message - конверт исходящего сообщения
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TradeEvent - содержимое событий жизненного цикла сделки
type TradeEvent struct {
	TradeID     int64    `json:"trade_id"`
	BotID       int64    `json:"bot_id"`
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	State       string   `json:"state"`
	Quantity    float64  `json:"quantity"`
	EntryPrice  float64  `json:"entry_price"`
	ExitPrice   float64  `json:"exit_price,omitempty"`
	RealizedPnl *float64 `json:"realized_pnl,omitempty"`
	CloseReason string   `json:"close_reason,omitempty"`
	Simulated   bool     `json:"simulated"`
	Reconciled  bool     `json:"reconciled"`
}

// newTradeMessage собирает и сериализует событие сделки
func newTradeMessage(msgType string, trade *models.Trade) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload: TradeEvent{
			TradeID:     trade.ID,
			BotID:       trade.BotID,
			Symbol:      trade.Symbol,
			Side:        trade.Side,
			State:       trade.State,
			Quantity:    trade.Quantity,
			EntryPrice:  trade.EntryPrice,
			ExitPrice:   trade.ExitPrice,
			RealizedPnl: trade.RealizedPnl,
			CloseReason: trade.CloseReason,
			Simulated:   trade.Simulated,
			Reconciled:  trade.IsReconciled(),
		},
	})
}

package models

import (
	"errors"
	"strings"
)

// Состояния сигнала: открыть или закрыть позицию
const (
	SignalStateOpen  = "open"
	SignalStateClose = "close"
)

var (
	ErrSignalUnknownState = errors.New("signal state must be open or close")
	ErrSignalInvalidSide  = errors.New("signal side must be Buy or Sell")
)

// AlertSignal - входящий торговый сигнал (тело вебхука TradingView и т.п.)
//
// Большинство полей опциональны: отсутствующие значения берутся из
// конфигурации бота. Сигнал нигде не персистится, только результат-сделка.
type AlertSignal struct {
	State     string `json:"state,omitempty"`      // open / close, пусто = open
	Symbol    string `json:"symbol,omitempty"`     // переопределяет символ бота
	Side      string `json:"side,omitempty"`       // Buy / Sell
	OrderType string `json:"order_type,omitempty"` // Market / Limit

	Price      float64 `json:"price,omitempty"`       // плановая цена входа/выхода из алерта
	Quantity   float64 `json:"quantity,omitempty"`    // явное количество, минуя расчёт размера
	StopLoss   float64 `json:"stop_loss,omitempty"`   // абсолютная цена SL
	TakeProfit float64 `json:"take_profit,omitempty"` // абсолютная цена TP

	// Для close: PnL, посчитанный источником сигнала (если есть)
	RealizedPnl *float64 `json:"realized_pnl,omitempty"`
	// Для close: причина (take_profit / stop_loss / signal)
	CloseReason string `json:"close_reason,omitempty"`

	Comment string `json:"comment,omitempty"`
}

// Normalize приводит поля к каноническому виду и валидирует состояние.
// Пустой state трактуется как open.
func (s *AlertSignal) Normalize() error {
	s.State = strings.ToLower(strings.TrimSpace(s.State))
	switch s.State {
	case "":
		s.State = SignalStateOpen
	case SignalStateOpen, SignalStateClose:
	default:
		return ErrSignalUnknownState
	}

	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))

	switch strings.ToLower(strings.TrimSpace(s.Side)) {
	case "":
		s.Side = ""
	case "buy", "long":
		s.Side = SideBuy
	case "sell", "short":
		s.Side = SideSell
	default:
		return ErrSignalInvalidSide
	}

	return nil
}

// IsOpen возвращает true для сигнала открытия позиции
func (s *AlertSignal) IsOpen() bool {
	return s.State != SignalStateClose
}

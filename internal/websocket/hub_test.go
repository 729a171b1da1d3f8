package websocket

import (
	"testing"
	"time"

	"signalbot/internal/models"
)

func TestBroadcastTradeOpened(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	pnl := 44.95
	hub.BroadcastTradeClosed(&models.Trade{
		ID: 5, BotID: 1, Symbol: "BTCUSDT", Side: "Buy",
		State: models.TradeStateClosed, Quantity: 0.1,
		EntryPrice: 50000, ExitPrice: 50500,
		RealizedPnl: &pnl, CloseReason: "signal",
	})

	select {
	case raw := <-client.send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != MessageTradeClosed {
			t.Errorf("Type = %q, want %q", msg.Type, MessageTradeClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("сообщение не дошло до клиента")
	}
}

func TestSlowClientEvicted(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	// Буфер в одно сообщение и никто не читает
	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	trade := &models.Trade{ID: 1, Symbol: "BTCUSDT", State: models.TradeStateOpen}
	for i := 0; i < 5; i++ {
		hub.BroadcastTradeOpened(trade)
	}
	time.Sleep(50 * time.Millisecond)

	// После переполнения клиент должен быть выброшен, канал закрыт
	select {
	case _, ok := <-client.send:
		if ok {
			// Первое сообщение дойдет, после него канал закроется
			if _, ok := <-client.send; ok {
				t.Error("канал медленного клиента должен быть закрыт")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("канал клиента не закрыт")
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		origin string
		want   bool
	}{
		{"пустой env разрешает всех", "", "http://evil.example", true},
		{"звездочка разрешает всех", "*", "http://evil.example", true},
		{"пустой Origin всегда разрешен", "https://app.example", "", true},
		{"разрешенный origin", "https://app.example,https://ops.example", "https://ops.example", true},
		{"чужой origin", "https://app.example", "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newOriginChecker(tt.env)
			if got := checker.check(tt.origin); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

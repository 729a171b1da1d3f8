package websocket

import (
	"go.uber.org/zap"

	"signalbot/internal/models"
)

// hub.go - центр рассылки событий сделок подключенным дашбордам
//
// Один Hub на процесс. Подписчики получают события жизненного цикла
// (открытие, закрытие, сверка); медленный клиент с переполненным
// буфером отключается, чтобы не тормозить рассылку остальным.

// Hub - реестр WebSocket-клиентов и канал рассылки
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
}

// NewHub создает hub; запускать через go hub.Run(ctx не нужен,
// останов по закрытию процесса)
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run крутит цикл регистрации и рассылки; запускается горутиной из main
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("websocket client connected",
				zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("websocket client disconnected",
					zap.Int("clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Буфер клиента забит: отключаем, не блокируя рассылку
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("slow websocket client evicted")
				}
			}
		}
	}
}

// BroadcastTradeOpened рассылает событие открытия сделки
func (h *Hub) BroadcastTradeOpened(trade *models.Trade) {
	h.send(MessageTradeOpened, trade)
}

// BroadcastTradeClosed рассылает событие закрытия сделки
func (h *Hub) BroadcastTradeClosed(trade *models.Trade) {
	h.send(MessageTradeClosed, trade)
}

// BroadcastTradeReconciled рассылает событие сверки PnL
func (h *Hub) BroadcastTradeReconciled(trade *models.Trade) {
	h.send(MessageTradeReconciled, trade)
}

func (h *Hub) send(msgType string, trade *models.Trade) {
	data, err := newTradeMessage(msgType, trade)
	if err != nil {
		h.logger.Error("marshal websocket message failed",
			zap.String("type", msgType), zap.Error(err))
		return
	}

	// Неблокирующая отправка: при забитом канале рассылки событие
	// дешевле потерять, чем тормозить конвейер сделок
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast buffer full, event dropped",
			zap.String("type", msgType))
	}
}

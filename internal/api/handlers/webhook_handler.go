package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"signalbot/internal/models"
	"signalbot/pkg/crypto"
)

// webhook_handler.go - приём торговых сигналов
//
// POST /api/v1/webhook/{id}
// Токен в заголовке X-Webhook-Token (или ?token=) сверяется с
// bcrypt-хешем из конфигурации бота. Тело - AlertSignal JSON.

// Максимальный размер тела вебхука
const maxWebhookBody = 1 << 20 // 1 MB

// AlertProcessor - движок сделок с точки зрения вебхука
type AlertProcessor interface {
	HandleAlert(ctx context.Context, botID int64, sig *models.AlertSignal) (*models.Trade, error)
}

// BotReader - чтение конфигурации бота
type BotReader interface {
	GetByID(ctx context.Context, id int64) (*models.BotConfig, error)
}

// WebhookHandler - обработчик входящих сигналов
type WebhookHandler struct {
	processor AlertProcessor
	bots      BotReader
	logger    *zap.Logger
}

// NewWebhookHandler создает обработчик вебхуков
func NewWebhookHandler(processor AlertProcessor, bots BotReader, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{processor: processor, bots: bots, logger: logger}
}

// HandleWebhook принимает сигнал и запускает конвейер
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || botID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid bot id")
		return
	}

	bot, err := h.bots.GetByID(r.Context(), botID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	// Аутентификация до чтения тела: чужие запросы отбрасываются дешево
	token := r.Header.Get("X-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := crypto.VerifyToken(token, bot.WebhookTokenHash); err != nil {
		h.logger.Warn("webhook token rejected", zap.Int64("bot_id", botID))
		handleServiceError(w, h.logger, err)
		return
	}

	var sig models.AlertSignal
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid signal payload")
		return
	}

	trade, err := h.processor.HandleAlert(r.Context(), botID, &sig)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, trade)
}

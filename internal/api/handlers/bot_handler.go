package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"signalbot/internal/models"
)

// bot_handler.go - read API конфигураций ботов

// BotLister - чтение списка ботов
type BotLister interface {
	BotReader
	GetAllEnabled(ctx context.Context) ([]*models.BotConfig, error)
}

// AuditReader - чтение журнала аудита
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error)
}

// BotHandler - обработчики ботов и журнала
type BotHandler struct {
	bots   BotLister
	audit  AuditReader
	logger *zap.Logger
}

// NewBotHandler создает обработчик ботов
func NewBotHandler(bots BotLister, audit AuditReader, logger *zap.Logger) *BotHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotHandler{bots: bots, audit: audit, logger: logger}
}

// ListBots возвращает включенных ботов
// GET /api/v1/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.GetAllEnabled(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if bots == nil {
		bots = []*models.BotConfig{}
	}

	respondWithJSON(w, http.StatusOK, bots)
}

// GetBot возвращает бота по id
// GET /api/v1/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid bot id")
		return
	}

	bot, err := h.bots.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, bot)
}

// ListAudit возвращает последние записи журнала решений
// GET /api/v1/audit?limit=100
func (h *BotHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	respondWithJSON(w, http.StatusOK, entries)
}

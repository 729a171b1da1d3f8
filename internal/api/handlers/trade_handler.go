package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"signalbot/internal/engine"
	"signalbot/internal/models"
)

// trade_handler.go - read API сделок и ручной запуск сверки

// TradeReader - чтение сделок
type TradeReader interface {
	GetByID(ctx context.Context, id int64) (*models.Trade, error)
	ListByBot(ctx context.Context, botID int64, limit int) ([]*models.Trade, error)
}

// TradeReconciler - ручной запуск сверки одной сделки
type TradeReconciler interface {
	ReconcileTrade(ctx context.Context, trade *models.Trade) (engine.Outcome, error)
}

// TradeHandler - обработчики сделок
type TradeHandler struct {
	trades     TradeReader
	reconciler TradeReconciler
	logger     *zap.Logger
}

// NewTradeHandler создает обработчик сделок
func NewTradeHandler(trades TradeReader, reconciler TradeReconciler, logger *zap.Logger) *TradeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeHandler{trades: trades, reconciler: reconciler, logger: logger}
}

// GetTrade возвращает сделку по id
// GET /api/v1/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid trade id")
		return
	}

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, trade)
}

// ListBotTrades возвращает последние сделки бота
// GET /api/v1/bots/{id}/trades?limit=50
func (h *TradeHandler) ListBotTrades(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || botID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid bot id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trades, err := h.trades.ListByBot(r.Context(), botID, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}

	respondWithJSON(w, http.StatusOK, trades)
}

// ReconcileTrade вручную запускает сверку сделки
// POST /api/v1/trades/{id}/reconcile
func (h *TradeHandler) ReconcileTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid trade id")
		return
	}

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	outcome, err := h.reconciler.ReconcileTrade(r.Context(), trade)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": outcome,
		"trade":   trade,
	})
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"signalbot/internal/api/handlers"
	"signalbot/internal/api/middleware"
	"signalbot/internal/websocket"
)

// routes.go - маршрутизация HTTP API

// Dependencies - зависимости маршрутов
type Dependencies struct {
	Logger *zap.Logger
	Hub    *websocket.Hub

	Processor  handlers.AlertProcessor
	Bots       handlers.BotLister
	Trades     handlers.TradeReader
	Reconciler handlers.TradeReconciler
	Audit      handlers.AuditReader
}

// SetupRoutes собирает роутер со всеми эндпоинтами и middleware
func SetupRoutes(deps Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS)

	// Служебные эндпоинты вне версионированного API
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/ws/trades", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWS(deps.Hub, w, r)
	})

	webhookHandler := handlers.NewWebhookHandler(deps.Processor, deps.Bots, deps.Logger)
	botHandler := handlers.NewBotHandler(deps.Bots, deps.Audit, deps.Logger)
	tradeHandler := handlers.NewTradeHandler(deps.Trades, deps.Reconciler, deps.Logger)

	apiV1 := router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/webhook/{id:[0-9]+}", webhookHandler.HandleWebhook).Methods(http.MethodPost)

	apiV1.HandleFunc("/bots", botHandler.ListBots).Methods(http.MethodGet)
	apiV1.HandleFunc("/bots/{id:[0-9]+}", botHandler.GetBot).Methods(http.MethodGet)
	apiV1.HandleFunc("/bots/{id:[0-9]+}/trades", tradeHandler.ListBotTrades).Methods(http.MethodGet)

	apiV1.HandleFunc("/trades/{id:[0-9]+}", tradeHandler.GetTrade).Methods(http.MethodGet)
	apiV1.HandleFunc("/trades/{id:[0-9]+}/reconcile", tradeHandler.ReconcileTrade).Methods(http.MethodPost)

	apiV1.HandleFunc("/audit", botHandler.ListAudit).Methods(http.MethodGet)

	return router
}

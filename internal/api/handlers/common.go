package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"signalbot/internal/engine"
	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/repository"
	"signalbot/internal/risk"
	"signalbot/internal/sizing"
	"signalbot/pkg/crypto"
)

// common.go - общие ответы и маппинг ошибок на HTTP-статусы

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	Error  string      `json:"error"`
	Reason string      `json:"reason,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: message})
}

// handleServiceError транслирует типизированные ошибки конвейера
// в HTTP-статусы; неопознанная ошибка = 500 без деталей наружу
func handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var denied *risk.DeniedError
	var validation *sizing.ValidationError
	var apiErr *exchange.APIError

	switch {
	case errors.As(err, &denied):
		respondWithJSON(w, http.StatusConflict, ErrorResponse{
			Error:  "signal denied by risk limits",
			Reason: denied.Reason,
			Detail: denied.Error(),
		})

	case errors.As(err, &validation),
		errors.Is(err, sizing.ErrInvalidStopLoss),
		errors.Is(err, models.ErrSignalUnknownState),
		errors.Is(err, models.ErrSignalInvalidSide),
		errors.Is(err, engine.ErrQuantityNotResolved):
		respondWithError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, crypto.ErrTokenMismatch), errors.Is(err, crypto.ErrEmptyToken):
		respondWithError(w, http.StatusUnauthorized, "invalid webhook token")

	case errors.Is(err, engine.ErrBotDisabled):
		respondWithError(w, http.StatusForbidden, "bot is disabled")

	case errors.Is(err, repository.ErrBotNotFound),
		errors.Is(err, repository.ErrTradeNotFound),
		errors.Is(err, repository.ErrNoOpenTrade):
		respondWithError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, repository.ErrOpenTradeExists):
		respondWithError(w, http.StatusConflict, err.Error())

	case errors.As(err, &apiErr):
		logger.Error("exchange api error", zap.Error(err))
		respondWithJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:  "exchange request failed",
			Detail: apiErr.Message,
		})

	default:
		logger.Error("internal error", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

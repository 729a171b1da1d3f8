package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"signalbot/internal/models"
	"signalbot/internal/risk"
	"signalbot/pkg/crypto"
)

const testToken = "0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f6071"

func webhookBot(t *testing.T) *models.BotConfig {
	t.Helper()
	hash, err := crypto.HashToken(testToken)
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	return &models.BotConfig{ID: 1, Symbol: "BTCUSDT", Enabled: true, WebhookTokenHash: hash}
}

func webhookRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/1", strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}
	return mux.SetURLVars(req, map[string]string{"id": "1"})
}

func TestHandleWebhookOK(t *testing.T) {
	processor := &stubProcessor{trade: &models.Trade{ID: 5, Symbol: "BTCUSDT", State: "open"}}
	handler := NewWebhookHandler(processor, &stubBots{bot: webhookBot(t)}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{"state":"open","price":50000,"stop_loss":49000}`, testToken))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if processor.calls != 1 {
		t.Errorf("processor вызван %d раз, want 1", processor.calls)
	}
	if processor.gotBot != 1 {
		t.Errorf("botID = %d, want 1", processor.gotBot)
	}
	if processor.gotSig.Price != 50000 || processor.gotSig.StopLoss != 49000 {
		t.Errorf("signal = %+v", processor.gotSig)
	}
}

func TestHandleWebhookBadToken(t *testing.T) {
	processor := &stubProcessor{}
	handler := NewWebhookHandler(processor, &stubBots{bot: webhookBot(t)}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{"state":"open"}`, "wrong-token"))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if processor.calls != 0 {
		t.Error("движок не должен вызываться без валидного токена")
	}
}

func TestHandleWebhookMissingToken(t *testing.T) {
	handler := NewWebhookHandler(&stubProcessor{}, &stubBots{bot: webhookBot(t)}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{"state":"open"}`, ""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleWebhookInvalidBody(t *testing.T) {
	handler := NewWebhookHandler(&stubProcessor{}, &stubBots{bot: webhookBot(t)}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{not json`, testToken))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleWebhookUnknownBot(t *testing.T) {
	handler := NewWebhookHandler(&stubProcessor{}, &stubBots{}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{"state":"open"}`, testToken))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleWebhookRiskDenied(t *testing.T) {
	processor := &stubProcessor{err: &risk.DeniedError{
		Reason: risk.ReasonDailyLossLimit, CumulativeLoss: 120, Limit: 100,
	}}
	handler := NewWebhookHandler(processor, &stubBots{bot: webhookBot(t)}, nil)

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, webhookRequest(`{"state":"open","price":50000}`, testToken))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Reason != risk.ReasonDailyLossLimit {
		t.Errorf("Reason = %q, want %q", resp.Reason, risk.ReasonDailyLossLimit)
	}
}

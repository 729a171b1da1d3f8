package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/repository"
	"signalbot/internal/risk"
	"signalbot/pkg/utils"
)

// ============================================================
// Фейки зависимостей движка
// ============================================================

type fakeBots struct {
	bot            *models.BotConfig
	appliedDeltas  []float64
	addedDeltas    []float64
	applyCallCount int
}

func (f *fakeBots) GetByID(_ context.Context, id int64) (*models.BotConfig, error) {
	if f.bot == nil || f.bot.ID != id {
		return nil, repository.ErrBotNotFound
	}
	copied := *f.bot
	return &copied, nil
}

func (f *fakeBots) ApplyTradeResult(_ context.Context, _ int64, delta float64) error {
	f.applyCallCount++
	f.appliedDeltas = append(f.appliedDeltas, delta)
	return nil
}

func (f *fakeBots) AddProfitLoss(_ context.Context, _ int64, delta float64) error {
	f.addedDeltas = append(f.addedDeltas, delta)
	return nil
}

type fakeTrades struct {
	created    []*models.Trade
	openTrade  *models.Trade
	closedArgs *struct {
		id          int64
		exitPrice   float64
		realizedPnl float64
		fees        float64
		closeReason string
	}
	metricsSet   *models.TradeMetrics
	reconciled   bool
	reconciledCh chan struct{}
	unreconciled []*models.Trade
}

func (f *fakeTrades) Create(_ context.Context, t *models.Trade) error {
	t.ID = int64(len(f.created) + 1)
	t.State = models.TradeStateOpen
	t.CreatedAt = time.Now().Add(-time.Hour)
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTrades) GetByID(_ context.Context, id int64) (*models.Trade, error) {
	for _, t := range f.created {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, repository.ErrTradeNotFound
}

func (f *fakeTrades) GetOpenTrade(_ context.Context, _ int64, _ string) (*models.Trade, error) {
	if f.openTrade == nil {
		return nil, repository.ErrNoOpenTrade
	}
	copied := *f.openTrade
	return &copied, nil
}

func (f *fakeTrades) Close(_ context.Context, id int64, exitPrice, realizedPnl, fees float64, closeReason string, _ time.Time) error {
	f.closedArgs = &struct {
		id          int64
		exitPrice   float64
		realizedPnl float64
		fees        float64
		closeReason string
	}{id, exitPrice, realizedPnl, fees, closeReason}
	return nil
}

func (f *fakeTrades) SetMetrics(_ context.Context, _ int64, m *models.TradeMetrics) error {
	f.metricsSet = m
	return nil
}

func (f *fakeTrades) ApplyReconciliation(_ context.Context, _ int64, _, _, _ float64, _ time.Time) error {
	f.reconciled = true
	if f.reconciledCh != nil {
		f.reconciledCh <- struct{}{}
	}
	return nil
}

func (f *fakeTrades) ListUnreconciled(_ context.Context, _ int) ([]*models.Trade, error) {
	return f.unreconciled, nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Append(_ context.Context, entry *models.AuditEntry) error {
	f.events = append(f.events, entry.Event)
	return nil
}

type fakeGate struct {
	denyWith error
}

func (f *fakeGate) Check(_ context.Context, _ *models.BotConfig, _ *models.AlertSignal) error {
	return f.denyWith
}

type fakeExchange struct {
	rule       *exchange.InstrumentRule
	ruleErr    error
	placed     []*exchange.OrderRequest
	placeErr   error
	fillPrice  float64
	closedPnl  []exchange.ClosedPnlRecord
	pnlErr     error
	pnlQueries int
}

func (f *fakeExchange) GetInstrumentRule(_ context.Context, symbol string) (*exchange.InstrumentRule, error) {
	if f.ruleErr != nil {
		return nil, f.ruleErr
	}
	if f.rule != nil {
		return f.rule, nil
	}
	return &exchange.InstrumentRule{Symbol: symbol, MinOrderQty: 0.001, QtyStep: 0.001, Decimals: 3}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &exchange.OrderResult{OrderID: "ord-42", Status: exchange.OrderStatusFilled, AvgPrice: f.fillPrice}, nil
}

func (f *fakeExchange) GetOrderFillPrice(_ context.Context, _, _ string) (float64, error) {
	return f.fillPrice, nil
}

func (f *fakeExchange) GetClosedPnl(_ context.Context, _ string, _ int) ([]exchange.ClosedPnlRecord, error) {
	f.pnlQueries++
	if f.pnlErr != nil {
		return nil, f.pnlErr
	}
	return f.closedPnl, nil
}

type fakeHub struct {
	opened, closed, reconciledN int
}

func (f *fakeHub) BroadcastTradeOpened(*models.Trade)     { f.opened++ }
func (f *fakeHub) BroadcastTradeClosed(*models.Trade)     { f.closed++ }
func (f *fakeHub) BroadcastTradeReconciled(*models.Trade) { f.reconciledN++ }

func staticProvider(api exchange.Api) ClientProvider {
	return func(context.Context, int64, int64) (exchange.Api, error) {
		return api, nil
	}
}

func testBot() *models.BotConfig {
	return &models.BotConfig{
		ID: 1, UserID: 10, Name: "btc-breakout",
		Symbol: "BTCUSDT", Side: "Buy", OrderType: "Market",
		PositionSizingEnabled: true, RiskPerTrade: 100, FeePercent: 0.075,
		Enabled: true,
	}
}

func newTestEngine(bots *fakeBots, trades *fakeTrades, gate *fakeGate, api exchange.Api, hub *fakeHub) (*Engine, *fakeAudit) {
	audit := &fakeAudit{}
	cfg := Config{
		Bots:      bots,
		Trades:    trades,
		Audit:     audit,
		Gate:      gate,
		ClientFor: staticProvider(api),
	}
	// nil *fakeHub в интерфейсном поле перестал бы быть nil-интерфейсом
	// и прошел бы проверку hub != nil в движке
	if hub != nil {
		cfg.Hub = hub
	}
	return New(cfg), audit
}

// ============================================================
// Открытие
// ============================================================

func TestHandleAlertOpenWithSizing(t *testing.T) {
	bots := &fakeBots{bot: testBot()}
	trades := &fakeTrades{}
	api := &fakeExchange{fillPrice: 50100}
	hub := &fakeHub{}
	eng, audit := newTestEngine(bots, trades, &fakeGate{}, api, hub)

	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{
		State: "open", Price: 50000, StopLoss: 49000,
	})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	// 100/(1000 + 99000*0.00075) = 0.0931 -> шаг 0.001 вниз -> 0.093
	if !utils.ApproxEqual(trade.Quantity, 0.093, 1e-9) {
		t.Errorf("Quantity = %v, want 0.093", trade.Quantity)
	}
	if trade.EntryPrice != 50100 {
		t.Errorf("EntryPrice = %v, want цену исполнения 50100", trade.EntryPrice)
	}
	if trade.PlannedEntryPrice != 50000 {
		t.Errorf("PlannedEntryPrice = %v", trade.PlannedEntryPrice)
	}
	if trade.RealizedPnl != nil {
		t.Error("realized_pnl реальной открытой сделки должен быть nil")
	}

	if len(api.placed) != 1 {
		t.Fatalf("ордеров выставлено %d, want 1", len(api.placed))
	}
	if api.placed[0].Qty != trade.Quantity || api.placed[0].Side != "Buy" {
		t.Errorf("ордер = %+v", api.placed[0])
	}

	if bots.applyCallCount != 1 {
		t.Errorf("счётчики бота обновлены %d раз, want 1", bots.applyCallCount)
	}
	if hub.opened != 1 {
		t.Errorf("broadcast opened = %d, want 1", hub.opened)
	}

	wantEvents := []string{"signal_received", "trade_opened"}
	for _, want := range wantEvents {
		found := false
		for _, got := range audit.events {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("в аудите нет события %q: %v", want, audit.events)
		}
	}
}

func TestHandleAlertRiskDenied(t *testing.T) {
	bots := &fakeBots{bot: testBot()}
	trades := &fakeTrades{}
	api := &fakeExchange{}
	denial := &risk.DeniedError{Reason: risk.ReasonDailyLossLimit, CumulativeLoss: 120, Limit: 100}
	eng, audit := newTestEngine(bots, trades, &fakeGate{denyWith: denial}, api, nil)

	_, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "open", Price: 50000})

	var denied *risk.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("ожидался *risk.DeniedError, получен %v", err)
	}

	// Отказ обязан сработать до биржи и до персиста
	if len(api.placed) != 0 {
		t.Error("при отказе риска ордер не должен выставляться")
	}
	if len(trades.created) != 0 {
		t.Error("при отказе риска сделка не должна создаваться")
	}

	found := false
	for _, event := range audit.events {
		if event == "risk_denied" {
			found = true
		}
	}
	if !found {
		t.Errorf("в аудите нет risk_denied: %v", audit.events)
	}
}

func TestHandleAlertTestMode(t *testing.T) {
	bot := testBot()
	bot.TestMode = true
	bots := &fakeBots{bot: bot}
	trades := &fakeTrades{}
	api := &fakeExchange{}
	eng, _ := newTestEngine(bots, trades, &fakeGate{}, api, nil)

	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{
		State: "open", Price: 50000, StopLoss: 49000,
	})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	if !trade.Simulated {
		t.Error("сделка в тестовом режиме должна быть помечена simulated")
	}
	if !strings.HasPrefix(trade.ExchangeOrderID, "SIM-") {
		t.Errorf("ExchangeOrderID = %q, ожидался префикс SIM-", trade.ExchangeOrderID)
	}
	if trade.RealizedPnl == nil {
		t.Error("симулированная сделка получает случайный PnL для UI")
	}
	if len(api.placed) != 0 {
		t.Error("в тестовом режиме биржа не должна вызываться")
	}
}

func TestHandleAlertDisabledBot(t *testing.T) {
	bot := testBot()
	bot.Enabled = false
	eng, _ := newTestEngine(&fakeBots{bot: bot}, &fakeTrades{}, &fakeGate{}, &fakeExchange{}, nil)

	_, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "open"})
	if !errors.Is(err, ErrBotDisabled) {
		t.Errorf("ожидался ErrBotDisabled, получен %v", err)
	}
}

func TestHandleAlertInstrumentLookupFallback(t *testing.T) {
	bots := &fakeBots{bot: testBot()}
	trades := &fakeTrades{}
	api := &fakeExchange{
		ruleErr:   &exchange.APIError{Status: 503, Message: "unavailable"},
		fillPrice: 50000,
	}
	eng, _ := newTestEngine(bots, trades, &fakeGate{}, api, nil)

	// Сбой запроса правил не фатален: расчёт идет на дефолтах
	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{
		State: "open", Price: 50000, StopLoss: 49000,
	})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}
	if trade.Quantity <= 0 {
		t.Errorf("Quantity = %v", trade.Quantity)
	}
}

// ============================================================
// Закрытие
// ============================================================

func openTradeFixture() *models.Trade {
	return &models.Trade{
		ID: 5, BotID: 1, UserID: 10,
		Symbol: "BTCUSDT", Side: "Buy", OrderType: "Market",
		Quantity: 0.1, EntryPrice: 50000, PlannedEntryPrice: 50000,
		State: models.TradeStateOpen, ExchangeOrderID: "ord-42",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
}

func TestCloseWithoutProtectiveOrders(t *testing.T) {
	bot := testBot()
	bot.FeePercent = 0.1 // 0.1% -> ставка 0.001
	bots := &fakeBots{bot: bot}
	trades := &fakeTrades{openTrade: openTradeFixture()}
	api := &fakeExchange{fillPrice: 50500}
	hub := &fakeHub{}
	eng, _ := newTestEngine(bots, trades, &fakeGate{}, api, hub)

	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "close"})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	// Ровно один встречный ордер
	if len(api.placed) != 1 {
		t.Fatalf("ордеров выставлено %d, want 1", len(api.placed))
	}
	if api.placed[0].Side != "Sell" || api.placed[0].OrderType != "Market" {
		t.Errorf("встречный ордер = %+v", api.placed[0])
	}
	if api.placed[0].Qty != 0.1 {
		t.Errorf("qty встречного ордера = %v, want 0.1", api.placed[0].Qty)
	}

	// (50500-50000)*0.1 - 50500*0.1*0.001 = 50 - 5.05 = 44.95
	if !utils.ApproxEqual(*trade.RealizedPnl, 44.95, 1e-9) {
		t.Errorf("RealizedPnl = %v, want 44.95", *trade.RealizedPnl)
	}
	if trade.ExitPrice != 50500 {
		t.Errorf("ExitPrice = %v", trade.ExitPrice)
	}
	if trade.CloseReason != models.CloseReasonSignal {
		t.Errorf("CloseReason = %q", trade.CloseReason)
	}

	if len(bots.addedDeltas) != 1 || !utils.ApproxEqual(bots.addedDeltas[0], 44.95, 1e-9) {
		t.Errorf("дельта PnL бота = %v, want [44.95]", bots.addedDeltas)
	}
	if trades.metricsSet == nil {
		t.Error("снимок метрик не сохранен")
	} else if trades.metricsSet.Outcome != models.OutcomeWin {
		t.Errorf("Outcome = %q, want win", trades.metricsSet.Outcome)
	}
	if hub.closed != 1 {
		t.Errorf("broadcast closed = %d, want 1", hub.closed)
	}
}

func TestCloseHandsReconcilerItsOwnCopy(t *testing.T) {
	bot := testBot()
	bot.FeePercent = 0.1
	bots := &fakeBots{bot: bot}
	done := make(chan struct{}, 1)
	trades := &fakeTrades{openTrade: openTradeFixture(), reconciledCh: done}
	api := &fakeExchange{fillPrice: 50500, closedPnl: []exchange.ClosedPnlRecord{
		{OrderID: "ord-42", ClosedPnl: 43.10, AvgEntryPrice: 50010, AvgExitPrice: 50480},
	}}

	rec := newTestReconciler(trades, bots, api, nil)
	eng := New(Config{
		Bots:       bots,
		Trades:     trades,
		Audit:      &fakeAudit{},
		Gate:       &fakeGate{},
		ClientFor:  staticProvider(api),
		Reconciler: rec,
	})

	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "close"})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("асинхронная сверка не завершилась")
	}

	// Сверка пишет авторитетный PnL в собственную копию сделки:
	// экземпляр, отданный вызывающему, остается с оценкой
	if trade.RealizedPnl == nil || !utils.ApproxEqual(*trade.RealizedPnl, 44.95, 1e-9) {
		t.Errorf("RealizedPnl = %v, want оценку 44.95", trade.RealizedPnl)
	}
	if trade.ReconciledAt != nil {
		t.Error("ReconciledAt у сделки вызывающего не должен проставляться воркером")
	}
}

func TestCloseWithTakeProfitNoOrder(t *testing.T) {
	bot := testBot()
	bots := &fakeBots{bot: bot}

	open := openTradeFixture()
	open.TakeProfit = 51000
	trades := &fakeTrades{openTrade: open}
	api := &fakeExchange{}
	eng, _ := newTestEngine(bots, trades, &fakeGate{}, api, nil)

	suppliedPnl := 98.5
	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{
		State: "close", Price: 51050, RealizedPnl: &suppliedPnl,
	})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	// SL/TP стояли на бирже: встречный ордер не выставляется
	if len(api.placed) != 0 {
		t.Errorf("ордеров выставлено %d, want 0", len(api.placed))
	}
	if *trade.RealizedPnl != suppliedPnl {
		t.Errorf("RealizedPnl = %v, want присланный %v", *trade.RealizedPnl, suppliedPnl)
	}
	if trade.CloseReason != models.CloseReasonTakeProfit {
		t.Errorf("CloseReason = %q, want take_profit", trade.CloseReason)
	}
}

func TestCloseStopLossReasonDerived(t *testing.T) {
	open := openTradeFixture()
	open.StopLoss = 49000
	trades := &fakeTrades{openTrade: open}
	eng, _ := newTestEngine(&fakeBots{bot: testBot()}, trades, &fakeGate{}, &fakeExchange{}, nil)

	trade, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{
		State: "close", Price: 48950,
	})
	if err != nil {
		t.Fatalf("HandleAlert() error = %v", err)
	}

	if trade.CloseReason != models.CloseReasonStopLoss {
		t.Errorf("CloseReason = %q, want stop_loss", trade.CloseReason)
	}
	if trade.Metrics != nil && trade.Metrics.Outcome != models.OutcomeLoss {
		t.Errorf("Outcome = %q, want loss", trade.Metrics.Outcome)
	}
}

func TestCloseNoOpenTrade(t *testing.T) {
	eng, _ := newTestEngine(&fakeBots{bot: testBot()}, &fakeTrades{}, &fakeGate{}, &fakeExchange{}, nil)

	_, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "close"})
	if !errors.Is(err, repository.ErrNoOpenTrade) {
		t.Errorf("ожидался ErrNoOpenTrade, получен %v", err)
	}
}

func TestHandleAlertUnknownState(t *testing.T) {
	eng, _ := newTestEngine(&fakeBots{bot: testBot()}, &fakeTrades{}, &fakeGate{}, &fakeExchange{}, nil)

	_, err := eng.HandleAlert(context.Background(), 1, &models.AlertSignal{State: "flip"})
	if !errors.Is(err, models.ErrSignalUnknownState) {
		t.Errorf("ожидался ErrSignalUnknownState, получен %v", err)
	}
}

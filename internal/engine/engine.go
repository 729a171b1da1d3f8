package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalbot/internal/analytics"
	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/risk"
	"signalbot/internal/sizing"
	"signalbot/pkg/crypto"
	"signalbot/pkg/utils"
)

// engine.go - машина состояний жизненного цикла сделки
//
// Один вызов HandleAlert - одна stateless обработка сигнала: все общее
// состояние живет в базе и считается изменяемым извне между чтением
// и записью. Выставление ордера выполняется не более одного раза на
// сигнал и не ретраится.

var (
	ErrBotDisabled = errors.New("bot is disabled")
	// ErrQuantityNotResolved - ни сигнал, ни конфигурация бота не дали
	// количество для ордера
	ErrQuantityNotResolved = errors.New("order quantity could not be resolved")
)

// Ставка комиссии по умолчанию (0.1% тейкер), если бот её не настроил
const defaultFeeRate = 0.001

// BotStore - операции над ботами, нужные движку
type BotStore interface {
	GetByID(ctx context.Context, id int64) (*models.BotConfig, error)
	ApplyTradeResult(ctx context.Context, botID int64, pnlDelta float64) error
	AddProfitLoss(ctx context.Context, botID int64, delta float64) error
}

// TradeStore - операции над сделками, нужные движку
type TradeStore interface {
	Create(ctx context.Context, t *models.Trade) error
	GetByID(ctx context.Context, id int64) (*models.Trade, error)
	GetOpenTrade(ctx context.Context, botID int64, symbol string) (*models.Trade, error)
	Close(ctx context.Context, id int64, exitPrice, realizedPnl, fees float64, closeReason string, closedAt time.Time) error
	SetMetrics(ctx context.Context, id int64, m *models.TradeMetrics) error
	ApplyReconciliation(ctx context.Context, id int64, pnl, avgEntry, avgExit float64, reconciledAt time.Time) error
	ListUnreconciled(ctx context.Context, limit int) ([]*models.Trade, error)
}

// CredentialStore - чтение зашифрованных API-ключей
type CredentialStore interface {
	GetForBot(ctx context.Context, userID, botID int64) (*models.ExchangeCredential, error)
}

// AuditLogger - журнал решений конвейера
type AuditLogger interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

// RiskChecker - предторговый риск-контроль
type RiskChecker interface {
	Check(ctx context.Context, bot *models.BotConfig, sig *models.AlertSignal) error
}

// Broadcaster - рассылка событий жизненного цикла подписчикам (WebSocket)
type Broadcaster interface {
	BroadcastTradeOpened(trade *models.Trade)
	BroadcastTradeClosed(trade *models.Trade)
	BroadcastTradeReconciled(trade *models.Trade)
}

// ClientFactory создает клиента биржи для расшифрованной пары ключей
type ClientFactory func(apiKey, apiSecret string) exchange.Api

// ClientProvider выдает клиента биржи для бота (ключи из хранилища,
// расшифровка, фабрика)
type ClientProvider func(ctx context.Context, userID, botID int64) (exchange.Api, error)

// NewClientProvider собирает ClientProvider поверх хранилища ключей
func NewClientProvider(creds CredentialStore, encryptionKey string, factory ClientFactory) ClientProvider {
	return func(ctx context.Context, userID, botID int64) (exchange.Api, error) {
		cred, err := creds.GetForBot(ctx, userID, botID)
		if err != nil {
			return nil, err
		}

		apiKey, err := crypto.Decrypt(cred.APIKey, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key: %w", err)
		}
		apiSecret, err := crypto.Decrypt(cred.APISecret, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt api secret: %w", err)
		}

		return factory(apiKey, apiSecret), nil
	}
}

// Engine - обработчик торговых сигналов
type Engine struct {
	bots      BotStore
	trades    TradeStore
	audit     AuditLogger
	gate      RiskChecker
	hub       Broadcaster
	clientFor ClientProvider

	reconciler *Reconciler
	logger     *zap.Logger
	now        func() time.Time
}

// Config - зависимости движка
type Config struct {
	Bots       BotStore
	Trades     TradeStore
	Audit      AuditLogger
	Gate       RiskChecker
	Hub        Broadcaster
	ClientFor  ClientProvider
	Reconciler *Reconciler
	Logger     *zap.Logger
}

// New создает движок сделок
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		bots:       cfg.Bots,
		trades:     cfg.Trades,
		audit:      cfg.Audit,
		gate:       cfg.Gate,
		hub:        cfg.Hub,
		clientFor:  cfg.ClientFor,
		reconciler: cfg.Reconciler,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// HandleAlert обрабатывает один входящий сигнал для бота
func (e *Engine) HandleAlert(ctx context.Context, botID int64, sig *models.AlertSignal) (*models.Trade, error) {
	if err := sig.Normalize(); err != nil {
		recordSignal(sig.State, "invalid")
		return nil, err
	}

	bot, err := e.bots.GetByID(ctx, botID)
	if err != nil {
		recordSignal(sig.State, "error")
		return nil, err
	}
	if !bot.Enabled {
		recordSignal(sig.State, "rejected")
		return nil, ErrBotDisabled
	}

	e.auditLog(ctx, models.AuditLevelInfo, "signal_received", "signal accepted for processing",
		&bot.ID, nil, map[string]interface{}{
			"state":  sig.State,
			"symbol": sig.Symbol,
			"side":   sig.Side,
			"price":  sig.Price,
		})

	var trade *models.Trade
	if sig.IsOpen() {
		trade, err = e.openTrade(ctx, bot, sig)
	} else {
		trade, err = e.closeTrade(ctx, bot, sig)
	}

	if err != nil {
		recordSignal(sig.State, "error")
		return nil, err
	}

	recordSignal(sig.State, "ok")
	return trade, nil
}

// openTrade открывает позицию по сигналу
//
// Порядок жесткий: риск-контроль -> правила инструмента -> количество ->
// ордер -> персист. Отказ риска не доходит до биржи.
func (e *Engine) openTrade(ctx context.Context, bot *models.BotConfig, sig *models.AlertSignal) (*models.Trade, error) {
	if err := e.gate.Check(ctx, bot, sig); err != nil {
		e.handleRiskDenial(ctx, bot, err)
		return nil, err
	}

	symbol := sig.Symbol
	if symbol == "" {
		symbol = bot.Symbol
	}
	side := sig.Side
	if side == "" {
		side = bot.Side
	}
	orderType := sig.OrderType
	if orderType == "" {
		orderType = bot.OrderType
	}
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}

	entryPrice := sig.Price
	stopLoss, takeProfit := e.resolveProtectivePrices(bot, sig, side, entryPrice)

	var client exchange.Api
	if !bot.TestMode {
		var err error
		client, err = e.clientFor(ctx, bot.UserID, bot.ID)
		if err != nil {
			return nil, fmt.Errorf("exchange client for bot %d: %w", bot.ID, err)
		}
	}

	rule := e.resolveInstrumentRule(ctx, client, bot, symbol)

	qty, err := e.resolveQuantity(bot, sig, rule, side, entryPrice, stopLoss)
	if err != nil {
		e.auditLog(ctx, models.AuditLevelWarn, "sizing_failed", err.Error(), &bot.ID, nil, nil)
		return nil, err
	}

	req := &exchange.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		OrderType:   orderType,
		Qty:         qty,
		Price:       entryPrice,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
		QtyDecimals: rule.Decimals,
	}

	start := e.now()
	var result *exchange.OrderResult
	if bot.TestMode {
		result = simulateOrder(entryPrice)
	} else {
		result, err = client.PlaceOrder(ctx, req)
		if err != nil {
			e.auditLog(ctx, models.AuditLevelError, "order_failed", err.Error(), &bot.ID, nil,
				map[string]interface{}{"symbol": symbol, "side": side, "qty": qty})
			return nil, fmt.Errorf("place order: %w", err)
		}
	}
	recordOrderPlaced(side, bot.TestMode, e.now().Sub(start))

	fillPrice := e.resolveFillPrice(ctx, client, bot, symbol, result, entryPrice)

	trade := &models.Trade{
		BotID:             bot.ID,
		UserID:            bot.UserID,
		Symbol:            symbol,
		Side:              side,
		OrderType:         orderType,
		Quantity:          qty,
		PlannedEntryPrice: entryPrice,
		EntryPrice:        fillPrice,
		StopLoss:          stopLoss,
		TakeProfit:        takeProfit,
		ExchangeOrderID:   result.OrderID,
		Simulated:         bot.TestMode,
	}

	// Случайный PnL симуляции существует только для UI и никогда
	// не попадает в реальный путь
	if bot.TestMode {
		simPnl := simulatePnl(qty * fillPrice)
		trade.RealizedPnl = &simPnl
	}

	if err := e.trades.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	// Счётчики бота: сбой здесь не откатывает уже сохраненную сделку
	if err := e.bots.ApplyTradeResult(ctx, bot.ID, trade.PnlValue()); err != nil {
		e.logger.Warn("bot counters update failed",
			zap.Int64("bot_id", bot.ID), zap.Error(err))
	}

	e.auditLog(ctx, models.AuditLevelInfo, "trade_opened", "trade opened",
		&bot.ID, &trade.ID, map[string]interface{}{
			"symbol":   symbol,
			"side":     side,
			"qty":      qty,
			"entry":    fillPrice,
			"order_id": result.OrderID,
		})

	e.logger.Info("trade opened",
		zap.Int64("bot_id", bot.ID),
		zap.Int64("trade_id", trade.ID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("qty", qty),
		zap.Bool("simulated", trade.Simulated))

	if e.hub != nil {
		e.hub.BroadcastTradeOpened(trade)
	}

	return trade, nil
}

// closeTrade закрывает самую свежую открытую сделку (бот, символ)
func (e *Engine) closeTrade(ctx context.Context, bot *models.BotConfig, sig *models.AlertSignal) (*models.Trade, error) {
	symbol := sig.Symbol
	if symbol == "" {
		symbol = bot.Symbol
	}

	trade, err := e.trades.GetOpenTrade(ctx, bot.ID, symbol)
	if err != nil {
		return nil, err
	}

	feeRate := bot.FeePercent / 100
	if feeRate <= 0 {
		feeRate = defaultFeeRate
	}

	prevPnl := trade.PnlValue()
	exitPrice := sig.Price
	closeReason := sig.CloseReason

	var realizedPnl, closeFee float64

	if !trade.HasProtectiveOrders() {
		// Без SL/TP позицию никто не закроет за нас: ровно один
		// встречный маркет-ордер
		result, err := e.flattenPosition(ctx, bot, trade)
		if err != nil {
			e.auditLog(ctx, models.AuditLevelError, "close_order_failed", err.Error(),
				&bot.ID, &trade.ID, nil)
			return nil, err
		}

		if result.AvgPrice > 0 {
			exitPrice = result.AvgPrice
		}
		if exitPrice <= 0 {
			exitPrice = trade.EntryPrice
		}

		closeFee = exitPrice * trade.Quantity * feeRate
		realizedPnl = utils.CalculatePnl(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity) - closeFee
		if closeReason == "" {
			closeReason = models.CloseReasonSignal
		}
	} else {
		// SL/TP стояли на бирже: позиция уже закрыта там, фиксируем
		// присланный или оценочный PnL
		if closeReason == "" {
			closeReason = deriveCloseReason(trade, exitPrice)
		}

		switch {
		case sig.RealizedPnl != nil:
			realizedPnl = *sig.RealizedPnl
		case exitPrice > 0:
			closeFee = exitPrice * trade.Quantity * feeRate
			realizedPnl = utils.CalculatePnl(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity) - closeFee
		default:
			realizedPnl = prevPnl
		}
		if exitPrice <= 0 {
			exitPrice = trade.EntryPrice
		}
	}

	closedAt := e.now().UTC()
	if err := e.trades.Close(ctx, trade.ID, exitPrice, realizedPnl, closeFee, closeReason, closedAt); err != nil {
		return nil, err
	}

	trade.State = models.TradeStateClosed
	trade.ExitPrice = exitPrice
	trade.RealizedPnl = &realizedPnl
	trade.Fees = closeFee
	trade.CloseReason = closeReason
	trade.ClosedAt = &closedAt

	if err := e.bots.AddProfitLoss(ctx, bot.ID, realizedPnl-prevPnl); err != nil {
		e.logger.Warn("bot counters update failed",
			zap.Int64("bot_id", bot.ID), zap.Error(err))
	}

	e.attachMetrics(ctx, bot, trade, feeRate)

	recordTradeClosed(outcomeOf(trade), realizedPnl)

	e.auditLog(ctx, models.AuditLevelInfo, "trade_closed", "trade closed",
		&bot.ID, &trade.ID, map[string]interface{}{
			"exit_price":   exitPrice,
			"realized_pnl": realizedPnl,
			"close_reason": closeReason,
		})

	e.logger.Info("trade closed",
		zap.Int64("bot_id", bot.ID),
		zap.Int64("trade_id", trade.ID),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("realized_pnl", realizedPnl),
		zap.String("close_reason", closeReason))

	if e.hub != nil {
		e.hub.BroadcastTradeClosed(trade)
	}

	// Сверка с биржей асинхронно и только для реальных сделок.
	// Воркеру уходит копия: вызывающий еще читает trade (ответ API,
	// broadcast), а сверка пишет в свою сделку результат
	if !trade.Simulated && e.reconciler != nil {
		snapshot := *trade
		go e.reconciler.ReconcileAsync(&snapshot)
	}

	return trade, nil
}

// flattenPosition выставляет встречный маркет-ордер на весь объем сделки
func (e *Engine) flattenPosition(ctx context.Context, bot *models.BotConfig, trade *models.Trade) (*exchange.OrderResult, error) {
	req := &exchange.OrderRequest{
		Symbol:      trade.Symbol,
		Side:        models.OppositeSide(trade.Side),
		OrderType:   models.OrderTypeMarket,
		Qty:         trade.Quantity,
		QtyDecimals: -1,
	}

	start := e.now()
	var result *exchange.OrderResult

	if trade.Simulated {
		result = simulateOrder(trade.EntryPrice)
	} else {
		client, err := e.clientFor(ctx, bot.UserID, bot.ID)
		if err != nil {
			return nil, fmt.Errorf("exchange client for bot %d: %w", bot.ID, err)
		}
		result, err = client.PlaceOrder(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("place close order: %w", err)
		}
		if result.AvgPrice <= 0 {
			if price, err := client.GetOrderFillPrice(ctx, trade.Symbol, result.OrderID); err == nil && price > 0 {
				result.AvgPrice = price
			}
		}
	}

	recordOrderPlaced(req.Side, trade.Simulated, e.now().Sub(start))
	return result, nil
}

// resolveInstrumentRule запрашивает правила инструмента у биржи
//
// Сбой не фатален: остаемся на безопасных дефолтах (без минимума и
// шага, 8 знаков), ордер все равно может пройти.
func (e *Engine) resolveInstrumentRule(ctx context.Context, client exchange.Api, bot *models.BotConfig, symbol string) *exchange.InstrumentRule {
	fallback := &exchange.InstrumentRule{Symbol: symbol, Decimals: 8}
	if client == nil {
		return fallback
	}

	rule, err := client.GetInstrumentRule(ctx, symbol)
	if err != nil {
		e.logger.Warn("instrument rule lookup failed, using defaults",
			zap.String("symbol", symbol), zap.Error(err))
		e.auditLog(ctx, models.AuditLevelWarn, "instrument_lookup_failed", err.Error(), &bot.ID, nil, nil)
		return fallback
	}

	return rule
}

// resolveQuantity выбирает количество: явное из сигнала, расчёт от
// риска или дефолт бота; всегда прижато к minQty и шагу лота
func (e *Engine) resolveQuantity(bot *models.BotConfig, sig *models.AlertSignal, rule *exchange.InstrumentRule, side string, entryPrice, stopLoss float64) (float64, error) {
	if sig.Quantity > 0 {
		qty := snapQty(sig.Quantity, rule)
		if qty <= 0 {
			return 0, ErrQuantityNotResolved
		}
		return qty, nil
	}

	if bot.PositionSizingEnabled && entryPrice > 0 && stopLoss > 0 && bot.RiskPerTrade > 0 {
		return sizing.Calculate(sizing.Params{
			EntryPrice:      entryPrice,
			StopLoss:        stopLoss,
			RiskAmount:      bot.RiskPerTrade,
			Side:            side,
			FeePercent:      bot.FeePercent,
			MinQty:          rule.MinOrderQty,
			QtyStep:         rule.QtyStep,
			MaxPositionSize: bot.MaxPositionSize,
			Decimals:        rule.Decimals,
		})
	}

	if bot.Quantity > 0 {
		qty := snapQty(bot.Quantity, rule)
		if qty > 0 {
			return qty, nil
		}
	}

	return 0, ErrQuantityNotResolved
}

// snapQty прижимает количество к ограничениям инструмента: не ниже
// минимума и кратно шагу лота
func snapQty(qty float64, rule *exchange.InstrumentRule) float64 {
	qty = utils.RoundToStep(utils.ClampMin(qty, rule.MinOrderQty), rule.QtyStep)
	if qty < rule.MinOrderQty {
		qty = utils.CeilToStep(rule.MinOrderQty, rule.QtyStep)
	}
	return qty
}

// resolveProtectivePrices возвращает абсолютные цены SL/TP из сигнала
// или процентов бота
func (e *Engine) resolveProtectivePrices(bot *models.BotConfig, sig *models.AlertSignal, side string, entryPrice float64) (stopLoss, takeProfit float64) {
	stopLoss = sig.StopLoss
	takeProfit = sig.TakeProfit
	if entryPrice <= 0 {
		return stopLoss, takeProfit
	}

	if stopLoss <= 0 && bot.StopLossPercent > 0 {
		if side == models.SideBuy {
			stopLoss = entryPrice * (1 - bot.StopLossPercent/100)
		} else {
			stopLoss = entryPrice * (1 + bot.StopLossPercent/100)
		}
	}
	if takeProfit <= 0 && bot.TakeProfitPercent > 0 {
		if side == models.SideBuy {
			takeProfit = entryPrice * (1 + bot.TakeProfitPercent/100)
		} else {
			takeProfit = entryPrice * (1 - bot.TakeProfitPercent/100)
		}
	}

	return stopLoss, takeProfit
}

// resolveFillPrice достает фактическую цену исполнения, с откатом
// на плановую цену сигнала
func (e *Engine) resolveFillPrice(ctx context.Context, client exchange.Api, bot *models.BotConfig, symbol string, result *exchange.OrderResult, planned float64) float64 {
	if result.AvgPrice > 0 {
		return result.AvgPrice
	}

	if client != nil && result.OrderID != "" {
		if price, err := client.GetOrderFillPrice(ctx, symbol, result.OrderID); err == nil && price > 0 {
			return price
		} else if err != nil {
			e.logger.Debug("fill price lookup failed",
				zap.String("order_id", result.OrderID), zap.Error(err))
		}
	}

	return planned
}

// attachMetrics считает и сохраняет аналитический снимок; сбой некритичен
func (e *Engine) attachMetrics(ctx context.Context, bot *models.BotConfig, trade *models.Trade, feeRate float64) {
	maxRisk := bot.RiskPerTrade
	if maxRisk <= 0 {
		maxRisk = analytics.MaxRiskFromPrices(trade.EntryPrice, trade.StopLoss, trade.Quantity)
	}

	closedAt := e.now()
	if trade.ClosedAt != nil {
		closedAt = *trade.ClosedAt
	}

	m, err := analytics.Calculate(analytics.Input{
		PlannedEntryPrice: trade.PlannedEntryPrice,
		ActualEntryPrice:  trade.EntryPrice,
		StopLoss:          trade.StopLoss,
		TakeProfit:        trade.TakeProfit,
		MaxRisk:           maxRisk,
		RealizedPnl:       trade.PnlValue(),
		OpenFee:           trade.EntryPrice * trade.Quantity * feeRate,
		CloseFee:          trade.Fees,
		OpenedAt:          trade.CreatedAt,
		ClosedAt:          closedAt,
	})
	if err != nil {
		e.logger.Warn("metrics calculation skipped",
			zap.Int64("trade_id", trade.ID), zap.Error(err))
		return
	}

	trade.Metrics = m
	if err := e.trades.SetMetrics(ctx, trade.ID, m); err != nil {
		e.logger.Warn("metrics persist failed",
			zap.Int64("trade_id", trade.ID), zap.Error(err))
	}
}

// handleRiskDenial пишет отказ в аудит и метрики
func (e *Engine) handleRiskDenial(ctx context.Context, bot *models.BotConfig, err error) {
	reason := "system_error"

	var denied *risk.DeniedError
	if errors.As(err, &denied) {
		reason = denied.Reason
		recordRiskDenial(reason)
	}

	e.auditLog(ctx, models.AuditLevelWarn, "risk_denied", err.Error(), &bot.ID, nil,
		map[string]interface{}{"reason": reason})

	e.logger.Warn("risk gate denied signal",
		zap.Int64("bot_id", bot.ID), zap.String("reason", reason))
}

// auditLog пишет запись журнала; ошибка записи только логируется
func (e *Engine) auditLog(ctx context.Context, level, event, message string, botID, tradeID *int64, details map[string]interface{}) {
	if e.audit == nil {
		return
	}

	entry := &models.AuditEntry{
		Level:   level,
		Event:   event,
		Message: message,
		BotID:   botID,
		TradeID: tradeID,
		Details: details,
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Warn("audit append failed", zap.String("event", event), zap.Error(err))
	}
}

// deriveCloseReason выводит причину закрытия из цены выхода и SL/TP сделки
func deriveCloseReason(trade *models.Trade, exitPrice float64) string {
	if exitPrice <= 0 {
		return models.CloseReasonSignal
	}

	if trade.TakeProfit > 0 {
		if (trade.Side == models.SideBuy && exitPrice >= trade.TakeProfit) ||
			(trade.Side == models.SideSell && exitPrice <= trade.TakeProfit) {
			return models.CloseReasonTakeProfit
		}
	}
	if trade.StopLoss > 0 {
		if (trade.Side == models.SideBuy && exitPrice <= trade.StopLoss) ||
			(trade.Side == models.SideSell && exitPrice >= trade.StopLoss) {
			return models.CloseReasonStopLoss
		}
	}

	return models.CloseReasonSignal
}

// outcomeOf возвращает исход сделки по снимку метрик или знаку PnL
func outcomeOf(trade *models.Trade) string {
	if trade.Metrics != nil {
		return trade.Metrics.Outcome
	}
	pnl := trade.PnlValue()
	switch {
	case pnl > 0:
		return models.OutcomeWin
	case pnl < 0:
		return models.OutcomeLoss
	default:
		return models.OutcomeBreakeven
	}
}

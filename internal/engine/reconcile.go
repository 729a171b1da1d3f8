package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signalbot/internal/models"
	"signalbot/pkg/retry"
)

// reconcile.go - сверка оценочного PnL с авторитетными данными биржи
//
// После реального закрытия оценка (exit - entry) * qty - fee заменяется
// записью closed-pnl биржи, найденной по идентификатору ордера. Операция
// идемпотентна, поэтому её можно ретраить и гонять периодическим
// проходом, в отличие от выставления ордеров.

// Outcome - результат одного прогона сверки
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"   // авторитетный PnL записан
	OutcomeNotFound Outcome = "not_found" // биржа еще не отдала запись, не фатально
	OutcomeSkipped  Outcome = "skipped"   // сделка уже сверена
)

// Сколько записей closed-pnl запрашивать за один прогон
const closedPnlPageSize = 50

// Reconciler - воркер сверки закрытых сделок
type Reconciler struct {
	trades    TradeStore
	bots      BotStore
	audit     AuditLogger
	hub       Broadcaster
	clientFor ClientProvider
	logger    *zap.Logger

	retryCfg     retry.Config
	sweepEvery   time.Duration
	sweepBatch   int
	asyncTimeout time.Duration
}

// ReconcilerConfig - зависимости и настройки воркера
type ReconcilerConfig struct {
	Trades    TradeStore
	Bots      BotStore
	Audit     AuditLogger
	Hub       Broadcaster
	ClientFor ClientProvider
	Logger    *zap.Logger

	SweepInterval time.Duration
	SweepBatch    int
}

// NewReconciler создает воркер сверки
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 20
	}

	return &Reconciler{
		trades:       cfg.Trades,
		bots:         cfg.Bots,
		audit:        cfg.Audit,
		hub:          cfg.Hub,
		clientFor:    cfg.ClientFor,
		logger:       cfg.Logger,
		retryCfg:     retry.DefaultConfig(),
		sweepEvery:   cfg.SweepInterval,
		sweepBatch:   cfg.SweepBatch,
		asyncTimeout: 30 * time.Second,
	}
}

// ReconcileTrade сверяет одну сделку
//
// Идемпотентность: уже сверенная сделка пропускается, кроме
// симулированных, где пересчет разрешен всегда. Отсутствие записи
// на бирже - нефатальный исход, сделка остается с оценкой.
func (r *Reconciler) ReconcileTrade(ctx context.Context, trade *models.Trade) (Outcome, error) {
	if trade.IsReconciled() && !trade.Simulated {
		recordReconciliation(string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}
	if trade.ExchangeOrderID == "" || isSimulatedOrderID(trade.ExchangeOrderID) {
		recordReconciliation(string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}

	client, err := r.clientFor(ctx, trade.UserID, trade.BotID)
	if err != nil {
		recordReconciliation("error")
		return "", err
	}

	records, err := client.GetClosedPnl(ctx, trade.Symbol, closedPnlPageSize)
	if err != nil {
		recordReconciliation("error")
		return "", err
	}

	for _, rec := range records {
		if rec.OrderID != trade.ExchangeOrderID {
			continue
		}

		prevPnl := trade.PnlValue()
		reconciledAt := time.Now().UTC()

		if err := r.trades.ApplyReconciliation(ctx, trade.ID, rec.ClosedPnl, rec.AvgEntryPrice, rec.AvgExitPrice, reconciledAt); err != nil {
			recordReconciliation("error")
			return "", err
		}

		// Дельта между оценкой и авторитетным значением доводит
		// накопленный PnL бота без повторного счета сделки
		if delta := rec.ClosedPnl - prevPnl; delta != 0 {
			if err := r.bots.AddProfitLoss(ctx, trade.BotID, delta); err != nil {
				r.logger.Warn("bot pnl delta update failed",
					zap.Int64("bot_id", trade.BotID), zap.Error(err))
			}
		}

		trade.RealizedPnl = &rec.ClosedPnl
		trade.AvgEntryPrice = rec.AvgEntryPrice
		trade.AvgExitPrice = rec.AvgExitPrice
		trade.ReconciledAt = &reconciledAt

		r.auditAppend(ctx, models.AuditLevelInfo, "trade_reconciled", "authoritative pnl applied",
			trade, map[string]interface{}{
				"closed_pnl": rec.ClosedPnl,
				"prev_pnl":   prevPnl,
				"avg_entry":  rec.AvgEntryPrice,
				"avg_exit":   rec.AvgExitPrice,
			})

		r.logger.Info("trade reconciled",
			zap.Int64("trade_id", trade.ID),
			zap.Float64("closed_pnl", rec.ClosedPnl),
			zap.Float64("prev_estimate", prevPnl))

		if r.hub != nil {
			r.hub.BroadcastTradeReconciled(trade)
		}

		recordReconciliation(string(OutcomeApplied))
		return OutcomeApplied, nil
	}

	r.auditAppend(ctx, models.AuditLevelWarn, "reconcile_not_found",
		"closed pnl record not found on exchange", trade, nil)

	recordReconciliation(string(OutcomeNotFound))
	return OutcomeNotFound, nil
}

// ReconcileAsync сверяет сделку в фоне с ретраями; вызывается движком
// сразу после реального закрытия
func (r *Reconciler) ReconcileAsync(trade *models.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), r.asyncTimeout)
	defer cancel()

	err := retry.Do(ctx, r.retryCfg, func() error {
		_, err := r.ReconcileTrade(ctx, trade)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("async reconciliation failed, sweep will retry",
			zap.Int64("trade_id", trade.ID), zap.Error(err))
	}
}

// Run гоняет периодический проход по несверенным сделкам до отмены
// контекста; запускается горутиной из main
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	r.logger.Info("reconciliation sweep started",
		zap.Duration("interval", r.sweepEvery),
		zap.Int("batch", r.sweepBatch))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation sweep stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep сверяет пачку закрытых несверенных сделок
func (r *Reconciler) sweep(ctx context.Context) {
	trades, err := r.trades.ListUnreconciled(ctx, r.sweepBatch)
	if err != nil {
		r.logger.Error("list unreconciled trades failed", zap.Error(err))
		return
	}

	for _, trade := range trades {
		if ctx.Err() != nil {
			return
		}

		outcome, err := r.ReconcileTrade(ctx, trade)
		if err != nil {
			r.logger.Warn("sweep reconciliation failed",
				zap.Int64("trade_id", trade.ID), zap.Error(err))
			continue
		}
		if outcome == OutcomeNotFound {
			r.logger.Debug("closed pnl still missing on exchange",
				zap.Int64("trade_id", trade.ID))
		}
	}
}

func (r *Reconciler) auditAppend(ctx context.Context, level, event, message string, trade *models.Trade, details map[string]interface{}) {
	if r.audit == nil {
		return
	}

	entry := &models.AuditEntry{
		Level:   level,
		Event:   event,
		Message: message,
		BotID:   &trade.BotID,
		TradeID: &trade.ID,
		Details: details,
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		r.logger.Warn("audit append failed", zap.String("event", event), zap.Error(err))
	}
}

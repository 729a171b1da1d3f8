package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalbot/internal/models"
	"signalbot/pkg/utils"
)

// gate.go - предторговые риск-проверки
//
// Выполняются только для open-сигналов и только если бот настроил
// соответствующий лимит. Отказ - бизнес-решение, а не сбой системы:
// он не ретраится и обязан сработать ДО любого обращения к бирже.

// Причины отказа
const (
	ReasonDailyLossLimit = "daily_loss_limit_exceeded"
	ReasonPositionSize   = "position_size_exceeded"
)

// DeniedError - отказ риск-контроля с числами для аудита и ответа API
type DeniedError struct {
	Reason string

	// Для daily_loss_limit_exceeded
	CumulativeLoss float64
	Limit          float64

	// Для position_size_exceeded
	Notional        float64
	MaxPositionSize float64
}

func (e *DeniedError) Error() string {
	switch e.Reason {
	case ReasonDailyLossLimit:
		return fmt.Sprintf("risk denied: daily loss %.2f reached limit %.2f", e.CumulativeLoss, e.Limit)
	case ReasonPositionSize:
		return fmt.Sprintf("risk denied: notional %.2f exceeds max position size %.2f", e.Notional, e.MaxPositionSize)
	}
	return "risk denied: " + e.Reason
}

// TradeHistory - срез истории сделок, нужный проверкам
type TradeHistory interface {
	// SumRealizedPnlSince суммирует realized_pnl (NULL как 0) по сделкам
	// бота, созданным начиная с момента since
	SumRealizedPnlSince(ctx context.Context, botID int64, since time.Time) (float64, error)
}

// Gate - риск-контроль перед открытием позиции
type Gate struct {
	history TradeHistory
	logger  *zap.Logger

	// подменяется в тестах
	now func() time.Time
}

// NewGate создает риск-контроль поверх истории сделок
func NewGate(history TradeHistory, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{history: history, logger: logger, now: time.Now}
}

// Check проверяет open-сигнал по лимитам бота
//
// Возвращает *DeniedError при отказе, системную ошибку при сбое чтения
// истории, nil если все лимиты соблюдены или не настроены.
func (g *Gate) Check(ctx context.Context, bot *models.BotConfig, sig *models.AlertSignal) error {
	if bot.DailyLossLimit > 0 {
		if err := g.checkDailyLoss(ctx, bot); err != nil {
			return err
		}
	}

	// Кап нотионала применяет расчёт размера, но только когда он
	// реально сработает: явное количество из сигнала идет мимо
	// расчёта и обязано проверяться здесь
	if bot.MaxPositionSize > 0 && !sizerApplies(bot, sig) {
		if err := g.checkPositionSize(bot, sig); err != nil {
			return err
		}
	}

	return nil
}

// sizerApplies сообщает, возьмет ли расчёт размера количество на себя:
// без явного количества в сигнале, с настроенным риском на сделку и со
// стоп-лоссом из сигнала или процентов бота
func sizerApplies(bot *models.BotConfig, sig *models.AlertSignal) bool {
	return bot.PositionSizingEnabled &&
		sig.Quantity <= 0 &&
		bot.RiskPerTrade > 0 &&
		(sig.StopLoss > 0 || bot.StopLossPercent > 0)
}

// checkDailyLoss сравнивает накопленный с 00:00 UTC убыток с лимитом
func (g *Gate) checkDailyLoss(ctx context.Context, bot *models.BotConfig) error {
	since := utils.DayStartUTC(g.now())

	sum, err := g.history.SumRealizedPnlSince(ctx, bot.ID, since)
	if err != nil {
		return fmt.Errorf("load daily pnl for bot %d: %w", bot.ID, err)
	}

	if sum < 0 && -sum >= bot.DailyLossLimit {
		g.logger.Warn("daily loss limit reached",
			zap.Int64("bot_id", bot.ID),
			zap.Float64("cumulative_loss", -sum),
			zap.Float64("limit", bot.DailyLossLimit))

		return &DeniedError{
			Reason:         ReasonDailyLossLimit,
			CumulativeLoss: -sum,
			Limit:          bot.DailyLossLimit,
		}
	}

	return nil
}

// checkPositionSize оценивает нотионал из сигнала или дефолтов бота
func (g *Gate) checkPositionSize(bot *models.BotConfig, sig *models.AlertSignal) error {
	qty := sig.Quantity
	if qty <= 0 {
		qty = bot.Quantity
	}
	price := sig.Price
	if price <= 0 || qty <= 0 {
		// Без цены или количества нотионал не оценить, проверку пропускаем
		return nil
	}

	notional := qty * price
	if notional > bot.MaxPositionSize {
		g.logger.Warn("position size limit exceeded",
			zap.Int64("bot_id", bot.ID),
			zap.Float64("notional", notional),
			zap.Float64("max_position_size", bot.MaxPositionSize))

		return &DeniedError{
			Reason:          ReasonPositionSize,
			Notional:        notional,
			MaxPositionSize: bot.MaxPositionSize,
		}
	}

	return nil
}

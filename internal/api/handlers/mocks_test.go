package handlers

import (
	"context"

	"signalbot/internal/engine"
	"signalbot/internal/models"
	"signalbot/internal/repository"
)

// mocks_test.go - стабы зависимостей обработчиков

type stubProcessor struct {
	trade   *models.Trade
	err     error
	gotBot  int64
	gotSig  *models.AlertSignal
	calls   int
}

func (s *stubProcessor) HandleAlert(_ context.Context, botID int64, sig *models.AlertSignal) (*models.Trade, error) {
	s.calls++
	s.gotBot = botID
	s.gotSig = sig
	return s.trade, s.err
}

type stubBots struct {
	bot *models.BotConfig
}

func (s *stubBots) GetByID(_ context.Context, id int64) (*models.BotConfig, error) {
	if s.bot == nil || s.bot.ID != id {
		return nil, repository.ErrBotNotFound
	}
	return s.bot, nil
}

func (s *stubBots) GetAllEnabled(context.Context) ([]*models.BotConfig, error) {
	if s.bot == nil {
		return nil, nil
	}
	return []*models.BotConfig{s.bot}, nil
}

type stubTrades struct {
	trade *models.Trade
	list  []*models.Trade
	err   error
}

func (s *stubTrades) GetByID(_ context.Context, id int64) (*models.Trade, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.trade == nil || s.trade.ID != id {
		return nil, repository.ErrTradeNotFound
	}
	return s.trade, nil
}

func (s *stubTrades) ListByBot(context.Context, int64, int) ([]*models.Trade, error) {
	return s.list, s.err
}

type stubReconciler struct {
	outcome engine.Outcome
	err     error
	calls   int
}

func (s *stubReconciler) ReconcileTrade(context.Context, *models.Trade) (engine.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

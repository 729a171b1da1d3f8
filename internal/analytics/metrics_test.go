package analytics

import (
	"errors"
	"testing"
	"time"

	"signalbot/internal/models"
	"signalbot/pkg/utils"
)

func TestCalculate(t *testing.T) {
	opened := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(90 * time.Minute)

	in := Input{
		PlannedEntryPrice: 50000,
		ActualEntryPrice:  50100,
		StopLoss:          49000,
		MaxRisk:           100,
		RealizedPnl:       44.95,
		OpenFee:           3.71,
		CloseFee:          5.05,
		OpenedAt:          opened,
		ClosedAt:          closed,
	}

	m, err := Calculate(in)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	if !utils.ApproxEqual(m.RMultiple, 0.4495, 1e-9) {
		t.Errorf("RMultiple = %v, want 0.4495", m.RMultiple)
	}
	// (50100-50000)/50000*100 = 0.2%
	if !utils.ApproxEqual(m.EntrySlippagePct, 0.2, 1e-9) {
		t.Errorf("EntrySlippagePct = %v, want 0.2", m.EntrySlippagePct)
	}
	if !utils.ApproxEqual(m.TotalFees, 8.76, 1e-9) {
		t.Errorf("TotalFees = %v, want 8.76", m.TotalFees)
	}
	if m.DurationSeconds != 5400 {
		t.Errorf("DurationSeconds = %v, want 5400", m.DurationSeconds)
	}
	if m.Outcome != models.OutcomeWin {
		t.Errorf("Outcome = %q, want win", m.Outcome)
	}
}

func TestCalculateZeroSafeInputs(t *testing.T) {
	opened := time.Now().Add(-time.Hour)

	m, err := Calculate(Input{
		ActualEntryPrice: 3000,
		RealizedPnl:      -12.5,
		OpenedAt:         opened,
		ClosedAt:         opened.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	// Без MaxRisk и плановой цены производные метрики нулевые
	if m.RMultiple != 0 {
		t.Errorf("RMultiple = %v, want 0 без MaxRisk", m.RMultiple)
	}
	if m.EntrySlippagePct != 0 {
		t.Errorf("EntrySlippagePct = %v, want 0 без плановой цены", m.EntrySlippagePct)
	}
	if m.Outcome != models.OutcomeLoss {
		t.Errorf("Outcome = %q, want loss", m.Outcome)
	}
}

func TestCalculateOutcomeClassification(t *testing.T) {
	tests := []struct {
		pnl  float64
		want string
	}{
		{44.95, models.OutcomeWin},
		{-0.01, models.OutcomeLoss},
		{0, models.OutcomeBreakeven},
		{1e-12, models.OutcomeBreakeven},
	}

	for _, tt := range tests {
		if got := classify(tt.pnl); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.pnl, got, tt.want)
		}
	}
}

func TestCalculateMissingInputs(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		in   Input
	}{
		{"нет цены входа", Input{OpenedAt: now, ClosedAt: now}},
		{"нет времени открытия", Input{ActualEntryPrice: 100, ClosedAt: now}},
		{"закрытие раньше открытия", Input{ActualEntryPrice: 100, OpenedAt: now, ClosedAt: now.Add(-time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Calculate(tt.in); !errors.Is(err, ErrMissingInput) {
				t.Errorf("ожидался ErrMissingInput, получен %v", err)
			}
		})
	}
}

func TestMaxRiskFromPrices(t *testing.T) {
	if got := MaxRiskFromPrices(50000, 49000, 0.1); got != 100 {
		t.Errorf("MaxRiskFromPrices = %v, want 100", got)
	}
	if got := MaxRiskFromPrices(50000, 0, 0.1); got != 0 {
		t.Errorf("без SL риск должен быть 0, получено %v", got)
	}
}

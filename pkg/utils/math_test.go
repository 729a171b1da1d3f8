package utils

import (
	"testing"
	"time"
)

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		step float64
		want float64
	}{
		{"округление вниз до шага", 0.0937, 0.001, 0.093},
		{"уже кратно шагу", 0.093, 0.001, 0.093},
		{"крупный шаг", 1.2599, 0.01, 1.25},
		{"целочисленный шаг", 7.8, 1, 7},
		{"нулевой шаг не трогает значение", 0.1234, 0, 0.1234},
		{"бинарная погрешность не съедает шаг", 0.3, 0.1, 0.3},
		// 7*0.7 в двоичном виде это 4.8999999999999995: результат должен
		// лечь на десятичную сетку шага
		{"результат на десятичной сетке шага", 5, 0.7, 4.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToStep(tt.qty, tt.step)
			if got != tt.want {
				t.Errorf("RoundToStep(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
			}
		})
	}
}

func TestCeilToStep(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		step float64
		want float64
	}{
		{"округление вверх до шага", 0.25, 0.2, 0.4},
		{"уже кратно шагу", 0.3, 0.1, 0.3},
		{"крупный шаг", 5, 0.7, 5.6},
		{"нулевой шаг не трогает значение", 0.1234, 0, 0.1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CeilToStep(tt.qty, tt.step)
			if got != tt.want {
				t.Errorf("CeilToStep(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
			}
		})
	}
}

func TestTruncateDecimals(t *testing.T) {
	tests := []struct {
		value    float64
		decimals int
		want     float64
	}{
		{0.093699, 3, 0.093},
		{0.093699, 8, 0.093699},
		{-1.2399, 2, -1.23},
		{5, 0, 5},
		// Двоичный артефакт 7*0.7: на порядке 1e8 абсолютный эпсилон
		// слишком мал, работает относительная поправка
		{4.8999999999999995, 8, 4.9},
	}

	for _, tt := range tests {
		got := TruncateDecimals(tt.value, tt.decimals)
		if !ApproxEqual(got, tt.want, 1e-12) {
			t.Errorf("TruncateDecimals(%v, %d) = %v, want %v", tt.value, tt.decimals, got, tt.want)
		}
	}
}

func TestCalculatePnl(t *testing.T) {
	tests := []struct {
		name  string
		side  string
		entry float64
		exit  float64
		qty   float64
		want  float64
	}{
		{"лонг в плюс", "Buy", 50000, 50500, 0.093, 46.5},
		{"лонг в минус", "Buy", 50000, 49500, 0.093, -46.5},
		{"шорт в плюс", "Sell", 50000, 49500, 0.093, 46.5},
		{"шорт в минус", "Sell", 50000, 50500, 0.093, -46.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePnl(tt.side, tt.entry, tt.exit, tt.qty)
			if !ApproxEqual(got, tt.want, 1e-9) {
				t.Errorf("CalculatePnl() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDayStartUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:30 локального времени UTC+5 это 21:30 предыдущих суток UTC
	moment := time.Date(2026, 3, 10, 2, 30, 0, 0, loc)

	got := DayStartUTC(moment)
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DayStartUTC() = %v, want %v", got, want)
	}

	if end := DayEndUTC(moment); !end.After(got) {
		t.Errorf("DayEndUTC() = %v должен быть позже начала суток", end)
	}
}

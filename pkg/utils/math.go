package utils

import (
	"math"
	"strconv"
	"strings"
)

// math.go - математика размеров позиций и PnL
//
// Все округления количества делаются ВНИЗ (floor): биржа отклоняет
// количество, не кратное шагу лота, а округление вверх завышает риск.

// RoundToStep округляет количество вниз до ближайшего кратного шага лота
//
// Примеры:
//
//	RoundToStep(0.0937, 0.001) = 0.093
//	RoundToStep(1.2599, 0.01)  = 1.25
//
// step <= 0 возвращает количество без изменений
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty / step)
	// Компенсация бинарной погрешности: 0.0999999... это 3 шага по 0.001,
	// а floor без компенсации дал бы 2
	if (steps+1)*step <= qty+step*1e-9 {
		steps++
	}
	// Привязка к десятичной сетке шага: 7*0.7 в двоичном виде дает
	// 4.8999999999999995 вместо 4.9
	return roundDecimals(steps*step, decimalPlaces(step))
}

// CeilToStep округляет количество вверх до ближайшего кратного шага лота
func CeilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Ceil(qty / step)
	// Кратное шагу значение не должно прыгать на шаг вверх из-за
	// бинарной погрешности деления (0.3/0.1 = 3.0000000000000004)
	if (steps-1)*step >= qty-step*1e-9 {
		steps--
	}
	return roundDecimals(steps*step, decimalPlaces(step))
}

// TruncateDecimals обрезает число до decimals знаков после запятой (вниз по модулю)
func TruncateDecimals(value float64, decimals int) float64 {
	if decimals < 0 {
		return value
	}
	pow := math.Pow(10, float64(decimals))
	scaled := value * pow
	// Поправка относительная: абсолютный эпсилон теряется на больших
	// порядках (489999999.99999994 при обрезке 4.9 до 8 знаков)
	eps := math.Abs(scaled)*1e-12 + 1e-9
	if value >= 0 {
		return math.Floor(scaled+eps) / pow
	}
	return math.Ceil(scaled-eps) / pow
}

// decimalPlaces возвращает число знаков после запятой в кратчайшей
// десятичной записи значения
func decimalPlaces(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// roundDecimals округляет к ближайшему значению с decimals знаками
func roundDecimals(value float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(value*pow) / pow
}

// CalculatePnl считает PnL закрытой позиции без учёта комиссий
//
// Длинная (Buy):  (exit - entry) * qty
// Короткая (Sell): (entry - exit) * qty
func CalculatePnl(side string, entryPrice, exitPrice, qty float64) float64 {
	if side == "Sell" {
		return (entryPrice - exitPrice) * qty
	}
	return (exitPrice - entryPrice) * qty
}

// ApproxEqual сравнивает два float64 с допуском tolerance
func ApproxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// ClampMin возвращает value, но не меньше min
func ClampMin(value, min float64) float64 {
	if value < min {
		return min
	}
	return value
}

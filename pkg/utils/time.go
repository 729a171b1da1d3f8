package utils

import "time"

// time.go - работа с торговыми временными окнами
//
// Все окна считаются в UTC: дневной лимит убытка сбрасывается
// в 00:00 UTC независимо от локальной таймзоны сервера.

// DayStartUTC возвращает начало суток (00:00:00 UTC) для момента t
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayEndUTC возвращает конец суток (23:59:59.999999999 UTC) для момента t
func DayEndUTC(t time.Time) time.Time {
	return DayStartUTC(t).Add(24*time.Hour - time.Nanosecond)
}

// FormatDuration форматирует длительность сделки для логов и API
// (1h23m45s вместо 5025.123456789s)
func FormatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

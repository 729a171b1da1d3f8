package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// retry.go - повтор операций с экспоненциальной задержкой
//
// Используется только для идемпотентных операций (сверка PnL с биржей).
// Выставление ордеров НЕ ретраится: одна попытка на сигнал.

// Config - параметры повторов
type Config struct {
	MaxAttempts  int           // всего попыток, включая первую
	InitialDelay time.Duration // задержка перед второй попыткой
	MaxDelay     time.Duration // потолок задержки
	Multiplier   float64       // множитель задержки
	Jitter       bool          // случайный разброс +-25%
}

// DefaultConfig - разумный дефолт для сетевых операций
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// permanentError - обертка для ошибок, повтор которых бессмыслен
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую: Do вернет её сразу
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do выполняет fn с повторами по cfg
//
// Останавливается при: успехе, Permanent-ошибке, отмене контекста,
// исчерпании попыток (возвращает последнюю ошибку).
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(withJitter(delay, cfg.Jitter)):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// withJitter добавляет случайный разброс +-25% к задержке
func withJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

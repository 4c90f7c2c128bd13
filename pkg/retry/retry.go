package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config - параметры повторов.
//
// Задержка перед попыткой n (с нуля): min(InitialDelay * Multiplier^n, MaxDelay) ± jitter.
type Config struct {
	// MaxAttempts - число попыток, включая первую. <= 0 означает без ограничения.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor в [0, 1]: доля случайной вариации задержки
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. nil = повторять всё, кроме Permanent.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием (attempt - номер следующей попытки с 1)
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep заменяет ожидание (тесты, подменённые часы). nil = таймер.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig - 4 попытки, 100ms -> 800ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// AggressiveConfig - для закрытия позиций: 6 попыток, 50ms -> 1.6s
func AggressiveConfig() Config {
	return Config{
		MaxAttempts:  6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ConnectConfig - для установки соединения с ногой
func ConnectConfig(attempts int, backoff time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: backoff,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// normalize подставляет значения по умолчанию
func (c *Config) normalize() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
}

// Delay возвращает задержку перед повтором после попытки attempt (с нуля)
func (c Config) Delay(attempt int) time.Duration {
	c.normalize()

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// sleep ждёт d или отмену контекста
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do выполняет operation с повторами. Возвращает последнюю ошибку операции;
// при отмене контекста до первой попытки - ctx.Err().
//
//	err := retry.Do(ctx, func() error {
//	    return leg.Connect(ctx)
//	}, retry.ConnectConfig(3, time.Second))
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - Do для операций, возвращающих значение
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error

	for attempt := 0; cfg.MaxAttempts <= 0 || attempt < cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		if cfg.Sleep(ctx, delay) != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// IsRetryable: Permanent и ошибки контекста не повторяются; ошибки с Temporary()
// повторяются по его значению; остальные повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return true
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

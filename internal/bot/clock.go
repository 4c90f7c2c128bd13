package bot

import (
	"context"
	"time"

	"deltaneutral/internal/exchange"
)

// Clock - источник времени движка. Подменяется в тестах.
type Clock interface {
	Now() time.Time
	// Sleep ждёт d или отмену контекста (возвращает ctx.Err())
	Sleep(ctx context.Context, d time.Duration) error
}

// Rand - источник случайности для интервалов
type Rand = exchange.Rand

// realClock - системные часы
type realClock struct{}

// RealClock возвращает системные часы
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter возвращает случайную длительность в [min, max]
func jitter(r Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Float64()*float64(max-min))
}

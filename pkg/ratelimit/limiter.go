package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - то, что нужно декоратору адаптера: блокирующее получение токена
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter - token bucket.
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый вызов биржи потребляет один токен.
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter с полным ведром.
// rate <= 0 даёт 10 req/sec, burst <= 0 даёт 2x rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill пополняет ведро; вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// take пытается взять токен, иначе возвращает время до появления следующего
func (rl *RateLimiter) take() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	return false, time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := rl.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow берёт токен без ожидания
func (rl *RateLimiter) Allow() bool {
	ok, _ := rl.take()
	return ok
}

// Tokens возвращает текущее число токенов (для мониторинга)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения
func (rl *RateLimiter) Rate() float64 { return rl.rate }

// Burst возвращает ёмкость ведра
func (rl *RateLimiter) Burst() float64 { return rl.burst }

// ============================================================
// Registry - общие limiter'ы по ключу (тип площадки)
// ============================================================

// Registry раздаёт по одному limiter'у на ключ. Все ноги, работающие
// с одной площадкой, делят общий лимит запросов независимо от аккаунта.
type Registry struct {
	rate     float64
	burst    float64
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewRegistry создаёт реестр с общими параметрами для новых limiter'ов
func NewRegistry(rate, burst float64) *Registry {
	return &Registry{
		rate:     rate,
		burst:    burst,
		limiters: make(map[string]*RateLimiter),
	}
}

// Get возвращает limiter для ключа, создавая его при первом обращении
func (r *Registry) Get(key string) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := NewRateLimiter(r.rate, r.burst)
	r.limiters[key] = l
	return l
}

// Len возвращает число созданных limiter'ов
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

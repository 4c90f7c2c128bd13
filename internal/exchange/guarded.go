package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"deltaneutral/pkg/ratelimit"
)

// ============ Метрики вызовов адаптеров ============

// CallLatency - латентность вызова адаптера
var CallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "deltaneutral",
		Subsystem: "exchange",
		Name:      "call_latency_ms",
		Help:      "Exchange adapter call latency in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"exchange", "op"},
)

// CallErrors - ошибки вызовов адаптера
var CallErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "exchange",
		Name:      "call_errors_total",
		Help:      "Total number of failed exchange adapter calls",
	},
	[]string{"exchange", "op"},
)

// Guarded оборачивает адаптер: ограничение частоты, таймаут на каждый вызов и метрики.
// Превышение таймаута возвращается как ErrTransient.
type Guarded struct {
	inner   Exchange
	limiter ratelimit.Limiter
	timeout time.Duration
	venue   string
}

// NewGuarded создаёт декоратор. limiter == nil - без ограничения, timeout <= 0 - без таймаута.
// venue - метка площадки для метрик.
func NewGuarded(inner Exchange, venue string, limiter ratelimit.Limiter, timeout time.Duration) *Guarded {
	return &Guarded{inner: inner, limiter: limiter, timeout: timeout, venue: venue}
}

// Unwrap возвращает исходный адаптер
func (g *Guarded) Unwrap() Exchange {
	return g.inner
}

// call выполняет op под лимитом и таймаутом
func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return wrapErr(g.inner.GetName(), op, err)
		}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	CallLatency.WithLabelValues(g.venue, op).Observe(float64(time.Since(start).Microseconds()) / 1000)

	if err == nil {
		return nil
	}
	CallErrors.WithLabelValues(g.venue, op).Inc()

	// дедлайн вызова истёк, а родительский контекст жив - это временный сбой ноги
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &ExchangeError{Exchange: g.inner.GetName(), Op: op, Err: ErrTransient}
	}
	return wrapErr(g.inner.GetName(), op, err)
}

func (g *Guarded) Connect(ctx context.Context) error {
	return g.call(ctx, "connect", g.inner.Connect)
}

func (g *Guarded) GetName() string {
	return g.inner.GetName()
}

func (g *Guarded) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := g.call(ctx, "balance", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetBalance(ctx, asset)
		return err
	})
	return out, err
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := g.call(ctx, "price", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetPrice(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) OpenPosition(ctx context.Context, symbol, side string, amount decimal.Decimal) (*Order, error) {
	var out *Order
	err := g.call(ctx, "open", func(ctx context.Context) error {
		var err error
		out, err = g.inner.OpenPosition(ctx, symbol, side, amount)
		return err
	})
	return out, err
}

func (g *Guarded) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	var out *Order
	err := g.call(ctx, "close", func(ctx context.Context) error {
		var err error
		out, err = g.inner.ClosePosition(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) GetPositions(ctx context.Context) ([]*Position, error) {
	var out []*Position
	err := g.call(ctx, "positions", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetPositions(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}

var _ Exchange = (*Guarded)(nil)

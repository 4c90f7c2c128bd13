package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"deltaneutral/internal/config"
	"deltaneutral/internal/exchange"
	"deltaneutral/internal/models"
	"deltaneutral/pkg/retry"
	"deltaneutral/pkg/utils"
)

// StrategyConfig - параметры цикла хеджа одного бота
type StrategyConfig struct {
	Symbol         string
	TargetNotional decimal.Decimal // на каждую ногу, в валюте котировки

	ThinkMin, ThinkMax time.Duration
	HoldMin, HoldMax   time.Duration
	PollInterval       time.Duration
	ErrorBackoff       time.Duration

	// 0 = без ограничения
	MaxConsecutiveFailures int

	// относительный допуск notional ноги, например 0.05
	NotionalTolerance float64
}

// NewStrategyConfig собирает параметры из аккаунта и общей конфигурации ботов
func NewStrategyConfig(acc models.AccountConfig, bot config.BotConfig) StrategyConfig {
	return StrategyConfig{
		Symbol:                 acc.EffectiveSymbol(),
		TargetNotional:         decimal.NewFromFloat(acc.TargetNotional),
		ThinkMin:               bot.ThinkMin,
		ThinkMax:               bot.ThinkMax,
		HoldMin:                bot.HoldMin,
		HoldMax:                bot.HoldMax,
		PollInterval:           bot.PollInterval,
		ErrorBackoff:           bot.ErrorBackoff,
		MaxConsecutiveFailures: bot.MaxConsecutiveFailures,
		NotionalTolerance:      bot.NotionalTolerance,
	}
}

// LegAmount переводит целевой notional в объём ноги: notional / price
func LegAmount(notional, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid leg price %s", price)
	}
	return notional.Div(price), nil
}

// Strategy - state machine хеджа на двух ногах.
//
// Нога A открывается в long (buy), нога B в short (sell). Step выполняет ровно
// один переход, Run крутит Step до отмены контекста, повторяя упавший шаг
// в том же состоянии после ErrorBackoff.
type Strategy struct {
	accountID string
	legA      exchange.Exchange
	legB      exchange.Exchange
	cfg       StrategyConfig

	clock     Clock
	rnd       Rand
	publisher EventPublisher
	log       *utils.Logger

	mu        sync.RWMutex
	state     models.StrategyState
	pnl       decimal.Decimal
	lastErr   string
	holdUntil time.Time // дедлайн удержания текущего хеджа

	failures int // ошибки подряд; только горутина Run
	cycles   atomic.Int64
}

// StrategyDeps - внешние зависимости движка
type StrategyDeps struct {
	Clock     Clock
	Rand      Rand
	Publisher EventPublisher
	Logger    *utils.Logger
}

// NewStrategy создаёт движок в состоянии IDLE
func NewStrategy(accountID string, legA, legB exchange.Exchange, cfg StrategyConfig, deps StrategyDeps) *Strategy {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Rand == nil {
		deps.Rand = exchange.NewRand(time.Now().UnixNano())
	}
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = utils.L()
	}
	if cfg.Symbol == "" {
		cfg.Symbol = models.DefaultSymbol
	}

	return &Strategy{
		accountID: accountID,
		legA:      legA,
		legB:      legB,
		cfg:       cfg,
		clock:     deps.Clock,
		rnd:       deps.Rand,
		publisher: deps.Publisher,
		log:       deps.Logger.WithComponent("strategy"),
		state:     models.StateIdle,
		pnl:       decimal.Zero,
	}
}

// ============ Наблюдаемое состояние ============

// State возвращает текущее состояние
func (s *Strategy) State() models.StrategyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Pnl возвращает суммарный unrealized pnl обеих ног
func (s *Strategy) Pnl() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pnl
}

// LastError возвращает текст последней ошибки шага
func (s *Strategy) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Cycles возвращает число завершённых циклов
func (s *Strategy) Cycles() int64 {
	return s.cycles.Load()
}

// Reset возвращает движок в IDLE. Вызывается только при остановленном Run.
func (s *Strategy) Reset() {
	s.mu.Lock()
	s.state = models.StateIdle
	s.pnl = decimal.Zero
	s.holdUntil = time.Time{}
	s.lastErr = ""
	s.mu.Unlock()
	s.failures = 0

	StrategyStateGauge.WithLabelValues(s.accountID).Set(stateIndex(models.StateIdle))
	RecordPnl(s.accountID, 0)
}

func (s *Strategy) setState(to models.StrategyState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	RecordTransition(s.accountID, from, to)
	s.log.Debug("state transition", utils.String("from", string(from)), utils.State(string(to)))
}

func (s *Strategy) setPnl(pnl decimal.Decimal) {
	s.mu.Lock()
	s.pnl = pnl
	s.mu.Unlock()

	f, _ := pnl.Float64()
	RecordPnl(s.accountID, f)
}

func (s *Strategy) publish(typ, severity, msg string, meta map[string]interface{}) {
	e := models.NewEvent(typ, severity, s.accountID, msg)
	e.Meta = meta
	s.publisher.Publish(e)
}

// ============ Цикл ============

// Run выполняет шаги до отмены ctx. Возвращает ctx.Err() при отмене или
// ErrTooManyFailures, когда превышен MaxConsecutiveFailures.
func (s *Strategy) Run(ctx context.Context) error {
	for {
		err := s.Step(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			s.failures = 0
			continue
		}

		s.failures++
		state := s.State()
		RecordStepError(s.accountID, state)

		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()

		s.log.Warn("strategy step failed",
			utils.State(string(state)),
			utils.Err(err),
			utils.Int("consecutive_failures", s.failures),
			utils.Duration("backoff", s.cfg.ErrorBackoff))
		s.publish(models.EventTypeError, models.SeverityWarn, "step failed in "+string(state)+": "+err.Error(),
			map[string]interface{}{"state": string(state), "failures": s.failures})

		if s.cfg.MaxConsecutiveFailures > 0 && s.failures >= s.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("%w: %d in state %s: %v", ErrTooManyFailures, s.failures, state, err)
		}

		if err := s.clock.Sleep(ctx, s.cfg.ErrorBackoff); err != nil {
			return err
		}
	}
}

// Step выполняет обработчик текущего состояния. При успехе происходит ровно один
// переход по циклу, при ошибке состояние не меняется.
func (s *Strategy) Step(ctx context.Context) error {
	switch state := s.State(); state {
	case models.StateIdle:
		return s.stepIdle(ctx)
	case models.StateOpening:
		return s.stepOpening(ctx)
	case models.StateHedged:
		return s.stepHedged(ctx)
	case models.StateClosing:
		return s.stepClosing(ctx)
	default:
		return fmt.Errorf("unknown strategy state %q", state)
	}
}

// stepIdle: пауза со случайной длительностью, затем открытие
func (s *Strategy) stepIdle(ctx context.Context) error {
	if err := s.clock.Sleep(ctx, jitter(s.rnd, s.cfg.ThinkMin, s.cfg.ThinkMax)); err != nil {
		return err
	}
	s.setState(models.StateOpening)
	return nil
}

// stepOpening: цены обеих ног, объёмы из notional, buy на A и sell на B.
// Если A открылась, а B нет - позиция A закрывается компенсирующим ордером.
func (s *Strategy) stepOpening(ctx context.Context) error {
	symbol := s.cfg.Symbol

	priceA, err := s.legA.GetPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("price leg A: %w", err)
	}
	priceB, err := s.legB.GetPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("price leg B: %w", err)
	}

	amountA, err := LegAmount(s.cfg.TargetNotional, priceA)
	if err != nil {
		return fmt.Errorf("leg A: %w", err)
	}
	amountB, err := LegAmount(s.cfg.TargetNotional, priceB)
	if err != nil {
		return fmt.Errorf("leg B: %w", err)
	}

	orderA, err := s.legA.OpenPosition(ctx, symbol, exchange.SideBuy, amountA)
	if err != nil {
		return fmt.Errorf("open leg A: %w", err)
	}

	orderB, err := s.legB.OpenPosition(ctx, symbol, exchange.SideSell, amountB)
	if err != nil {
		return s.compensateLegA(ctx, err)
	}

	s.verifyHedge(orderA, orderB)
	s.setState(models.StateHedged)

	s.log.Info("hedge opened",
		utils.Symbol(symbol),
		utils.String("amount_a", orderA.Amount.String()),
		utils.String("amount_b", orderB.Amount.String()),
		utils.String("price_a", orderA.Price.String()),
		utils.String("price_b", orderB.Price.String()))
	s.publish(models.EventTypeOpen, models.SeverityInfo, "hedge opened on "+symbol, map[string]interface{}{
		"leg_a": s.legA.GetName(), "amount_a": orderA.Amount.String(), "price_a": orderA.Price.String(),
		"leg_b": s.legB.GetName(), "amount_b": orderB.Amount.String(), "price_b": orderB.Price.String(),
	})
	return nil
}

// compensateLegA закрывает открытую ногу A после неудачи на ноге B.
// Состояние остаётся OPENING, ошибка B возвращается обработчику Run.
func (s *Strategy) compensateLegA(ctx context.Context, legErr error) error {
	LegFailures.WithLabelValues(s.accountID).Inc()

	cfg := retry.AggressiveConfig()
	cfg.Sleep = s.clock.Sleep
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.log.Warn("compensating close retry", utils.Attempt(attempt), utils.Err(err), utils.Duration("delay", delay))
	}

	closeErr := retry.Do(ctx, func() error {
		_, err := s.legA.ClosePosition(ctx, s.cfg.Symbol)
		return err
	}, cfg)

	meta := map[string]interface{}{
		"leg_a":       s.legA.GetName(),
		"leg_b":       s.legB.GetName(),
		"leg_b_err":   legErr.Error(),
		"compensated": closeErr == nil,
	}
	if closeErr != nil {
		meta["close_err"] = closeErr.Error()
		s.log.Error("leg A left open after leg B failure", utils.Err(closeErr), utils.String("leg_b_err", legErr.Error()))
		s.publish(models.EventTypeLegFail, models.SeverityError, "leg B failed and leg A could not be closed", meta)
		return fmt.Errorf("open leg B: %w (leg A close failed: %v)", legErr, closeErr)
	}

	s.log.Warn("leg B failed, leg A closed", utils.String("leg_b_err", legErr.Error()))
	s.publish(models.EventTypeLegFail, models.SeverityWarn, "leg B failed, leg A closed", meta)
	return fmt.Errorf("open leg B: %w", legErr)
}

// verifyHedge проверяет стороны и notional обеих ног. Нарушение не прерывает цикл,
// а логируется и публикуется как DRIFT.
func (s *Strategy) verifyHedge(orderA, orderB *exchange.Order) {
	if orderA.Side == orderB.Side {
		s.log.Error("hedge legs on the same side", utils.Side(orderA.Side))
		s.publish(models.EventTypeDrift, models.SeverityError, "hedge legs on the same side", nil)
		return
	}

	target := s.cfg.TargetNotional
	if !target.IsPositive() || s.cfg.NotionalTolerance <= 0 {
		return
	}
	tolerance := target.Mul(decimal.NewFromFloat(s.cfg.NotionalTolerance))

	for _, o := range []*exchange.Order{orderA, orderB} {
		notional := o.Notional()
		if notional.Sub(target).Abs().GreaterThan(tolerance) {
			s.log.Warn("leg notional outside tolerance",
				utils.Side(o.Side),
				utils.String("notional", notional.String()),
				utils.String("target", target.String()))
			s.publish(models.EventTypeDrift, models.SeverityWarn, "leg notional outside tolerance", map[string]interface{}{
				"side": o.Side, "notional": notional.String(), "target": target.String(),
			})
		}
	}
}

// stepHedged: удержание хеджа до дедлайна с опросом позиций каждые PollInterval.
// Дедлайн сохраняется между повторами после ошибки.
func (s *Strategy) stepHedged(ctx context.Context) error {
	s.mu.Lock()
	if s.holdUntil.IsZero() {
		s.holdUntil = s.clock.Now().Add(jitter(s.rnd, s.cfg.HoldMin, s.cfg.HoldMax))
	}
	deadline := s.holdUntil
	s.mu.Unlock()

	for {
		if err := s.refreshPnl(ctx); err != nil {
			return err
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			break
		}
		wait := s.cfg.PollInterval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.holdUntil = time.Time{}
	s.mu.Unlock()

	s.setState(models.StateClosing)
	return nil
}

// refreshPnl суммирует unrealized pnl позиций обеих ног по символу бота
func (s *Strategy) refreshPnl(ctx context.Context) error {
	total := decimal.Zero
	for _, leg := range []exchange.Exchange{s.legA, s.legB} {
		positions, err := leg.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("positions %s: %w", leg.GetName(), err)
		}
		for _, p := range positions {
			if p.Symbol == s.cfg.Symbol {
				total = total.Add(p.UnrealizedPnl)
			}
		}
	}
	s.setPnl(total)
	return nil
}

// stepClosing закрывает обе ноги независимо друг от друга. При ошибке
// состояние остаётся CLOSING: повторное закрытие уже закрытой ноги безопасно.
func (s *Strategy) stepClosing(ctx context.Context) error {
	pnl := s.Pnl()

	errs := s.closeLegs(ctx)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.setPnl(decimal.Zero)
	s.setState(models.StateIdle)
	cycles := s.cycles.Add(1)
	CyclesCompleted.WithLabelValues(s.accountID).Inc()

	s.log.Info("hedge closed", utils.PNL(pnl.String()), utils.Int64("cycles", cycles))
	s.publish(models.EventTypeClose, models.SeverityInfo, "hedge closed", map[string]interface{}{
		"pnl": pnl.String(), "cycles": cycles,
	})
	return nil
}

// closeLegs вызывает ClosePosition на обеих ногах и собирает ошибки
func (s *Strategy) closeLegs(ctx context.Context) []error {
	var errs []error
	for _, leg := range []exchange.Exchange{s.legA, s.legB} {
		if _, err := leg.ClosePosition(ctx, s.cfg.Symbol); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", leg.GetName(), err))
		}
	}
	return errs
}

// CloseAll - best-effort закрытие обеих ног вне цикла (при остановке бота).
// Вызывается только после завершения Run.
func (s *Strategy) CloseAll(ctx context.Context) error {
	if err := errors.Join(s.closeLegs(ctx)...); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = models.StateIdle
	s.pnl = decimal.Zero
	s.holdUntil = time.Time{}
	s.mu.Unlock()
	RecordPnl(s.accountID, 0)
	return nil
}

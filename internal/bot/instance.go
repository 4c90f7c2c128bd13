package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deltaneutral/internal/config"
	"deltaneutral/internal/exchange"
	"deltaneutral/internal/models"
	"deltaneutral/pkg/ratelimit"
	"deltaneutral/pkg/retry"
	"deltaneutral/pkg/utils"
)

// LegFactory создаёт адаптер ноги по имени и конфигурации
type LegFactory func(name string, cfg models.ExchangeConfig) (exchange.Exchange, error)

// InstanceOptions - общие зависимости ботов
type InstanceOptions struct {
	Bot        config.BotConfig
	LegFactory LegFactory          // nil = exchange.NewExchange
	Limiters   *ratelimit.Registry // общий лимит запросов на тип площадки; nil = без лимита
	Clock      Clock
	Rand       Rand
	Publisher  EventPublisher
	Logger     *utils.Logger
}

func (o *InstanceOptions) withDefaults() {
	if o.LegFactory == nil {
		o.LegFactory = exchange.NewExchange
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	if o.Publisher == nil {
		o.Publisher = NopPublisher{}
	}
	if o.Logger == nil {
		o.Logger = utils.L()
	}
}

// Instance - бот одного аккаунта: ровно две ноги и один движок на всё время жизни
type Instance struct {
	cfg      models.AccountConfig
	legs     [models.LegCount]exchange.Exchange
	strategy *Strategy
	opts     InstanceOptions
	log      *utils.Logger

	// lifecycle: Start/Stop сериализуются, cancel/done - дескриптор горутины движка
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statusMu  sync.RWMutex
	running   bool
	faulted   bool
	lastError string
	startedAt time.Time
}

// NewInstance создаёт ноги через фабрику и движок. Ноги не подключаются до Start.
func NewInstance(cfg models.AccountConfig, opts InstanceOptions) (*Instance, error) {
	opts.withDefaults()
	cfg = cfg.Clone()

	inst := &Instance{
		cfg:  cfg,
		opts: opts,
		log:  opts.Logger.WithAccount(cfg.ID, cfg.Name),
	}

	for i, legCfg := range cfg.Legs {
		leg, err := opts.LegFactory(exchange.LegName(legCfg, cfg.Name), legCfg)
		if err != nil {
			for _, built := range inst.legs[:i] {
				_ = built.Close()
			}
			return nil, fmt.Errorf("leg %d (%s): %w", i, legCfg.Type, err)
		}

		var limiter ratelimit.Limiter
		if opts.Limiters != nil {
			limiter = opts.Limiters.Get(strings.ToLower(legCfg.Type))
		}
		inst.legs[i] = exchange.NewGuarded(leg, strings.ToLower(legCfg.Type), limiter, opts.Bot.CallTimeout)
	}

	inst.strategy = NewStrategy(cfg.ID, inst.legs[0], inst.legs[1], NewStrategyConfig(cfg, opts.Bot), StrategyDeps{
		Clock:     opts.Clock,
		Rand:      opts.Rand,
		Publisher: opts.Publisher,
		Logger:    inst.log,
	})

	return inst, nil
}

// ID возвращает стабильный идентификатор аккаунта
func (i *Instance) ID() string {
	return i.cfg.ID
}

// Config возвращает копию конфигурации аккаунта
func (i *Instance) Config() models.AccountConfig {
	return i.cfg.Clone()
}

// Strategy возвращает движок (для наблюдения)
func (i *Instance) Strategy() *Strategy {
	return i.strategy
}

// IsRunning сообщает, работает ли горутина движка
func (i *Instance) IsRunning() bool {
	i.statusMu.RLock()
	defer i.statusMu.RUnlock()
	return i.running
}

// Start подключает обе ноги и запускает движок с состояния IDLE.
// Повторный вызов у работающего бота ничего не делает. ctx ограничивает
// только подключение: движок живёт до Stop.
func (i *Instance) Start(ctx context.Context) error {
	i.lifeMu.Lock()
	defer i.lifeMu.Unlock()

	if i.cancel != nil {
		select {
		case <-i.done:
			// движок завершился сам (faulted) - освобождаем дескриптор и перезапускаем
			i.cancel()
			i.cancel, i.done = nil, nil
		default:
			return nil
		}
	}

	if err := i.connectLegs(ctx); err != nil {
		i.setFault(err)
		return err
	}

	i.strategy.Reset()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	i.cancel, i.done = cancel, done

	i.statusMu.Lock()
	i.running = true
	i.faulted = false
	i.lastError = ""
	i.startedAt = time.Now()
	i.statusMu.Unlock()
	RunningBots.Inc()

	go i.run(runCtx, done)

	i.log.Info("bot started", utils.Symbol(i.strategy.cfg.Symbol))
	i.publish(models.EventTypeStart, models.SeverityInfo, "bot started", nil)
	return nil
}

// connectLegs подключает ноги параллельно, каждую с повторами
func (i *Instance) connectLegs(ctx context.Context) error {
	attempts := i.opts.Bot.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	cfg := retry.ConnectConfig(attempts, i.opts.Bot.RetryBackoff)
	cfg.Sleep = i.opts.Clock.Sleep
	cfg.RetryIf = retryConnect

	errs := make([]error, len(i.legs))
	var wg sync.WaitGroup
	for idx, leg := range i.legs {
		wg.Add(1)
		go func(idx int, leg exchange.Exchange) {
			defer wg.Done()
			attemptCfg := cfg
			attemptCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
				i.log.Warn("leg connect retry",
					utils.Exchange(leg.GetName()), utils.Attempt(attempt), utils.Err(err), utils.Duration("delay", delay))
			}
			if err := retry.Do(ctx, func() error { return leg.Connect(ctx) }, attemptCfg); err != nil {
				errs[idx] = fmt.Errorf("connect %s: %w", leg.GetName(), err)
			}
		}(idx, leg)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// retryConnect: сбой сети или аутентификации при подключении повторяется,
// ошибки контекста и Permanent - нет
func retryConnect(err error) bool {
	var perm *retry.PermanentError
	if errors.As(err, &perm) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, exchange.ErrConnectionFailed) || retry.IsRetryable(err)
}

// run - горутина движка
func (i *Instance) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := i.strategy.Run(ctx)

	i.statusMu.Lock()
	i.running = false
	i.statusMu.Unlock()
	RunningBots.Dec()

	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	i.setFault(err)
	i.log.Error("bot faulted", utils.Err(err))
	i.publish(models.EventTypeFault, models.SeverityError, "bot faulted: "+err.Error(), nil)
}

func (i *Instance) setFault(err error) {
	i.statusMu.Lock()
	i.faulted = true
	i.lastError = err.Error()
	i.statusMu.Unlock()
}

// Stop отменяет движок и дожидается его завершения. Если на ногах могли
// остаться позиции и включён CloseOnStop, закрывает их. Повторный вызов
// у остановленного бота ничего не делает. Если ctx истёк раньше завершения
// движка, дескриптор сохраняется и Stop можно вызвать снова.
func (i *Instance) Stop(ctx context.Context) error {
	i.lifeMu.Lock()
	defer i.lifeMu.Unlock()

	if i.cancel == nil {
		return nil
	}

	i.cancel()
	select {
	case <-i.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for engine to stop: %w", ctx.Err())
	}
	i.cancel, i.done = nil, nil

	if i.opts.Bot.CloseOnStop && HasOpenPosition(i.strategy.State()) {
		i.closeOnStop(ctx)
	}

	i.statusMu.RLock()
	uptime := utils.FormatDuration(time.Since(i.startedAt))
	i.statusMu.RUnlock()

	i.log.Info("bot stopped", utils.String("uptime", uptime))
	i.publish(models.EventTypeStop, models.SeverityInfo, "bot stopped", map[string]interface{}{"uptime": uptime})
	return nil
}

// closeOnStop - best-effort закрытие ног после остановки движка.
// Ошибки не возвращаются: они логируются и публикуются.
func (i *Instance) closeOnStop(ctx context.Context) {
	closeCtx := ctx
	if i.opts.Bot.StopTimeout > 0 {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(ctx, i.opts.Bot.StopTimeout)
		defer cancel()
	}

	if err := i.strategy.CloseAll(closeCtx); err != nil {
		i.log.Error("failed to close legs on stop", utils.Err(err))
		i.publish(models.EventTypeError, models.SeverityError, "legs may remain open after stop: "+err.Error(), nil)
		return
	}
	i.log.Info("legs closed on stop")
}

// Close останавливает бота и закрывает адаптеры. Инстанс после Close не используется.
func (i *Instance) Close(ctx context.Context) error {
	if err := i.Stop(ctx); err != nil {
		return err
	}

	var errs []error
	for _, leg := range i.legs {
		if err := leg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status возвращает снимок для UI
func (i *Instance) Status() models.BotStatus {
	i.statusMu.RLock()
	running, faulted, lastErr := i.running, i.faulted, i.lastError
	var startedAt *time.Time
	if running {
		t := i.startedAt
		startedAt = &t
	}
	i.statusMu.RUnlock()

	if lastErr == "" {
		lastErr = i.strategy.LastError()
	}
	pnl, _ := i.strategy.Pnl().Float64()

	return models.BotStatus{
		AccountID:       i.cfg.ID,
		Name:            i.cfg.Name,
		Symbol:          i.strategy.cfg.Symbol,
		Running:         running,
		State:           i.strategy.State(),
		UnrealizedPnl:   pnl,
		Faulted:         faulted,
		LastError:       lastErr,
		CyclesCompleted: i.strategy.Cycles(),
		Legs:            []string{i.legs[0].GetName(), i.legs[1].GetName()},
		StartedAt:       startedAt,
		UpdatedAt:       time.Now(),
	}
}

func (i *Instance) publish(typ, severity, msg string, meta map[string]interface{}) {
	e := models.NewEvent(typ, severity, i.cfg.ID, msg)
	e.Meta = meta
	i.opts.Publisher.Publish(e)
}

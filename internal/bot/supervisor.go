package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"deltaneutral/internal/exchange"
	"deltaneutral/internal/models"
	"deltaneutral/pkg/utils"
)

// AccountStore - хранилище списка аккаунтов (файл или PostgreSQL)
type AccountStore interface {
	Load(ctx context.Context) ([]models.AccountConfig, error)
	Save(ctx context.Context, accounts []models.AccountConfig) error
}

// DefaultAccount - аккаунт, создаваемый при пустой конфигурации
func DefaultAccount() models.AccountConfig {
	return models.AccountConfig{
		ID:             uuid.NewString(),
		Name:           "Demo Account",
		Enabled:        true,
		TargetNotional: 1000,
		Symbol:         models.DefaultSymbol,
		Legs: [models.LegCount]models.ExchangeConfig{
			{Type: exchange.MockType, Params: map[string]string{exchange.LabelParam: "Pacifica"}},
			{Type: exchange.MockType, Params: map[string]string{exchange.LabelParam: "Variational"}},
		},
	}
}

// Supervisor владеет списком аккаунтов и списком ботов, выровненными по индексу.
// Выключенному аккаунту соответствует nil.
//
// Структурные операции (add/remove/update, массовый start/stop) сериализуются
// structMu. Снимки для UI читаются под mu и не ждут медленного старта.
type Supervisor struct {
	store AccountStore
	opts  InstanceOptions
	log   *utils.Logger

	structMu sync.Mutex
	closed   bool

	mu        sync.RWMutex
	accounts  []models.AccountConfig
	bots      []*Instance
	buildErrs map[string]string // ошибки сборки ботов по ID аккаунта
}

// NewSupervisor загружает аккаунты, при пустом списке создаёт и сохраняет
// DefaultAccount, затем собирает ботов для включённых аккаунтов. Боты не запускаются.
func NewSupervisor(ctx context.Context, store AccountStore, opts InstanceOptions) (*Supervisor, error) {
	opts.withDefaults()

	s := &Supervisor{
		store:     store,
		opts:      opts,
		log:       opts.Logger.WithComponent("supervisor"),
		buildErrs: make(map[string]string),
	}

	accounts, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	dirty := false
	if len(accounts) == 0 {
		accounts = []models.AccountConfig{DefaultAccount()}
		dirty = true
		s.log.Info("no accounts configured, seeded default account", utils.AccountID(accounts[0].ID))
	}

	seen := make(map[string]bool, len(accounts))
	for i := range accounts {
		if accounts[i].ID == "" || seen[accounts[i].ID] {
			accounts[i].ID = uuid.NewString()
			dirty = true
		}
		seen[accounts[i].ID] = true
	}

	if dirty {
		if err := store.Save(ctx, accounts); err != nil {
			return nil, fmt.Errorf("save accounts: %w", err)
		}
	}

	s.accounts = accounts
	s.bots = make([]*Instance, len(accounts))
	for i, acc := range accounts {
		if acc.Enabled {
			s.bots[i], _ = s.build(acc)
		}
	}

	s.log.Info("supervisor initialized", utils.Int("accounts", len(accounts)))
	return s, nil
}

// ============ Операции над всеми ботами ============

// StartAll запускает всех ботов параллельно. Ошибка одного не влияет на остальных;
// возвращается объединение ошибок *InstanceError.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	if s.closed {
		return ErrSupervisorClosed
	}
	return s.fanOut("start", s.liveBots(), func(inst *Instance) error { return inst.Start(ctx) })
}

// StopAll останавливает всех ботов параллельно и дожидается каждого
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	return s.fanOut("stop", s.liveBots(), func(inst *Instance) error { return inst.Stop(ctx) })
}

// Close останавливает ботов и закрывает адаптеры. Последующие изменения запрещены.
func (s *Supervisor) Close(ctx context.Context) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.fanOut("close", s.liveBots(), func(inst *Instance) error { return inst.Close(ctx) })
}

// fanOut выполняет op для каждого бота в своей горутине и ждёт всех
func (s *Supervisor) fanOut(op string, bots []*Instance, fn func(*Instance) error) error {
	errs := make([]error, len(bots))

	var wg sync.WaitGroup
	for i, inst := range bots {
		wg.Add(1)
		go func(i int, inst *Instance) {
			defer wg.Done()
			if err := fn(inst); err != nil {
				errs[i] = s.instanceFailure(inst.ID(), op, err)
			}
		}(i, inst)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ============ Структурные изменения ============

// AddAccount сохраняет новый аккаунт и, если он включён, запускает бота.
// Ошибка запуска возвращается вызывающему (аккаунт при этом уже добавлен).
func (s *Supervisor) AddAccount(ctx context.Context, cfg models.AccountConfig) (models.AccountConfig, error) {
	if err := validateAccount(cfg); err != nil {
		return cfg, err
	}

	s.structMu.Lock()
	defer s.structMu.Unlock()

	if s.closed {
		return cfg, ErrSupervisorClosed
	}

	cfg = cfg.Clone()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	} else if s.indexOf(cfg.ID) >= 0 {
		return cfg, fmt.Errorf("%w: %s", ErrDuplicateAccount, cfg.ID)
	}

	next := append(s.copyAccounts(), cfg)
	if err := s.store.Save(ctx, next); err != nil {
		return cfg, fmt.Errorf("save accounts: %w", err)
	}

	var inst *Instance
	var buildErr error
	if cfg.Enabled {
		inst, buildErr = s.build(cfg)
	}

	s.mu.Lock()
	s.accounts = next
	s.bots = append(s.bots, inst)
	s.mu.Unlock()

	s.log.Info("account added", utils.AccountID(cfg.ID), utils.String("name", cfg.Name))
	s.publish(models.EventTypeConfig, models.SeverityInfo, cfg.ID, "account added: "+cfg.Name)

	if buildErr != nil {
		return cfg, buildErr
	}
	if inst != nil {
		if err := inst.Start(ctx); err != nil {
			return cfg, s.instanceFailure(cfg.ID, "start", err)
		}
	}
	return cfg, nil
}

// RemoveAccount удаляет аккаунт по индексу в текущем списке
func (s *Supervisor) RemoveAccount(ctx context.Context, index int) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	id, err := s.idAt("remove", index)
	if err != nil {
		return err
	}
	return s.removeLocked(ctx, id)
}

// RemoveAccountByID удаляет аккаунт по стабильному идентификатору
func (s *Supervisor) RemoveAccountByID(ctx context.Context, id string) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()
	return s.removeLocked(ctx, id)
}

// removeLocked: полная остановка бота, сохранение списка без аккаунта,
// затем удаление из памяти. Если сохранить не удалось, аккаунт остаётся
// в обоих списках с остановленным ботом.
func (s *Supervisor) removeLocked(ctx context.Context, id string) error {
	if s.closed {
		return ErrSupervisorClosed
	}

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if inst := s.bots[idx]; inst != nil {
		if err := inst.Close(ctx); err != nil {
			return s.instanceFailure(id, "stop", err)
		}
	}

	name := s.accounts[idx].Name
	current := s.copyAccounts()
	next := append(current[:idx:idx], current[idx+1:]...)

	if err := s.store.Save(ctx, next); err != nil {
		// закрытый бот не переиспользуется: StartAccount соберёт новый
		s.mu.Lock()
		s.bots[idx] = nil
		s.mu.Unlock()
		return fmt.Errorf("save accounts: %w", err)
	}

	s.mu.Lock()
	s.bots = append(s.bots[:idx:idx], s.bots[idx+1:]...)
	s.accounts = next
	delete(s.buildErrs, id)
	s.mu.Unlock()

	ForgetAccount(id)

	s.log.Info("account removed", utils.AccountID(id), utils.String("name", name))
	s.publish(models.EventTypeConfig, models.SeverityInfo, id, "account removed: "+name)
	return nil
}

// UpdateAccount заменяет конфигурацию аккаунта по индексу. ID сохраняется.
func (s *Supervisor) UpdateAccount(ctx context.Context, index int, cfg models.AccountConfig) (models.AccountConfig, error) {
	if err := validateAccount(cfg); err != nil {
		return cfg, err
	}

	s.structMu.Lock()
	defer s.structMu.Unlock()

	id, err := s.idAt("update", index)
	if err != nil {
		return cfg, err
	}
	return s.updateLocked(ctx, id, cfg)
}

// UpdateAccountByID заменяет конфигурацию аккаунта по идентификатору
func (s *Supervisor) UpdateAccountByID(ctx context.Context, id string, cfg models.AccountConfig) (models.AccountConfig, error) {
	if err := validateAccount(cfg); err != nil {
		return cfg, err
	}

	s.structMu.Lock()
	defer s.structMu.Unlock()
	return s.updateLocked(ctx, id, cfg)
}

// updateLocked: сохранить новую конфигурацию, остановить старого бота,
// собрать и запустить нового. Состояние незавершённого хеджа теряется.
func (s *Supervisor) updateLocked(ctx context.Context, id string, cfg models.AccountConfig) (models.AccountConfig, error) {
	if s.closed {
		return cfg, ErrSupervisorClosed
	}

	idx := s.indexOf(id)
	if idx < 0 {
		return cfg, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	cfg = cfg.Clone()
	cfg.ID = id

	next := s.copyAccounts()
	next[idx] = cfg
	if err := s.store.Save(ctx, next); err != nil {
		return cfg, fmt.Errorf("save accounts: %w", err)
	}

	s.mu.Lock()
	s.accounts = next
	s.mu.Unlock()

	var closeErr error
	if old := s.bots[idx]; old != nil {
		if err := old.Stop(ctx); err != nil {
			return cfg, s.instanceFailure(id, "stop", err)
		}
		// движок старой конфигурации остановлен, слот больше на него не ссылается
		s.mu.Lock()
		s.bots[idx] = nil
		s.mu.Unlock()

		if err := old.Close(ctx); err != nil {
			closeErr = err
			s.log.Warn("failed to close old legs", utils.AccountID(id), utils.Err(err))
		}
	}

	var inst *Instance
	var buildErr error
	if cfg.Enabled {
		inst, buildErr = s.build(cfg)
	}

	s.mu.Lock()
	s.bots[idx] = inst
	if !cfg.Enabled {
		delete(s.buildErrs, id)
	}
	s.mu.Unlock()

	s.log.Info("account updated", utils.AccountID(id), utils.String("name", cfg.Name), utils.Bool("enabled", cfg.Enabled))
	s.publish(models.EventTypeConfig, models.SeverityInfo, id, "account updated: "+cfg.Name)

	if buildErr != nil {
		return cfg, buildErr
	}
	if inst != nil {
		if err := inst.Start(ctx); err != nil {
			return cfg, s.instanceFailure(id, "start", err)
		}
	}
	if closeErr != nil {
		return cfg, s.instanceFailure(id, "close", closeErr)
	}
	return cfg, nil
}

// StartAccount запускает бота одного аккаунта (собирает его, если аккаунт был выключен).
// Конфигурация не меняется.
func (s *Supervisor) StartAccount(ctx context.Context, id string) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	if s.closed {
		return ErrSupervisorClosed
	}

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	inst := s.bots[idx]
	if inst == nil {
		var err error
		if inst, err = s.build(s.accounts[idx]); err != nil {
			return err
		}
		s.mu.Lock()
		s.bots[idx] = inst
		s.mu.Unlock()
	}

	if err := inst.Start(ctx); err != nil {
		return s.instanceFailure(id, "start", err)
	}
	return nil
}

// StopAccount останавливает бота одного аккаунта
func (s *Supervisor) StopAccount(ctx context.Context, id string) error {
	s.structMu.Lock()
	defer s.structMu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if inst := s.bots[idx]; inst != nil {
		if err := inst.Stop(ctx); err != nil {
			return s.instanceFailure(id, "stop", err)
		}
	}
	return nil
}

// ============ Снимки для UI ============

// Accounts возвращает копию списка аккаунтов
func (s *Supervisor) Accounts() []models.AccountConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyAccounts()
}

// Account возвращает аккаунт по ID
func (s *Supervisor) Account(id string) (models.AccountConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(id); idx >= 0 {
		return s.accounts[idx].Clone(), nil
	}
	return models.AccountConfig{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// Instance возвращает бота аккаунта (nil, false если аккаунт выключен или не найден)
func (s *Supervisor) Instance(id string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(id); idx >= 0 && s.bots[idx] != nil {
		return s.bots[idx], true
	}
	return nil, false
}

// Statuses возвращает снимки ботов в порядке аккаунтов
func (s *Supervisor) Statuses() []models.BotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BotStatus, len(s.accounts))
	for i, acc := range s.accounts {
		if inst := s.bots[i]; inst != nil {
			out[i] = inst.Status()
			continue
		}
		out[i] = models.BotStatus{
			AccountID: acc.ID,
			Name:      acc.Name,
			Symbol:    acc.EffectiveSymbol(),
			State:     models.StateIdle,
			Faulted:   s.buildErrs[acc.ID] != "",
			LastError: s.buildErrs[acc.ID],
			Legs:      []string{exchange.LegName(acc.Legs[0], acc.Name), exchange.LegName(acc.Legs[1], acc.Name)},
		}
	}
	return out
}

// Summary возвращает агрегаты: число аккаунтов, активных ботов и суммарный pnl
func (s *Supervisor) Summary() models.Summary {
	statuses := s.Statuses()

	sum := models.Summary{TotalAccounts: len(statuses)}
	for _, st := range statuses {
		if st.Running {
			sum.ActiveBots++
		}
		sum.TotalPnl += st.UnrealizedPnl
	}
	return sum
}

// ActiveCount возвращает число работающих ботов
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, inst := range s.bots {
		if inst != nil && inst.IsRunning() {
			n++
		}
	}
	return n
}

// Len возвращает число аккаунтов
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// ============ Внутреннее ============

// build создаёт бота; ошибка сохраняется для статуса и публикуется
func (s *Supervisor) build(acc models.AccountConfig) (*Instance, error) {
	inst, err := NewInstance(acc, s.opts)

	s.mu.Lock()
	if err != nil {
		s.buildErrs[acc.ID] = err.Error()
	} else {
		delete(s.buildErrs, acc.ID)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, s.instanceFailure(acc.ID, "build", err)
	}
	return inst, nil
}

// instanceFailure оборачивает ошибку, логирует и публикует её
func (s *Supervisor) instanceFailure(id, op string, err error) error {
	ie := &InstanceError{AccountID: id, Op: op, Err: err}
	s.log.Error("bot lifecycle operation failed", utils.AccountID(id), utils.String("op", op), utils.Err(err))
	s.publish(models.EventTypeError, models.SeverityError, id, ie.Error())
	return ie
}

func (s *Supervisor) publish(typ, severity, accountID, msg string) {
	s.opts.Publisher.Publish(models.NewEvent(typ, severity, accountID, msg))
}

// idAt возвращает ID аккаунта по индексу; вызывается под structMu
func (s *Supervisor) idAt(op string, index int) (string, error) {
	if index < 0 || index >= len(s.accounts) {
		return "", &StructuralMutationError{Op: op, Index: index, Len: len(s.accounts)}
	}
	return s.accounts[index].ID, nil
}

// indexOf ищет аккаунт по ID; вызывается под structMu или mu
func (s *Supervisor) indexOf(id string) int {
	for i, acc := range s.accounts {
		if acc.ID == id {
			return i
		}
	}
	return -1
}

// liveBots возвращает собранных ботов; вызывается под structMu
func (s *Supervisor) liveBots() []*Instance {
	out := make([]*Instance, 0, len(s.bots))
	for _, inst := range s.bots {
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out
}

func (s *Supervisor) copyAccounts() []models.AccountConfig {
	out := make([]models.AccountConfig, len(s.accounts))
	for i, acc := range s.accounts {
		out[i] = acc.Clone()
	}
	return out
}

// validateAccount проверяет аккаунт и параметры обеих ног
func validateAccount(cfg models.AccountConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	for i, leg := range cfg.Legs {
		if err := exchange.ValidateConfig(leg); err != nil {
			return fmt.Errorf("%w: leg %d: %w", ErrInvalidAccount, i, err)
		}
	}
	return nil
}

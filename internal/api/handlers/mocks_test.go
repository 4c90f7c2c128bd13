package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deltaneutral/internal/bot"
	"deltaneutral/internal/models"
)

// ErrMockStore - ошибка хранилища для тестов
var ErrMockStore = errors.New("mock store error")

// ============ Mock Supervisor ============

// MockSupervisor мок для AccountService и BotService.
// Повторяет контракт супервизора: индекс вне списка - StructuralMutationError.
type MockSupervisor struct {
	mu       sync.Mutex
	accounts []models.AccountConfig
	running  map[string]bool
	nextID   int

	addErr    error
	updateErr error
	removeErr error
	startErr  error
	stopErr   error

	lastUpdate models.AccountConfig
}

// NewMockSupervisor создает мок с заданными аккаунтами
func NewMockSupervisor(accounts ...models.AccountConfig) *MockSupervisor {
	return &MockSupervisor{
		accounts: accounts,
		running:  make(map[string]bool),
		nextID:   len(accounts) + 1,
	}
}

func (m *MockSupervisor) Accounts() []models.AccountConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.AccountConfig, len(m.accounts))
	for i, acc := range m.accounts {
		out[i] = acc.Clone()
	}
	return out
}

func (m *MockSupervisor) AddAccount(_ context.Context, cfg models.AccountConfig) (models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", bot.ErrInvalidAccount, err)
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("acc-%d", m.nextID)
		m.nextID++
	}
	for _, acc := range m.accounts {
		if acc.ID == cfg.ID {
			return cfg, fmt.Errorf("%w: %s", bot.ErrDuplicateAccount, cfg.ID)
		}
	}
	if m.addErr != nil {
		var ie *bot.InstanceError
		if !errors.As(m.addErr, &ie) {
			return cfg, m.addErr
		}
	}

	m.accounts = append(m.accounts, cfg)
	return cfg, m.addErr
}

func (m *MockSupervisor) UpdateAccount(_ context.Context, index int, cfg models.AccountConfig) (models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", bot.ErrInvalidAccount, err)
	}
	if index < 0 || index >= len(m.accounts) {
		return cfg, &bot.StructuralMutationError{Op: "update", Index: index, Len: len(m.accounts)}
	}
	if m.updateErr != nil {
		return cfg, m.updateErr
	}

	cfg.ID = m.accounts[index].ID
	m.accounts[index] = cfg
	m.lastUpdate = cfg.Clone()
	return cfg, nil
}

func (m *MockSupervisor) Account(id string) (models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.ID == id {
			return acc.Clone(), nil
		}
	}
	return models.AccountConfig{}, fmt.Errorf("%w: %s", bot.ErrAccountNotFound, id)
}

func (m *MockSupervisor) UpdateAccountByID(_ context.Context, id string, cfg models.AccountConfig) (models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", bot.ErrInvalidAccount, err)
	}
	for i, acc := range m.accounts {
		if acc.ID != id {
			continue
		}
		if m.updateErr != nil {
			return cfg, m.updateErr
		}
		cfg.ID = id
		m.accounts[i] = cfg
		m.lastUpdate = cfg.Clone()
		return cfg, nil
	}
	return cfg, fmt.Errorf("%w: %s", bot.ErrAccountNotFound, id)
}

func (m *MockSupervisor) RemoveAccount(_ context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.accounts) {
		return &bot.StructuralMutationError{Op: "remove", Index: index, Len: len(m.accounts)}
	}
	if m.removeErr != nil {
		return m.removeErr
	}

	m.accounts = append(m.accounts[:index:index], m.accounts[index+1:]...)
	return nil
}

func (m *MockSupervisor) Statuses() []models.BotStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.BotStatus, len(m.accounts))
	for i, acc := range m.accounts {
		state := models.StateIdle
		if m.running[acc.ID] {
			state = models.StateHedged
		}
		out[i] = models.BotStatus{
			AccountID:     acc.ID,
			Name:          acc.Name,
			Symbol:        acc.EffectiveSymbol(),
			Running:       m.running[acc.ID],
			State:         state,
			UnrealizedPnl: 10,
		}
	}
	return out
}

func (m *MockSupervisor) Summary() models.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, running := range m.running {
		if running {
			active++
		}
	}
	return models.Summary{
		TotalAccounts: len(m.accounts),
		ActiveBots:    active,
		TotalPnl:      10 * float64(len(m.accounts)),
	}
}

func (m *MockSupervisor) StartAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	for _, acc := range m.accounts {
		if acc.Enabled {
			m.running[acc.ID] = true
		}
	}
	return nil
}

func (m *MockSupervisor) StopAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopErr != nil {
		return m.stopErr
	}
	m.running = make(map[string]bool)
	return nil
}

func (m *MockSupervisor) StartAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.has(id) {
		return fmt.Errorf("%w: %s", bot.ErrAccountNotFound, id)
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.running[id] = true
	return nil
}

func (m *MockSupervisor) StopAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.has(id) {
		return fmt.Errorf("%w: %s", bot.ErrAccountNotFound, id)
	}
	if m.stopErr != nil {
		return m.stopErr
	}
	delete(m.running, id)
	return nil
}

// SetError задаёт ошибку для операции: add, update, remove, start, stop
func (m *MockSupervisor) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch op {
	case "add":
		m.addErr = err
	case "update":
		m.updateErr = err
	case "remove":
		m.removeErr = err
	case "start":
		m.startErr = err
	case "stop":
		m.stopErr = err
	}
}

func (m *MockSupervisor) isRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

func (m *MockSupervisor) has(id string) bool {
	for _, acc := range m.accounts {
		if acc.ID == id {
			return true
		}
	}
	return false
}

var (
	_ AccountService = (*MockSupervisor)(nil)
	_ BotService     = (*MockSupervisor)(nil)
)

// ============ Fixtures ============

func mockAccount(id, name string, enabled bool) models.AccountConfig {
	return models.AccountConfig{
		ID:             id,
		Name:           name,
		Enabled:        enabled,
		TargetNotional: 1000,
		Legs: [models.LegCount]models.ExchangeConfig{
			{Type: "mock", Params: map[string]string{"label": "Pacifica", "api_key": "pk-live-123456"}},
			{Type: "mock", Params: map[string]string{"label": "Variational", "api_key": "vk-live-abcdef"}},
		},
	}
}

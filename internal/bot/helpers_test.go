package bot

import (
	"context"
	"sync"
	"time"

	"deltaneutral/internal/config"
	"deltaneutral/internal/exchange"
	"deltaneutral/internal/models"
	"deltaneutral/pkg/utils"
)

// fakeClock - Sleep мгновенно сдвигает Now
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	for _, d := range c.slept {
		sum += d
	}
	return sum
}

// fixedRand всегда возвращает одно значение
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// eventRecorder запоминает опубликованные события
type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) Publish(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

// memoryStore - AccountStore в памяти
type memoryStore struct {
	mu       sync.Mutex
	accounts []models.AccountConfig
	saves    int
	saveErr  error
}

func (m *memoryStore) Load(ctx context.Context) ([]models.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AccountConfig, len(m.accounts))
	for i, a := range m.accounts {
		out[i] = a.Clone()
	}
	return out, nil
}

func (m *memoryStore) Save(ctx context.Context, accounts []models.AccountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.accounts = make([]models.AccountConfig, len(accounts))
	for i, a := range accounts {
		m.accounts[i] = a.Clone()
	}
	m.saves++
	return nil
}

func (m *memoryStore) snapshot() []models.AccountConfig {
	accounts, _ := m.Load(context.Background())
	return accounts
}

// fastBotConfig - короткие интервалы для тестов на реальных часах
func fastBotConfig() config.BotConfig {
	return config.BotConfig{
		ThinkMin:          time.Millisecond,
		ThinkMax:          2 * time.Millisecond,
		HoldMin:           2 * time.Millisecond,
		HoldMax:           4 * time.Millisecond,
		PollInterval:      time.Millisecond,
		ErrorBackoff:      time.Millisecond,
		NotionalTolerance: 0.05,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		CallTimeout:       time.Second,
		CloseOnStop:       true,
		StopTimeout:       time.Second,
	}
}

// testAccount - аккаунт на двух симуляторах без задержки подключения
func testAccount(name string) models.AccountConfig {
	leg := func(label string) models.ExchangeConfig {
		return models.ExchangeConfig{
			Type: exchange.MockType,
			Params: map[string]string{
				exchange.LabelParam: label,
				"connect_delay":     "0s",
				"seed":              "1",
			},
		}
	}
	return models.AccountConfig{
		Name:           name,
		Enabled:        true,
		TargetNotional: 1000,
		Legs:           [models.LegCount]models.ExchangeConfig{leg("Pacifica"), leg("Variational")},
	}
}

func testOptions(pub EventPublisher) InstanceOptions {
	return InstanceOptions{
		Bot:       fastBotConfig(),
		Publisher: pub,
		Logger:    utils.Nop(),
	}
}

// waitFor опрашивает cond до истечения timeout
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

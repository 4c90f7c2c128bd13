package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockType - тип площадки-симулятора
const MockType = "mock"

// Rand - источник случайности для симулятора и стратегии
type Rand interface {
	Float64() float64
}

// lockedRand делает *rand.Rand безопасным для конкурентного использования
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand создаёт потокобезопасный источник с заданным seed
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// MockConfig - параметры симулятора
type MockConfig struct {
	StartPrice    decimal.Decimal // стартовая цена каждого символа (100)
	Balance       decimal.Decimal // баланс любого актива (10000)
	Step          decimal.Decimal // максимальный шаг случайного блуждания за чтение (0.5)
	ConnectDelay  time.Duration   // имитация установки сессии
	FailConnect   bool            // Connect всегда возвращает ErrConnectionFailed
	FailOpenEvery int             // каждое N-е открытие падает с ErrTransient (0 = никогда)
	Rand          Rand
}

// DefaultMockConfig возвращает параметры по умолчанию
func DefaultMockConfig() MockConfig {
	return MockConfig{
		StartPrice:   decimal.NewFromInt(100),
		Balance:      decimal.NewFromInt(10000),
		Step:         decimal.NewFromFloat(0.5),
		ConnectDelay: 500 * time.Millisecond,
		Rand:         NewRand(time.Now().UnixNano()),
	}
}

// Mock - симулятор площадки: случайное блуждание цены, позиции в памяти
type Mock struct {
	name string
	cfg  MockConfig

	mu        sync.Mutex
	connected bool
	prices    map[string]decimal.Decimal
	positions map[string]*Position
	order     []string // порядок первого открытия символов
	opens     int
}

// NewMock создаёт симулятор
func NewMock(name string, cfg MockConfig) *Mock {
	def := DefaultMockConfig()
	if cfg.StartPrice.IsZero() {
		cfg.StartPrice = def.StartPrice
	}
	if cfg.Balance.IsZero() {
		cfg.Balance = def.Balance
	}
	if cfg.Rand == nil {
		cfg.Rand = def.Rand
	}

	return &Mock{
		name:      name,
		cfg:       cfg,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*Position),
	}
}

// NewMockFromParams - конструктор для реестра.
// Параметры: start_price, balance, step, connect_delay, fail_connect, fail_open_every, seed.
func NewMockFromParams(name string, params map[string]string) (Exchange, error) {
	cfg := DefaultMockConfig()

	decimals := map[string]*decimal.Decimal{
		"start_price": &cfg.StartPrice,
		"balance":     &cfg.Balance,
		"step":        &cfg.Step,
	}
	for key, dst := range decimals {
		if v, ok := params[key]; ok {
			d, err := decimal.NewFromString(v)
			if err != nil || d.IsNegative() {
				return nil, fmt.Errorf("%w: %s=%q", ErrInvalidParam, key, v)
			}
			*dst = d
		}
	}

	if v, ok := params["connect_delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: connect_delay=%q", ErrInvalidParam, v)
		}
		cfg.ConnectDelay = d
	}
	if v, ok := params["fail_connect"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: fail_connect=%q", ErrInvalidParam, v)
		}
		cfg.FailConnect = b
	}
	if v, ok := params["fail_open_every"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: fail_open_every=%q", ErrInvalidParam, v)
		}
		cfg.FailOpenEvery = n
	}
	if v, ok := params["seed"]; ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: seed=%q", ErrInvalidParam, v)
		}
		cfg.Rand = NewRand(seed)
	}

	return NewMock(name, cfg), nil
}

// Connect имитирует установку сессии
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.cfg.ConnectDelay > 0 {
		t := time.NewTimer(m.cfg.ConnectDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return wrapErr(m.name, "connect", ctx.Err())
		}
	}

	if m.cfg.FailConnect {
		return wrapErr(m.name, "connect", ErrConnectionFailed)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// GetName возвращает имя ноги
func (m *Mock) GetName() string {
	return m.name
}

// GetBalance возвращает фиксированный баланс
func (m *Mock) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.cfg.Balance, nil
}

// GetPrice сдвигает цену символа на случайную величину в [-Step, +Step]
func (m *Mock) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextPrice(symbol), nil
}

// nextPrice вызывается под m.mu
func (m *Mock) nextPrice(symbol string) decimal.Decimal {
	price, ok := m.prices[symbol]
	if !ok {
		price = m.cfg.StartPrice
	}

	if !m.cfg.Step.IsZero() {
		shift := decimal.NewFromFloat(m.cfg.Rand.Float64()*2 - 1).Mul(m.cfg.Step)
		next := price.Add(shift)
		if next.IsPositive() {
			price = next
		}
	}

	m.prices[symbol] = price
	return price
}

// SetPrice фиксирует цену символа (для тестов и демо)
func (m *Mock) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

// OpenPosition исполняет рыночный ордер по текущей цене
func (m *Mock) OpenPosition(ctx context.Context, symbol, side string, amount decimal.Decimal) (*Order, error) {
	if !amount.IsPositive() {
		return nil, wrapErr(m.name, "open", ErrInvalidAmount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, wrapErr(m.name, "open", ErrNotConnected)
	}

	m.opens++
	if m.cfg.FailOpenEvery > 0 && m.opens%m.cfg.FailOpenEvery == 0 {
		return nil, wrapErr(m.name, "open", ErrTransient)
	}

	price := m.nextPrice(symbol)
	now := time.Now()

	if _, exists := m.positions[symbol]; !exists {
		m.order = append(m.order, symbol)
	}
	m.positions[symbol] = &Position{
		Symbol:        symbol,
		Side:          PositionSide(side),
		Size:          amount,
		EntryPrice:    price,
		MarkPrice:     price,
		UnrealizedPnl: decimal.Zero,
		UpdatedAt:     now,
	}

	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      OrderTypeMarket,
		Amount:    amount,
		Price:     price,
		CreatedAt: now,
	}, nil
}

// ClosePosition закрывает позицию по символу; (nil, nil) если её нет
func (m *Mock) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, wrapErr(m.name, "close", ErrNotConnected)
	}

	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}

	delete(m.positions, symbol)
	for i, s := range m.order {
		if s == symbol {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      SideClose,
		Type:      OrderTypeMarket,
		Amount:    pos.Size,
		Price:     m.nextPrice(symbol),
		CreatedAt: time.Now(),
	}, nil
}

// GetPositions переоценивает позиции по свежей цене
func (m *Mock) GetPositions(ctx context.Context) ([]*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]*Position, 0, len(m.order))
	for _, symbol := range m.order {
		pos := m.positions[symbol]
		mark := m.nextPrice(symbol)
		pos.MarkPrice = mark
		pos.UnrealizedPnl = UnrealizedPnl(pos.Side, pos.EntryPrice, mark, pos.Size)
		pos.UpdatedAt = now

		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

// Close сбрасывает сессию. Позиции сохраняются: симулятор живёт вместе с инстансом.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

var _ Exchange = (*Mock)(nil)

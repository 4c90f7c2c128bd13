// Package exchange описывает контракт ноги хеджа и реализации площадок.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange - унифицированный интерфейс площадки. Каждая реализация обязана
// поддерживать все методы; движок не проверяет возможности адаптера.
type Exchange interface {
	// Connect устанавливает сессию. Идемпотентен. Ошибка оборачивает ErrConnectionFailed.
	// Повторы - забота вызывающего.
	Connect(ctx context.Context) error

	// GetName возвращает имя ноги для логов и статуса
	GetName() string

	// GetBalance возвращает доступный баланс актива
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// GetPrice возвращает текущую референсную цену. Безопасен для вызова
	// параллельно с торговыми операциями.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// OpenPosition открывает позицию (side: buy -> long, sell -> short).
	// Требует Connect, иначе ErrNotConnected. Одна позиция на символ:
	// повторное открытие перезаписывает предыдущую.
	OpenPosition(ctx context.Context, symbol, side string, amount decimal.Decimal) (*Order, error)

	// ClosePosition закрывает позицию по символу. Если закрывать нечего - (nil, nil).
	ClosePosition(ctx context.Context, symbol string) (*Order, error)

	// GetPositions пересчитывает unrealized pnl по текущей цене и возвращает
	// позиции в порядке первого открытия символа.
	GetPositions(ctx context.Context) ([]*Position, error)

	// Close освобождает ресурсы адаптера
	Close() error
}

// Order - результат любой мутирующей операции адаптера
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"` // buy, sell, close
	Type      string          `json:"type"` // market, limit
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notional возвращает amount * price
func (o *Order) Notional() decimal.Decimal {
	return o.Amount.Mul(o.Price)
}

// Position - открытая позиция ноги
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"` // long, short
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Notional возвращает size * mark price
func (p *Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.MarkPrice)
}

// Стороны ордера
const (
	SideBuy   = "buy"   // открытие long
	SideSell  = "sell"  // открытие short
	SideClose = "close" // закрытие позиции
)

// Стороны позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Типы ордера
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// PositionSide переводит сторону ордера в сторону позиции
func PositionSide(orderSide string) string {
	if orderSide == SideSell {
		return SideShort
	}
	return SideLong
}

// OppositeSide возвращает противоположную сторону ордера
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// UnrealizedPnl считает pnl позиции: long = (mark - entry) * size, short - наоборот
func UnrealizedPnl(side string, entry, mark, size decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(entry)
	if side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}

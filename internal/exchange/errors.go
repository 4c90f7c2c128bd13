package exchange

import (
	"errors"
	"fmt"
)

// Таксономия ошибок адаптеров
var (
	// ErrConnectionFailed - ошибка аутентификации или сети при установке сессии
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected - торговая операция без успешного Connect
	ErrNotConnected = fmt.Errorf("not connected: %w", ErrConnectionFailed)

	// ErrTransient - временный сбой (таймаут, rate limit), безопасно повторить
	ErrTransient = errors.New("transient exchange error")

	// ErrUnsupportedExchange - тип площадки не зарегистрирован
	ErrUnsupportedExchange = errors.New("unsupported exchange")

	// ErrMissingParam - не задан обязательный параметр площадки
	ErrMissingParam = errors.New("missing exchange parameter")

	// ErrInvalidParam - параметр площадки не разобран
	ErrInvalidParam = errors.New("invalid exchange parameter")

	// ErrInvalidAmount - неположительный объём
	ErrInvalidAmount = errors.New("amount must be positive")
)

// ExchangeError - ошибка операции конкретной ноги
type ExchangeError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

// Unwrap возвращает исходную ошибку для errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Temporary сообщает пакету retry, что операцию можно повторить
func (e *ExchangeError) Temporary() bool {
	return errors.Is(e.Err, ErrTransient)
}

// wrapErr оборачивает ошибку в ExchangeError, не дублируя обёртку
func wrapErr(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return err
	}
	return &ExchangeError{Exchange: exchange, Op: op, Err: err}
}

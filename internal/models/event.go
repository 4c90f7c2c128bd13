package models

import "time"

// Event - структурированное событие жизненного цикла бота
type Event struct {
	Type      string                 `json:"type"`     // START, STOP, OPEN, CLOSE, LEG_FAIL, ERROR, FAULT, CONFIG
	Severity  string                 `json:"severity"` // info, warn, error
	AccountID string                 `json:"account_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Типы событий
const (
	EventTypeStart   = "START"    // бот запущен
	EventTypeStop    = "STOP"     // бот остановлен
	EventTypeOpen    = "OPEN"     // хедж открыт
	EventTypeClose   = "CLOSE"    // хедж закрыт
	EventTypeLegFail = "LEG_FAIL" // одна нога открылась, вторая нет
	EventTypeError   = "ERROR"    // ошибка шага стратегии
	EventTypeFault   = "FAULT"    // движок остановлен из-за ошибок
	EventTypeDrift   = "DRIFT"    // нарушен допуск по notional
	EventTypeConfig  = "CONFIG"   // добавление / удаление / изменение аккаунта
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// NewEvent создаёт событие с текущей меткой времени
func NewEvent(typ, severity, accountID, message string) Event {
	return Event{
		Type:      typ,
		Severity:  severity,
		AccountID: accountID,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithMeta добавляет поле в Meta
func (e Event) WithMeta(key string, value interface{}) Event {
	meta := make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

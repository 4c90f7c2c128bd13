package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"deltaneutral/internal/models"
)

// Constructor создаёт адаптер по имени ноги и параметрам площадки
type Constructor func(name string, params map[string]string) (Exchange, error)

type registration struct {
	required []string
	ctor     Constructor
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

func init() {
	Register(MockType, nil, NewMockFromParams)
}

// Register добавляет тип площадки. Повторная регистрация заменяет конструктор.
func Register(typ string, required []string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(typ)] = registration{required: required, ctor: ctor}
}

// SupportedExchanges возвращает зарегистрированные типы в алфавитном порядке
func SupportedExchanges() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for typ := range registry {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// IsSupported проверяет, зарегистрирован ли тип
func IsSupported(typ string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[strings.ToLower(typ)]
	return ok
}

// ValidateConfig проверяет тип и обязательные параметры ноги
func ValidateConfig(cfg models.ExchangeConfig) error {
	registryMu.RLock()
	reg, ok := registry[strings.ToLower(cfg.Type)]
	registryMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedExchange, cfg.Type)
	}
	for _, key := range reg.required {
		if strings.TrimSpace(cfg.Params[key]) == "" {
			return fmt.Errorf("%s: %w: %s", cfg.Type, ErrMissingParam, key)
		}
	}
	return nil
}

// NewExchange создаёт адаптер ноги. name используется в логах и статусе.
func NewExchange(name string, cfg models.ExchangeConfig) (Exchange, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	registryMu.RLock()
	reg := registry[strings.ToLower(cfg.Type)]
	registryMu.RUnlock()

	return reg.ctor(name, cfg.Params)
}

// LabelParam - необязательный параметр с отображаемым именем площадки
const LabelParam = "label"

// LegName формирует имя ноги "<Venue> (<account>)". Venue берётся из
// параметра label, иначе из типа с заглавной буквы.
func LegName(cfg models.ExchangeConfig, account string) string {
	venue := cfg.Params[LabelParam]
	if venue == "" && cfg.Type != "" {
		venue = strings.ToUpper(cfg.Type[:1]) + cfg.Type[1:]
	}
	return fmt.Sprintf("%s (%s)", venue, account)
}

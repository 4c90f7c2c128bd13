package models

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// DefaultSymbol - инструмент, которым торгуют боты по умолчанию
const DefaultSymbol = "BTC-PERP"

// LegCount - число ног в хедже; зафиксировано размером массива LegPair
const LegCount = 2

// Ошибки валидации конфигурации аккаунта
var (
	ErrEmptyName       = errors.New("account name is required")
	ErrInvalidNotional = errors.New("target notional must be positive")
	ErrEmptyLegType    = errors.New("exchange type is required")
	ErrLegCount        = fmt.Errorf("account must have exactly %d legs", LegCount)
)

// ExchangeConfig описывает одну ногу: тип площадки и её параметры.
// Набор обязательных ключей Params зависит от Type и проверяется реестром бирж.
type ExchangeConfig struct {
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"` // ключи, кошельки - секреты
}

// LegPair - ноги хеджа: [0] - нога A (long), [1] - нога B (short).
// JSON и YAML с другим числом элементов не декодируются.
type LegPair [LegCount]ExchangeConfig

// UnmarshalJSON реализует json.Unmarshaler
func (p *LegPair) UnmarshalJSON(data []byte) error {
	var legs []ExchangeConfig
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &legs); err != nil {
		return err
	}
	return p.set(legs)
}

// UnmarshalYAML реализует yaml.Unmarshaler
func (p *LegPair) UnmarshalYAML(value *yaml.Node) error {
	var legs []ExchangeConfig
	if err := value.Decode(&legs); err != nil {
		return err
	}
	return p.set(legs)
}

func (p *LegPair) set(legs []ExchangeConfig) error {
	if len(legs) != LegCount {
		return fmt.Errorf("%w, got %d", ErrLegCount, len(legs))
	}
	copy(p[:], legs)
	return nil
}

// AccountConfig - конфигурация одного хедж-бота
type AccountConfig struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	TargetNotional float64 `json:"target_notional" yaml:"target_notional"` // в валюте котировки на каждую ногу
	Symbol         string  `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Legs           LegPair `json:"legs" yaml:"legs"`
}

// AccountsDocument - схема сохраняемого файла конфигурации
type AccountsDocument struct {
	Accounts []AccountConfig `json:"accounts" yaml:"accounts"`
}

// Validate проверяет конфигурацию аккаунта
func (a *AccountConfig) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if a.TargetNotional <= 0 {
		return ErrInvalidNotional
	}
	for i, leg := range a.Legs {
		if strings.TrimSpace(leg.Type) == "" {
			return fmt.Errorf("leg %d: %w", i, ErrEmptyLegType)
		}
	}
	return nil
}

// EffectiveSymbol возвращает символ с учётом значения по умолчанию
func (a *AccountConfig) EffectiveSymbol() string {
	if a.Symbol == "" {
		return DefaultSymbol
	}
	return a.Symbol
}

// Clone возвращает глубокую копию (Params не разделяются между копиями)
func (a AccountConfig) Clone() AccountConfig {
	out := a
	for i, leg := range a.Legs {
		if leg.Params == nil {
			continue
		}
		params := make(map[string]string, len(leg.Params))
		for k, v := range leg.Params {
			params[k] = v
		}
		out.Legs[i].Params = params
	}
	return out
}

// secretMarkers - подстроки имён параметров ноги, значения которых считаются секретами
var secretMarkers = []string{"key", "secret", "private", "passphrase", "password", "token", "wallet", "mnemonic"}

// IsSecretParam сообщает, содержит ли параметр учётные данные
func IsSecretParam(name string) bool {
	name = strings.ToLower(name)
	for _, m := range secretMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Masked возвращает копию без значений секретных параметров (для API)
func (a AccountConfig) Masked() AccountConfig {
	out := a.Clone()
	for i := range out.Legs {
		for k, v := range out.Legs[i].Params {
			if IsSecretParam(k) {
				out.Legs[i].Params[k] = maskSecret(v)
			}
		}
	}
	return out
}

// maskSecret оставляет последние 4 символа длинных значений
func maskSecret(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

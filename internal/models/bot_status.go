package models

import "time"

// StrategyState - состояние цикла хеджа. Цикл замкнутый, терминального состояния нет.
type StrategyState string

// Состояния стратегии (state machine)
const (
	StateIdle    StrategyState = "IDLE"    // позиций нет, ожидание следующего цикла
	StateOpening StrategyState = "OPENING" // открытие обеих ног
	StateHedged  StrategyState = "HEDGED"  // обе ноги открыты, мониторинг pnl
	StateClosing StrategyState = "CLOSING" // закрытие обеих ног
)

func (s StrategyState) String() string { return string(s) }

// BotStatus - снимок состояния бота для UI / API
type BotStatus struct {
	AccountID       string        `json:"account_id"`
	Name            string        `json:"name"`
	Symbol          string        `json:"symbol"`
	Running         bool          `json:"running"`
	State           StrategyState `json:"state"`
	UnrealizedPnl   float64       `json:"unrealized_pnl"`
	Faulted         bool          `json:"faulted"`
	LastError       string        `json:"last_error,omitempty"`
	CyclesCompleted int64         `json:"cycles_completed"`
	Legs            []string      `json:"legs"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Summary - агрегаты по всем ботам (TOTAL PnL / ACTIVE BOTS)
type Summary struct {
	TotalAccounts int     `json:"total_accounts"`
	ActiveBots    int     `json:"active_bots"`
	TotalPnl      float64 `json:"total_pnl"`
}

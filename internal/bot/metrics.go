package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"deltaneutral/internal/models"
)

// ============================================================
// Prometheus метрики ботов
// ============================================================

// ============ Состояние ============

// StrategyStateGauge - текущее состояние бота (0 IDLE, 1 OPENING, 2 HEDGED, 3 CLOSING)
var StrategyStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "strategy_state",
		Help:      "Current strategy state (0=IDLE, 1=OPENING, 2=HEDGED, 3=CLOSING)",
	},
	[]string{"account"},
)

// UnrealizedPnlGauge - суммарный unrealized pnl обеих ног
var UnrealizedPnlGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "unrealized_pnl",
		Help:      "Aggregate unrealized PnL of both legs",
	},
	[]string{"account"},
)

// RunningBots - количество запущенных ботов
var RunningBots = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "running",
		Help:      "Number of running bot instances",
	},
)

// ============ Счётчики ============

// StateTransitions - переходы state machine
var StateTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "state_transitions_total",
		Help:      "Total number of strategy state transitions",
	},
	[]string{"from", "to"},
)

// CyclesCompleted - завершённые циклы хеджа
var CyclesCompleted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "cycles_total",
		Help:      "Total number of completed hedge cycles",
	},
	[]string{"account"},
)

// StrategyErrors - ошибки шагов стратегии по состояниям
var StrategyErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "strategy_errors_total",
		Help:      "Total number of failed strategy steps",
	},
	[]string{"account", "state"},
)

// LegFailures - открытия, где одна нога исполнилась, а вторая нет
var LegFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "leg_failures_total",
		Help:      "Total number of partial openings that required compensation",
	},
	[]string{"account"},
)

// EventsDropped - события, отброшенные из-за переполнения очереди
var EventsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltaneutral",
		Subsystem: "bot",
		Name:      "events_dropped_total",
		Help:      "Total number of lifecycle events dropped on full queues",
	},
	[]string{"sink"},
)

// ============ Хелперы ============

// RecordTransition учитывает переход и обновляет gauge состояния
func RecordTransition(account string, from, to models.StrategyState) {
	StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	StrategyStateGauge.WithLabelValues(account).Set(stateIndex(to))
}

// RecordPnl обновляет gauge pnl
func RecordPnl(account string, pnl float64) {
	UnrealizedPnlGauge.WithLabelValues(account).Set(pnl)
}

// RecordStepError учитывает ошибку шага
func RecordStepError(account string, state models.StrategyState) {
	StrategyErrors.WithLabelValues(account, string(state)).Inc()
}

// RecordEventDropped учитывает потерянное событие
func RecordEventDropped(sink string) {
	EventsDropped.WithLabelValues(sink).Inc()
}

// ForgetAccount удаляет серии удалённого аккаунта
func ForgetAccount(account string) {
	StrategyStateGauge.DeleteLabelValues(account)
	UnrealizedPnlGauge.DeleteLabelValues(account)
	CyclesCompleted.DeleteLabelValues(account)
	LegFailures.DeleteLabelValues(account)
	StrategyErrors.DeletePartialMatch(prometheus.Labels{"account": account})
}

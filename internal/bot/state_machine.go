package bot

import "deltaneutral/internal/models"

// ValidTransitions - единственный допустимый переход из каждого состояния.
// Цикл замкнутый: IDLE -> OPENING -> HEDGED -> CLOSING -> IDLE.
var ValidTransitions = map[models.StrategyState]models.StrategyState{
	models.StateIdle:    models.StateOpening,
	models.StateOpening: models.StateHedged,
	models.StateHedged:  models.StateClosing,
	models.StateClosing: models.StateIdle,
}

// NextState возвращает следующее состояние цикла
func NextState(s models.StrategyState) (models.StrategyState, bool) {
	next, ok := ValidTransitions[s]
	return next, ok
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.StrategyState) bool {
	next, ok := ValidTransitions[from]
	return ok && next == to
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s models.StrategyState) string {
	switch s {
	case models.StateIdle:
		return "Ожидание следующего цикла"
	case models.StateOpening:
		return "Открытие позиций на обеих ногах..."
	case models.StateHedged:
		return "Хедж открыт, мониторинг PnL"
	case models.StateClosing:
		return "Закрытие позиций..."
	default:
		return "Неизвестное состояние"
	}
}

// HasOpenPosition возвращает true, если на ногах могут быть открытые позиции
func HasOpenPosition(s models.StrategyState) bool {
	return s == models.StateOpening || s == models.StateHedged || s == models.StateClosing
}

// stateIndex - числовое значение состояния для prometheus gauge
func stateIndex(s models.StrategyState) float64 {
	switch s {
	case models.StateOpening:
		return 1
	case models.StateHedged:
		return 2
	case models.StateClosing:
		return 3
	default:
		return 0
	}
}

package bot

import "deltaneutral/internal/models"

// tryEnqueueEvent кладёт событие в канал без блокировки; при переполнении
// событие отбрасывается и учитывается в метриках
func tryEnqueueEvent(ch chan models.Event, e models.Event, sink string) bool {
	if ch == nil {
		return false
	}

	select {
	case ch <- e:
		return true
	default:
		RecordEventDropped(sink)
		return false
	}
}

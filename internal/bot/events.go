package bot

import (
	"sync"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/utils"
)

// EventPublisher получает события жизненного цикла ботов.
// Реализации не должны блокировать вызывающего надолго.
type EventPublisher interface {
	Publish(e models.Event)
}

// PublisherFunc - адаптер функции к EventPublisher
type PublisherFunc func(e models.Event)

func (f PublisherFunc) Publish(e models.Event) { f(e) }

// NopPublisher отбрасывает события
type NopPublisher struct{}

func (NopPublisher) Publish(models.Event) {}

// MultiPublisher рассылает событие всем подписчикам по очереди
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e models.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// LogPublisher пишет события в лог с уровнем по severity
type LogPublisher struct {
	Log *utils.Logger
}

func (l LogPublisher) Publish(e models.Event) {
	fields := []utils.Field{
		utils.String("event", e.Type),
		utils.AccountID(e.AccountID),
	}
	for k, v := range e.Meta {
		fields = append(fields, utils.Any(k, v))
	}

	switch e.Severity {
	case models.SeverityError:
		l.Log.Error(e.Message, fields...)
	case models.SeverityWarn:
		l.Log.Warn(e.Message, fields...)
	default:
		l.Log.Info(e.Message, fields...)
	}
}

// AsyncPublisher отвязывает медленного подписчика (Telegram) от движка:
// события идут через буферизованный канал, при переполнении отбрасываются.
type AsyncPublisher struct {
	sink EventPublisher
	name string
	ch   chan models.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher запускает горутину доставки
func NewAsyncPublisher(name string, sink EventPublisher, buffer int) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 100
	}
	p := &AsyncPublisher{
		sink: sink,
		name: name,
		ch:   make(chan models.Event, buffer),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *AsyncPublisher) loop() {
	defer close(p.done)
	for e := range p.ch {
		p.sink.Publish(e)
	}
}

// Publish ставит событие в очередь без блокировки. После Close события отбрасываются.
func (p *AsyncPublisher) Publish(e models.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	tryEnqueueEvent(p.ch, e, p.name)
}

// Close прекращает приём и дожидается доставки оставшихся событий
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()
	<-p.done
}

package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул буферов для сериализации broadcast сообщений
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// broadcastBufferSize - очередь сообщений hub; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

// StatusSource - источник снимков ботов для периодической рассылки
type StatusSource interface {
	Statuses() []models.BotStatus
	Summary() models.Summary
}

// HubOptions - настройки hub
type HubOptions struct {
	AllowedOrigins []string // пусто или "*" - любые
	Logger         *utils.Logger
}

// Hub управляет всеми активными WebSocket соединениями и рассылает
// им снимки ботов и события.
//
// Использование:
// 1. hub := NewHub(opts)
// 2. go hub.Run()
// 3. go hub.RunBroadcaster(ctx, supervisor, interval)
// 4. hub передаётся супервизору как EventPublisher
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	dropped atomic.Int64
	origins *OriginChecker
	log     *utils.Logger
}

// NewHub создает новый Hub
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(opts.AllowedOrigins),
		log:        opts.Logger.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до Stop.
// Медленные клиенты (переполнен буфер отправки) отключаются.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			// список клиентов копируется под коротким RLock, отправка без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает каналы всех клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь без блокировки.
// При переполнении очереди сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastBotUpdate рассылает снимок ботов
func (h *Hub) BroadcastBotUpdate(bots []models.BotStatus, summary models.Summary) {
	h.Broadcast(NewBotUpdateMessage(bots, summary))
}

// Publish рассылает событие бота (реализует bot.EventPublisher)
func (h *Hub) Publish(e models.Event) {
	if h.ClientCount() == 0 {
		return
	}
	h.Broadcast(NewEventMessage(e))
}

// RunBroadcaster рассылает снимки src каждые interval, пока есть клиенты.
// Блокирует до отмены ctx или Stop.
func (h *Hub) RunBroadcaster(ctx context.Context, src StatusSource, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.BroadcastBotUpdate(src.Statuses(), src.Summary())
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

package websocket

import (
	"time"

	"deltaneutral/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeBotUpdate - снимок всех ботов и агрегаты.
	// Отправляется каждые BroadcastInterval, пока есть подключённые клиенты.
	MessageTypeBotUpdate MessageType = "botUpdate"

	// MessageTypeEvent - событие жизненного цикла бота (START, OPEN, CLOSE, LEG_FAIL, FAULT, ...)
	MessageTypeEvent MessageType = "event"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// BotUpdateMessage - состояние ботов в порядке аккаунтов
type BotUpdateMessage struct {
	BaseMessage
	Bots    []models.BotStatus `json:"bots"`
	Summary models.Summary     `json:"summary"`
}

// EventMessage - одно событие бота
type EventMessage struct {
	BaseMessage
	Event models.Event `json:"event"`
}

// NewBotUpdateMessage создаёт сообщение со снимком ботов
func NewBotUpdateMessage(bots []models.BotStatus, summary models.Summary) *BotUpdateMessage {
	if bots == nil {
		bots = []models.BotStatus{}
	}
	return &BotUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeBotUpdate, Timestamp: time.Now()},
		Bots:        bots,
		Summary:     summary,
	}
}

// NewEventMessage создаёт сообщение с событием
func NewEventMessage(e models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEvent, Timestamp: time.Now()},
		Event:       e,
	}
}

package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"deltaneutral/internal/models"
	"deltaneutral/pkg/retry"
	"deltaneutral/pkg/utils"
)

// maxMessageLength - лимит Telegram на длину текста
const maxMessageLength = 4096

// Sender - часть tgbotapi.BotAPI, нужная для отправки
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOptions - настройки уведомлений
type TelegramOptions struct {
	// MinSeverity - минимальный уровень события для отправки (info, warn, error).
	// По умолчанию warn.
	MinSeverity string

	// Types - типы событий, отправляемые независимо от уровня (например OPEN, CLOSE)
	Types []string

	Retry   retry.Config
	Timeout time.Duration // лимит на доставку одного события
	Logger  *utils.Logger
}

// TelegramNotifier пересылает события ботов в чат Telegram.
// Реализует bot.EventPublisher; Publish блокирует на время отправки,
// поэтому в main он оборачивается в bot.AsyncPublisher.
type TelegramNotifier struct {
	api    Sender
	chatID int64

	minLevel int
	types    map[string]struct{}

	retry   retry.Config
	timeout time.Duration
	log     *utils.Logger
}

// NewTelegramNotifier авторизует бота по токену
func NewTelegramNotifier(token string, chatID int64, opts TelegramOptions) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	n := NewTelegramNotifierWithSender(api, chatID, opts)
	n.log.Info("telegram bot authorized", utils.String("username", api.Self.UserName))
	return n, nil
}

// NewTelegramNotifierWithSender создаёт уведомитель поверх готового отправителя
func NewTelegramNotifierWithSender(api Sender, chatID int64, opts TelegramOptions) *TelegramNotifier {
	if opts.MinSeverity == "" {
		opts.MinSeverity = models.SeverityWarn
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
		opts.Retry.MaxAttempts = 3
		opts.Retry.InitialDelay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.L()
	}

	types := make(map[string]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		types[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}

	return &TelegramNotifier{
		api:      api,
		chatID:   chatID,
		minLevel: severityLevel(opts.MinSeverity),
		types:    types,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		log:      opts.Logger.WithComponent("telegram"),
	}
}

// Publish отправляет событие, если оно проходит фильтр
func (n *TelegramNotifier) Publish(e models.Event) {
	if !n.Accepts(e) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.Send(ctx, FormatEvent(e)); err != nil {
		n.log.Error("failed to deliver event",
			utils.String("type", e.Type),
			utils.String("account_id", e.AccountID),
			utils.Err(err),
		)
	}
}

// Accepts сообщает, пройдёт ли событие фильтр уровня и типов
func (n *TelegramNotifier) Accepts(e models.Event) bool {
	if _, ok := n.types[e.Type]; ok {
		return true
	}
	return severityLevel(e.Severity) >= n.minLevel
}

// Send отправляет текст, разбивая его на части по лимиту Telegram.
// Каждая часть отправляется с повторами; ошибка последней неудачной части возвращается.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	var lastErr error
	for _, part := range splitMessage(text, maxMessageLength) {
		message := tgbotapi.NewMessage(n.chatID, part)
		message.DisableWebPagePreview = true

		err := retry.Do(ctx, func() error {
			_, err := n.api.Send(message)
			return err
		}, n.retry)
		if err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FormatEvent - текст уведомления
func FormatEvent(e models.Event) string {
	var b strings.Builder

	b.WriteString(severityIcon(e.Severity))
	b.WriteString(" ")
	b.WriteString(e.Type)
	if e.AccountID != "" {
		b.WriteString(" [")
		b.WriteString(e.AccountID)
		b.WriteString("]")
	}
	b.WriteString("\n")
	b.WriteString(e.Message)

	if len(e.Meta) > 0 {
		keys := make([]string, 0, len(e.Meta))
		for k := range e.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, e.Meta[k])
		}
	}

	if !e.Timestamp.IsZero() {
		b.WriteString("\n")
		b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func severityIcon(severity string) string {
	switch severity {
	case models.SeverityError:
		return "🚨"
	case models.SeverityWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func severityLevel(severity string) int {
	switch strings.ToLower(severity) {
	case models.SeverityError:
		return 2
	case models.SeverityWarn:
		return 1
	default:
		return 0
	}
}

// splitMessage разбивает текст по строкам на части не длиннее maxLength.
// Слишком длинная строка режется по границе рун.
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	current := ""

	flush := func() {
		if current != "" {
			messages = append(messages, current)
			current = ""
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLength {
			flush()
			cut := maxLength
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			messages = append(messages, line[:cut])
			line = line[cut:]
		}

		if current != "" && len(current)+len(line)+1 > maxLength {
			flush()
		}
		if current != "" {
			current += "\n"
		}
		current += line
	}
	flush()

	return messages
}

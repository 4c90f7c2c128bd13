package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Security SecurityConfig
	Bot      BotConfig
	Logging  LoggingConfig
	Telegram TelegramConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД (STORAGE_BACKEND=postgres)
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Backend хранилища аккаунтов
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// StorageConfig - где хранится список аккаунтов
type StorageConfig struct {
	Backend    string // file, postgres
	ConfigPath string // путь к accounts.json / accounts.yaml
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // ключ AES-256 для параметров ног; пусто = хранить как есть
	APITokenHash  string // bcrypt-хеш токена API; пусто = без аутентификации
}

// BotConfig - параметры стратегии и жизненного цикла ботов
type BotConfig struct {
	// Интервалы цикла хеджа
	ThinkMin     time.Duration // пауза в IDLE перед открытием (нижняя граница)
	ThinkMax     time.Duration
	HoldMin      time.Duration // удержание хеджа (нижняя граница)
	HoldMax      time.Duration
	PollInterval time.Duration // опрос позиций в HEDGED
	ErrorBackoff time.Duration // пауза после ошибки шага

	// 0 = без ограничения; иначе после N ошибок подряд бот помечается faulted
	MaxConsecutiveFailures int

	// Допустимое относительное отклонение notional ноги от целевого
	NotionalTolerance float64

	// Подключение ног
	MaxRetries   int
	RetryBackoff time.Duration

	// Защита вызовов бирж
	CallTimeout    time.Duration
	RateLimit      float64 // запросов/сек на тип площадки
	RateLimitBurst float64

	CloseOnStop       bool          // закрывать ноги при остановке бота
	StopTimeout       time.Duration // лимит на best-effort закрытие
	BroadcastInterval time.Duration // рассылка снимков ботов в WebSocket
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TelegramConfig - уведомления о событиях ботов
type TelegramConfig struct {
	Token       string
	ChatID      int64
	MinSeverity string   // info, warn, error
	EventTypes  []string // типы событий, отправляемые независимо от severity
}

// Enabled сообщает, настроены ли уведомления
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// Load загружает конфигурацию: сначала .env (если есть), затем переменные окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "deltaneutral"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Storage: StorageConfig{
			Backend:    strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
			ConfigPath: getEnv("ACCOUNTS_CONFIG_PATH", "config/accounts.json"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Bot: BotConfig{
			ThinkMin:     getEnvAsDuration("BOT_THINK_MIN", 2*time.Second),
			ThinkMax:     getEnvAsDuration("BOT_THINK_MAX", 5*time.Second),
			HoldMin:      getEnvAsDuration("BOT_HOLD_MIN", 5*time.Second),
			HoldMax:      getEnvAsDuration("BOT_HOLD_MAX", 10*time.Second),
			PollInterval: getEnvAsDuration("BOT_POLL_INTERVAL", 1*time.Second),
			ErrorBackoff: getEnvAsDuration("BOT_ERROR_BACKOFF", 5*time.Second),

			MaxConsecutiveFailures: getEnvAsInt("BOT_MAX_CONSECUTIVE_FAILURES", 0),
			NotionalTolerance:      getEnvAsFloat("BOT_NOTIONAL_TOLERANCE", 0.05),

			MaxRetries:   getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),

			CallTimeout:    getEnvAsDuration("EXCHANGE_CALL_TIMEOUT", 10*time.Second),
			RateLimit:      getEnvAsFloat("EXCHANGE_RATE_LIMIT", 10),
			RateLimitBurst: getEnvAsFloat("EXCHANGE_RATE_BURST", 20),

			CloseOnStop:       getEnvAsBool("BOT_CLOSE_ON_STOP", true),
			StopTimeout:       getEnvAsDuration("BOT_STOP_TIMEOUT", 15*time.Second),
			BroadcastInterval: getEnvAsDuration("BOT_BROADCAST_INTERVAL", 1*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
		Telegram: TelegramConfig{
			Token:       getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:      chatID,
			MinSeverity: strings.ToLower(getEnv("TELEGRAM_MIN_SEVERITY", "warn")),
			EventTypes:  getEnvAsList("TELEGRAM_EVENT_TYPES", nil),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности. Все они необязательны,
// но если заданы - должны быть корректны.
func (c *Config) validateSecurity() error {
	if c.Security.APITokenHash != "" && !strings.HasPrefix(c.Security.APITokenHash, "$2") {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
	}
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS=true")
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.ConfigPath == "" {
			return fmt.Errorf("ACCOUNTS_CONFIG_PATH is required for file storage")
		}
	case StoragePostgres:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageFile, StoragePostgres, c.Storage.Backend)
	}

	b := c.Bot
	if b.ThinkMin < 0 || b.ThinkMax < b.ThinkMin {
		return fmt.Errorf("BOT_THINK_MIN/MAX must satisfy 0 <= min <= max, got %v..%v", b.ThinkMin, b.ThinkMax)
	}
	if b.HoldMin < 0 || b.HoldMax < b.HoldMin {
		return fmt.Errorf("BOT_HOLD_MIN/MAX must satisfy 0 <= min <= max, got %v..%v", b.HoldMin, b.HoldMax)
	}
	if b.PollInterval <= 0 {
		return fmt.Errorf("BOT_POLL_INTERVAL must be positive, got %v", b.PollInterval)
	}
	if b.ErrorBackoff <= 0 {
		return fmt.Errorf("BOT_ERROR_BACKOFF must be positive, got %v", b.ErrorBackoff)
	}
	if b.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("BOT_MAX_CONSECUTIVE_FAILURES cannot be negative, got %d", b.MaxConsecutiveFailures)
	}
	if b.NotionalTolerance <= 0 || b.NotionalTolerance >= 1 {
		return fmt.Errorf("BOT_NOTIONAL_TOLERANCE must be in (0, 1), got %v", b.NotionalTolerance)
	}
	if b.MaxRetries < 1 || b.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES must be between 1 and 10, got %d", b.MaxRetries)
	}
	if b.CallTimeout <= 0 {
		return fmt.Errorf("EXCHANGE_CALL_TIMEOUT must be positive, got %v", b.CallTimeout)
	}
	if b.RateLimit <= 0 {
		return fmt.Errorf("EXCHANGE_RATE_LIMIT must be positive, got %v", b.RateLimit)
	}
	if b.BroadcastInterval <= 0 {
		return fmt.Errorf("BOT_BROADCAST_INTERVAL must be positive, got %v", b.BroadcastInterval)
	}

	switch c.Telegram.MinSeverity {
	case "info", "warn", "error":
	default:
		return fmt.Errorf("TELEGRAM_MIN_SEVERITY must be info, warn or error, got %q", c.Telegram.MinSeverity)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

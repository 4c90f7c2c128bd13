package utils

// logger.go - структурированное логирование на базе zap
//
// Все компоненты получают дочерние логгеры через With* хелперы,
// чтобы каждая запись несла account_id / exchange / component.

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field - поле структурированной записи
type Field = zap.Field

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу, пусто = stderr
	Development bool
}

// Logger - обёртка над zap.Logger с кэшированным sugar
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации.
// Ошибка открытия файла не фатальна: вывод уходит в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(zapcore.NewCore(encoder, sink, level), opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// parseLevel переводит строку в zapcore.Level, по умолчанию info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при первом вызове
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Nop возвращает логгер, который ничего не пишет (для тестов)
func Nop() *Logger {
	z := zap.NewNop()
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// WithComponent помечает записи именем компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithExchange помечает записи именем биржи (ноги)
func (l *Logger) WithExchange(name string) *Logger {
	return l.With(Exchange(name))
}

// WithSymbol помечает записи символом
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithAccount помечает записи идентификатором и именем аккаунта
func (l *Logger) WithAccount(id, name string) *Logger {
	return l.With(AccountID(id), zap.String("account", name))
}

// Sugar возвращает printf-style логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{}) { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{}) { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Конструкторы полей предметной области
// ============================================================

func AccountID(id string) zap.Field { return zap.String("account_id", id) }
func Exchange(name string) zap.Field { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }
func OrderID(id string) zap.Field { return zap.String("order_id", id) }
func Price(price string) zap.Field { return zap.String("price", price) }
func Amount(amount string) zap.Field { return zap.String("amount", amount) }
func PNL(pnl string) zap.Field { return zap.String("pnl", pnl) }
func Side(side string) zap.Field { return zap.String("side", side) }
func State(state string) zap.Field { return zap.String("state", state) }
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func Component(name string) zap.Field { return zap.String("component", name) }
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

// Переэкспорт базовых конструкторов zap, чтобы пакеты не импортировали zap напрямую

func String(key, val string) zap.Field { return zap.String(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Err(err error) zap.Field { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

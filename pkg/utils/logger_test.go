package utils

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_Formats(t *testing.T) {
	cases := []LogConfig{
		{},
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "debug", Format: "text", Development: true},
		{Level: "warn", Output: "stdout"},
		{Level: "info", Output: "/nonexistent/dir/bot.log"}, // fallback на stderr
	}

	for _, cfg := range cases {
		l := InitLogger(cfg)
		if l == nil || l.Logger == nil || l.sugar == nil {
			t.Fatalf("InitLogger(%+v) returned incomplete logger", cfg)
		}
	}
}

func TestInitLogger_FileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")

	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	l.WithAccount("acc-1", "Demo Account").Info("engine started", State("IDLE"), PNL("0"))
	_ = l.Sync()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("log file is empty")
	}

	var entry map[string]interface{}
	if err := jsoniter.Unmarshal(sc.Bytes(), &entry); err != nil {
		t.Fatalf("log entry is not JSON: %v", err)
	}

	want := map[string]string{
		"message":    "engine started",
		"account_id": "acc-1",
		"account":    "Demo Account",
		"state":      "IDLE",
		"pnl":        "0",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %q", k, entry[k], v)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	first := GetGlobalLogger()
	if first == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if L() != first {
		t.Error("L() returned a different logger")
	}

	custom := Nop()
	SetGlobalLogger(custom)
	if L() != custom {
		t.Error("SetGlobalLogger did not replace the logger")
	}

	// глобальные функции не должны паниковать на nop-логгере
	Debug("d")
	Info("i", Int("n", 1))
	Warn("w", Bool("b", true))
	Error("e", String("k", "v"))
	Infof("%d bots", 2)
	Warnf("leg %s", "A")
}

func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name    string
		field   zapcore.Field
		wantKey string
	}{
		{"AccountID", AccountID("a1"), "account_id"},
		{"Exchange", Exchange("mock"), "exchange"},
		{"Symbol", Symbol("BTC-PERP"), "symbol"},
		{"OrderID", OrderID("o1"), "order_id"},
		{"Price", Price("100.5"), "price"},
		{"Amount", Amount("10"), "amount"},
		{"PNL", PNL("-1.25"), "pnl"},
		{"Side", Side("buy"), "side"},
		{"State", State("HEDGED"), "state"},
		{"Latency", Latency(12.5), "latency_ms"},
		{"RequestID", RequestID("r1"), "request_id"},
		{"Component", Component("supervisor"), "component"},
		{"Attempt", Attempt(3), "attempt"},
		{"Duration", Duration("backoff", 5*time.Second), "backoff"},
		{"Float64", Float64("ratio", 0.05), "ratio"},
		{"Int64", Int64("cycles", 7), "cycles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.field.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.field.Key, tt.wantKey)
			}
		})
	}
}

func TestErrField(t *testing.T) {
	f := Err(os.ErrNotExist)
	if f.Key != "error" {
		t.Errorf("Err key = %q, want error", f.Key)
	}
	if Any("meta", map[string]string{"a": "b"}).Key != "meta" {
		t.Error("Any lost the key")
	}
}

func BenchmarkLogger_WithAccount(b *testing.B) {
	l := Nop()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.WithAccount("acc", "Demo").Info("tick", State("HEDGED"))
	}
}

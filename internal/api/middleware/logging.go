package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"deltaneutral/pkg/utils"
)

// responseWriter запоминает код ответа и размер тела
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack нужен для апгрейда /ws/stream до WebSocket
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Logging - middleware для логирования HTTP запросов
//
// Одна запись на запрос: method, path, status, duration, client ip, размер ответа.
// Ответы 5xx пишутся с уровнем warn, /health и /metrics - с уровнем debug.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		log := utils.L().WithComponent("http")
		fields := []utils.Field{
			utils.String("method", r.Method),
			utils.String("path", r.URL.Path),
			utils.Int("status", wrapped.statusCode),
			utils.Duration("duration", time.Since(start)),
			utils.String("client_ip", r.RemoteAddr),
			utils.Int64("bytes", wrapped.written),
		}

		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			log.Warn("http request", fields...)
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	})
}

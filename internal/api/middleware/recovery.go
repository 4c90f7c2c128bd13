package middleware

import (
	"net/http"
	"runtime/debug"

	"deltaneutral/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует её со stack trace и возвращает клиенту
// 500 Internal Server Error. Текст паники клиенту не отдаётся.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				utils.L().Error("panic in http handler",
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Any("panic", err),
					utils.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Internal server error","code":"internal_error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

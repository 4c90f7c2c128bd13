package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"deltaneutral/pkg/crypto"
	"deltaneutral/pkg/utils"
)

// TokenQueryParam - параметр запроса с токеном для клиентов, которые не могут
// передать заголовок (браузерный WebSocket)
const TokenQueryParam = "access_token"

// Auth - middleware аутентификации по bearer токену
//
// Токен сравнивается с bcrypt-хешем API_TOKEN_HASH. Пустой хеш отключает проверку
// (локальное развертывание). Последний принятый токен запоминается, чтобы не
// считать bcrypt на каждый запрос; сравнение с ним идёт за постоянное время.
//
// Использование:
//
//	api.Use(middleware.Auth(cfg.Security.APITokenHash))
func Auth(tokenHash string) func(http.Handler) http.Handler {
	if tokenHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.RWMutex
		accepted []byte
	)

	verify := func(token string) bool {
		mu.RLock()
		cached := accepted
		mu.RUnlock()
		if cached != nil && subtle.ConstantTimeCompare(cached, []byte(token)) == 1 {
			return true
		}

		if err := crypto.VerifyToken(token, tokenHash); err != nil {
			return false
		}

		mu.Lock()
		accepted = []byte(token)
		mu.Unlock()
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || !verify(token) {
				utils.L().WithComponent("http").Warn("unauthorized request",
					utils.String("path", r.URL.Path),
					utils.String("client_ip", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="deltaneutral"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized","code":"unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из Authorization: Bearer <token> или из access_token
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}

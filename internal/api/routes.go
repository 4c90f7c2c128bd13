package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deltaneutral/internal/api/handlers"
	"deltaneutral/internal/api/middleware"
)

// Supervisor - всё, что API нужно от супервизора ботов
type Supervisor interface {
	handlers.AccountService
	handlers.BotService
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Supervisor Supervisor

	// WebSocket обработчик потока (hub.ServeWS); nil - маршрут не регистрируется
	Stream http.HandlerFunc

	AllowedOrigins []string
	APITokenHash   string // bcrypt; пусто - без аутентификации
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /accounts/
//	│   ├── GET / - список аккаунтов
//	│   ├── POST / - добавить аккаунт
//	│   ├── PUT /{index} - заменить конфигурацию
//	│   └── DELETE /{index} - удалить аккаунт
//	├── /bots/
//	│   ├── GET / - состояние ботов
//	│   ├── POST /start - запустить всех
//	│   ├── POST /stop - остановить всех
//	│   ├── POST /{id}/start - запустить одного
//	│   └── POST /{id}/stop - остановить одного
//	└── GET /summary - TOTAL PnL / ACTIVE BOTS
//
// /ws/stream - WebSocket (botUpdate, event)
// /health, /metrics - без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (/api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	cors := middleware.CORS(deps.AllowedOrigins)

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(cors)

	// Middleware mux не вызываются без совпавшего маршрута, поэтому preflight
	// (OPTIONS к маршрутам с другим методом) обрабатывается здесь
	router.MethodNotAllowedHandler = cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":"Method not allowed","code":"method_not_allowed"}`))
	}))

	auth := middleware.Auth(deps.APITokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Supervisor != nil {
		accountHandler := handlers.NewAccountHandler(deps.Supervisor)
		botHandler := handlers.NewBotHandler(deps.Supervisor)

		// Account routes
		api.HandleFunc("/accounts", accountHandler.GetAccounts).Methods("GET")
		api.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
		api.HandleFunc("/accounts/{index:-?[0-9]+}", accountHandler.UpdateAccount).Methods("PUT")
		api.HandleFunc("/accounts/{index:-?[0-9]+}", accountHandler.DeleteAccount).Methods("DELETE")

		// Bot routes
		api.HandleFunc("/bots", botHandler.GetBots).Methods("GET")
		api.HandleFunc("/bots/start", botHandler.StartAll).Methods("POST")
		api.HandleFunc("/bots/stop", botHandler.StopAll).Methods("POST")
		api.HandleFunc("/bots/{id}/start", botHandler.StartBot).Methods("POST")
		api.HandleFunc("/bots/{id}/stop", botHandler.StopBot).Methods("POST")
		api.HandleFunc("/summary", botHandler.GetSummary).Methods("GET")
	}

	// WebSocket route
	if deps.Stream != nil {
		router.Handle("/ws/stream", auth(deps.Stream)).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}

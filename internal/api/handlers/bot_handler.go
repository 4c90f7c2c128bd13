package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"deltaneutral/internal/models"
)

// BotHandler отвечает за запуск/остановку ботов и их состояние
//
// Endpoints:
// - GET /api/v1/bots               - состояние всех ботов и агрегаты
// - POST /api/v1/bots/start        - запуск всех включённых ботов
// - POST /api/v1/bots/stop         - остановка всех ботов
// - POST /api/v1/bots/{id}/start   - запуск одного бота
// - POST /api/v1/bots/{id}/stop    - остановка одного бота
// - GET /api/v1/summary            - только агрегаты (TOTAL PnL, ACTIVE BOTS)
type BotHandler struct {
	bots BotService
}

// NewBotHandler создает новый BotHandler
func NewBotHandler(bots BotService) *BotHandler {
	return &BotHandler{bots: bots}
}

// BotsResponse - снимок ботов в порядке списка аккаунтов
type BotsResponse struct {
	Bots    []models.BotStatus `json:"bots"`
	Summary models.Summary     `json:"summary"`
}

// GetBots возвращает состояние всех ботов
// GET /api/v1/bots
func (h *BotHandler) GetBots(w http.ResponseWriter, r *http.Request) {
	bots := h.bots.Statuses()
	if bots == nil {
		bots = []models.BotStatus{}
	}
	respondWithJSON(w, http.StatusOK, BotsResponse{Bots: bots, Summary: h.bots.Summary()})
}

// GetSummary возвращает агрегаты по всем ботам
// GET /api/v1/summary
func (h *BotHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.bots.Summary())
}

// StartAll запускает всех ботов
// POST /api/v1/bots/start
//
// Response:
// - 200 OK: все боты запущены
// - 502 Bad Gateway: часть ботов не запустилась (details - список ошибок),
// остальные работают
func (h *BotHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.StartAll(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "bots started", Data: h.bots.Summary()})
}

// StopAll останавливает всех ботов
// POST /api/v1/bots/stop
func (h *BotHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.StopAll(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "bots stopped", Data: h.bots.Summary()})
}

// StartBot запускает бота одного аккаунта
// POST /api/v1/bots/{id}/start
//
// Response:
// - 200 OK: бот запущен (повторный запуск - тоже 200)
// - 404 Not Found: аккаунт не найден
// - 502 Bad Gateway: ноги не подключились
func (h *BotHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.bots.StartAccount(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "bot started", Data: map[string]string{"id": id}})
}

// StopBot останавливает бота одного аккаунта
// POST /api/v1/bots/{id}/stop
func (h *BotHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.bots.StopAccount(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "bot stopped", Data: map[string]string{"id": id}})
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"deltaneutral/internal/bot"
	"deltaneutral/internal/exchange"
	"deltaneutral/internal/models"
	"deltaneutral/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// AccountService - операции над списком аккаунтов (реализует *bot.Supervisor)
type AccountService interface {
	Accounts() []models.AccountConfig
	Account(id string) (models.AccountConfig, error)
	AddAccount(ctx context.Context, cfg models.AccountConfig) (models.AccountConfig, error)
	UpdateAccount(ctx context.Context, index int, cfg models.AccountConfig) (models.AccountConfig, error)
	UpdateAccountByID(ctx context.Context, id string, cfg models.AccountConfig) (models.AccountConfig, error)
	RemoveAccount(ctx context.Context, index int) error
}

// BotService - управление ботами и снимки их состояния (реализует *bot.Supervisor)
type BotService interface {
	Statuses() []models.BotStatus
	Summary() models.Summary
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	StartAccount(ctx context.Context, id string) error
	StopAccount(ctx context.Context, id string) error
}

var (
	_ AccountService = (*bot.Supervisor)(nil)
	_ BotService     = (*bot.Supervisor)(nil)
)

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, code int, errCode, message, details string) {
	respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Code:    errCode,
		Details: details,
	})
}

// decodeJSON читает тело запроса с ограничением размера
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// handleServiceError преобразует ошибку супервизора в HTTP ответ
//
// - ErrInvalidAccount и ошибки параметров ног -> 400
// - ErrAccountNotFound -> 404
// - StructuralMutationError (индекс вне списка) -> 409
// - ErrDuplicateAccount -> 409
// - ErrSupervisorClosed -> 503
// - InstanceError (бот не запустился/не остановился) -> 502
// - остальное -> 500
func handleServiceError(w http.ResponseWriter, err error) {
	var mutation *bot.StructuralMutationError
	var instance *bot.InstanceError

	switch {
	case errors.Is(err, bot.ErrInvalidAccount),
		errors.Is(err, exchange.ErrUnsupportedExchange),
		errors.Is(err, exchange.ErrMissingParam),
		errors.Is(err, exchange.ErrInvalidParam):
		respondWithError(w, http.StatusBadRequest, "invalid_account", "Invalid account config", err.Error())
	case errors.Is(err, bot.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "Account not found", err.Error())
	case errors.As(err, &mutation):
		respondWithError(w, http.StatusConflict, "index_out_of_range", "Account list has changed", err.Error())
	case errors.Is(err, bot.ErrDuplicateAccount):
		respondWithError(w, http.StatusConflict, "duplicate_account", "Account already exists", err.Error())
	case errors.Is(err, bot.ErrSupervisorClosed):
		respondWithError(w, http.StatusServiceUnavailable, "shutting_down", "Server is shutting down", "")
	case errors.As(err, &instance):
		respondWithError(w, http.StatusBadGateway, "bot_failed", "Bot operation failed", err.Error())
	default:
		utils.L().Error("request failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

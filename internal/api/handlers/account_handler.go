package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"deltaneutral/internal/bot"
	"deltaneutral/internal/models"
)

// maskPrefix - признак замаскированного значения параметра в ответах API
const maskPrefix = "****"

// AccountHandler отвечает за управление списком аккаунтов
//
// Endpoints:
// - GET /api/v1/accounts              - список аккаунтов (секреты замаскированы)
// - POST /api/v1/accounts             - добавление аккаунта
// - PUT /api/v1/accounts/{index}      - замена конфигурации по индексу
// - DELETE /api/v1/accounts/{index}   - удаление по индексу
//
// Индекс - позиция аккаунта в списке, который клиент получил из GET.
// Если список успел измениться, ответ 409 и клиент перечитывает список.
type AccountHandler struct {
	accounts AccountService
}

// NewAccountHandler создает новый AccountHandler
func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// AccountResponse - аккаунт после изменения.
// Warning заполнен, если конфигурация сохранена, но бот не запустился.
type AccountResponse struct {
	Account models.AccountConfig `json:"account"`
	Warning string               `json:"warning,omitempty"`
}

// GetAccounts возвращает список аккаунтов
// GET /api/v1/accounts
//
// Response: {"accounts": [...]} в формате файла конфигурации
func (h *AccountHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.accounts.Accounts()

	masked := make([]models.AccountConfig, len(accounts))
	for i, acc := range accounts {
		masked[i] = acc.Masked()
	}

	respondWithJSON(w, http.StatusOK, models.AccountsDocument{Accounts: masked})
}

// CreateAccount добавляет аккаунт и запускает бота, если он включён
// POST /api/v1/accounts
//
// Request Body:
//
//	{
//	  "name": "Main",
//	  "enabled": true,
//	  "target_notional": 1000,
//	  "legs": [
//	    {"type": "mock", "params": {"label": "Pacifica"}},
//	    {"type": "mock", "params": {"label": "Variational"}}
//	  ]
//	}
//
// Response:
// - 201 Created: аккаунт добавлен (warning, если бот не запустился)
// - 400 Bad Request: невалидная конфигурация
// - 409 Conflict: аккаунт с таким id уже существует
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AccountConfig
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	acc, err := h.accounts.AddAccount(r.Context(), req)
	h.respondWithAccount(w, http.StatusCreated, acc, err)
}

// UpdateAccount заменяет конфигурацию аккаунта
// PUT /api/v1/accounts/{index}
//
// Тело - полная конфигурация аккаунта. Значения параметров, пришедшие
// в замаскированном виде ("****abcd"), заменяются сохранёнными значениями
// того же аккаунта; для этого в теле нужен id, совпадающий с {index}.
// Тело с id изменяет аккаунт по id, без id - по индексу.
//
// Response:
// - 200 OK: конфигурация заменена, бот перезапущен
// - 400 Bad Request: невалидный индекс, конфигурация или маска без id
// - 404 Not Found: аккаунта с id из тела нет
// - 409 Conflict: индекс вне текущего списка или указывает на другой аккаунт
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	var req models.AccountConfig
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if req.ID == "" {
		if param, masked := maskedParam(req); masked {
			respondWithError(w, http.StatusBadRequest, "masked_secret",
				"Masked value requires the account id", param)
			return
		}
		acc, err := h.accounts.UpdateAccount(r.Context(), index, req)
		h.respondWithAccount(w, http.StatusOK, acc, err)
		return
	}

	current, err := h.accounts.Account(req.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	accounts := h.accounts.Accounts()
	if index < 0 || index >= len(accounts) {
		handleServiceError(w, &bot.StructuralMutationError{Op: "update", Index: index, Len: len(accounts)})
		return
	}
	if accounts[index].ID != req.ID {
		respondWithError(w, http.StatusConflict, "index_mismatch", "Account list has changed",
			fmt.Sprintf("index %d holds %s, not %s", index, accounts[index].ID, req.ID))
		return
	}

	// секреты берутся только у того же аккаунта, изменение идёт по id
	req = unmaskParams(req, current)
	if param, masked := maskedParam(req); masked {
		respondWithError(w, http.StatusBadRequest, "masked_secret",
			"Masked value cannot be restored for a changed leg type", param)
		return
	}

	acc, err := h.accounts.UpdateAccountByID(r.Context(), req.ID, req)
	h.respondWithAccount(w, http.StatusOK, acc, err)
}

// DeleteAccount останавливает бота и удаляет аккаунт
// DELETE /api/v1/accounts/{index}
//
// Response:
// - 200 OK: аккаунт удалён
// - 409 Conflict: индекс вне текущего списка
// - 502 Bad Gateway: бот не остановился, аккаунт не удалён
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	if err := h.accounts.RemoveAccount(r.Context(), index); err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "account removed"})
}

// respondWithAccount: ошибка запуска бота после сохранения не отменяет изменение
func (h *AccountHandler) respondWithAccount(w http.ResponseWriter, code int, acc models.AccountConfig, err error) {
	var instance *bot.InstanceError
	switch {
	case err == nil:
		respondWithJSON(w, code, AccountResponse{Account: acc.Masked()})
	case errors.As(err, &instance) && instance.Op != "stop":
		respondWithJSON(w, code, AccountResponse{Account: acc.Masked(), Warning: err.Error()})
	default:
		handleServiceError(w, err)
	}
}

// parseIndex читает {index} из пути; при ошибке ответ уже отправлен
func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_index", "Account index must be an integer", err.Error())
		return 0, false
	}
	return index, true
}

// unmaskParams подставляет сохранённые значения вместо замаскированных
func unmaskParams(req, current models.AccountConfig) models.AccountConfig {
	req = req.Clone()
	for i := range req.Legs {
		if req.Legs[i].Type != current.Legs[i].Type {
			continue
		}
		for k, v := range req.Legs[i].Params {
			if !strings.HasPrefix(v, maskPrefix) {
				continue
			}
			if old, ok := current.Legs[i].Params[k]; ok {
				req.Legs[i].Params[k] = old
			}
		}
	}
	return req
}

// maskedParam возвращает первый параметр, оставшийся замаскированным
func maskedParam(cfg models.AccountConfig) (string, bool) {
	for i, leg := range cfg.Legs {
		for k, v := range leg.Params {
			if strings.HasPrefix(v, maskPrefix) {
				return fmt.Sprintf("leg %d: %s", i, k), true
			}
		}
	}
	return "", false
}

package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"deltaneutral/internal/bot"
	"deltaneutral/internal/models"
)

// ============ AccountHandler Tests ============

func newJSONRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAccountHandler_GetAccounts(t *testing.T) {
	mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true), mockAccount("acc-2", "Second", false))
	handler := NewAccountHandler(mockSvc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	w := httptest.NewRecorder()

	handler.GetAccounts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if strings.Contains(w.Body.String(), "pk-live-123456") {
		t.Error("response leaks api_key")
	}

	var doc models.AccountsDocument
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(doc.Accounts) != 2 || doc.Accounts[0].ID != "acc-1" || doc.Accounts[1].ID != "acc-2" {
		t.Fatalf("unexpected accounts: %+v", doc.Accounts)
	}
	if got := doc.Accounts[0].Legs[0].Params["api_key"]; got != "****3456" {
		t.Errorf("api_key = %q, want ****3456", got)
	}
	if got := doc.Accounts[0].Legs[0].Params["label"]; got != "Pacifica" {
		t.Errorf("label = %q, want Pacifica", got)
	}
}

func TestAccountHandler_GetAccountsEmpty(t *testing.T) {
	handler := NewAccountHandler(NewMockSupervisor())

	w := httptest.NewRecorder()
	handler.GetAccounts(w, httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"accounts":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestAccountHandler_CreateAccount(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		setup      func(m *MockSupervisor)
		wantStatus int
		wantCode   string
		wantLen    int
	}{
		{
			name:       "created",
			body:       mockAccount("", "New", true),
			wantStatus: http.StatusCreated,
			wantLen:    2,
		},
		{
			name:       "invalid config",
			body:       mockAccount("", "", true),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_account",
			wantLen:    1,
		},
		{
			name:       "duplicate id",
			body:       mockAccount("acc-1", "Copy", true),
			wantStatus: http.StatusConflict,
			wantCode:   "duplicate_account",
			wantLen:    1,
		},
		{
			name: "bot failed to start but account saved",
			body: mockAccount("", "Flaky", true),
			setup: func(m *MockSupervisor) {
				m.SetError("add", &bot.InstanceError{AccountID: "acc-2", Op: "start", Err: errors.New("connect leg A")})
			},
			wantStatus: http.StatusCreated,
			wantLen:    2,
		},
		{
			name: "store failure",
			body: mockAccount("", "New", true),
			setup: func(m *MockSupervisor) {
				m.SetError("add", ErrMockStore)
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
			wantLen:    1,
		},
		{
			name:       "shutting down",
			body:       mockAccount("", "New", true),
			setup:      func(m *MockSupervisor) { m.SetError("add", bot.ErrSupervisorClosed) },
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "shutting_down",
			wantLen:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true))
			if tt.setup != nil {
				tt.setup(mockSvc)
			}
			handler := NewAccountHandler(mockSvc)

			w := httptest.NewRecorder()
			handler.CreateAccount(w, newJSONRequest(t, http.MethodPost, "/api/v1/accounts", tt.body))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
				}
			}
			if got := len(mockSvc.Accounts()); got != tt.wantLen {
				t.Errorf("accounts = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestAccountHandler_CreateAccountWarning(t *testing.T) {
	mockSvc := NewMockSupervisor()
	mockSvc.SetError("add", &bot.InstanceError{AccountID: "acc-1", Op: "start", Err: errors.New("connect leg A")})
	handler := NewAccountHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.CreateAccount(w, newJSONRequest(t, http.MethodPost, "/api/v1/accounts", mockAccount("", "Flaky", true)))

	var resp AccountResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Account.ID == "" || resp.Account.Name != "Flaky" {
		t.Errorf("account = %+v", resp.Account)
	}
	if !strings.Contains(resp.Warning, "connect leg A") {
		t.Errorf("warning = %q", resp.Warning)
	}
}

func TestAccountHandler_CreateAccountInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{not json"},
		{"three legs", `{"name":"Triple","target_notional":10,"legs":[{"type":"mock"},{"type":"mock"},{"type":"mock"}]}`},
		{"one leg", `{"name":"Single","target_notional":10,"legs":[{"type":"mock"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSupervisor()
			handler := NewAccountHandler(mockSvc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.CreateAccount(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if len(mockSvc.Accounts()) != 0 {
				t.Error("account added from invalid body")
			}
		})
	}
}

func TestAccountHandler_UpdateAccount(t *testing.T) {
	tests := []struct {
		name       string
		index      string
		body       models.AccountConfig
		wantStatus int
	}{
		{"updated", "0", mockAccount("", "Renamed", false), http.StatusOK},
		{"index out of range", "5", mockAccount("", "Renamed", false), http.StatusConflict},
		{"negative index", "-1", mockAccount("", "Renamed", false), http.StatusConflict},
		{"non-numeric index", "abc", mockAccount("", "Renamed", false), http.StatusBadRequest},
		{"invalid config", "0", mockAccount("", "Renamed", false), http.StatusBadRequest},
	}
	tests[4].body.TargetNotional = 0

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true))
			handler := NewAccountHandler(mockSvc)

			req := newJSONRequest(t, http.MethodPut, "/api/v1/accounts/"+tt.index, tt.body)
			req = mux.SetURLVars(req, map[string]string{"index": tt.index})
			w := httptest.NewRecorder()

			handler.UpdateAccount(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				acc := mockSvc.Accounts()[0]
				if acc.ID != "acc-1" || acc.Name != "Renamed" || acc.Enabled {
					t.Errorf("account not replaced: %+v", acc)
				}
			}
		})
	}
}

func TestAccountHandler_UpdateAccountKeepsMaskedSecrets(t *testing.T) {
	mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true))
	handler := NewAccountHandler(mockSvc)

	// клиент отправляет назад то, что получил из GET
	body := mockAccount("acc-1", "Renamed", true).Masked()
	body.Legs[1].Params["api_key"] = "vk-rotated-999"

	req := newJSONRequest(t, http.MethodPut, "/api/v1/accounts/0", body)
	req = mux.SetURLVars(req, map[string]string{"index": "0"})
	w := httptest.NewRecorder()

	handler.UpdateAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := mockSvc.lastUpdate.Legs[0].Params["api_key"]; got != "pk-live-123456" {
		t.Errorf("leg A api_key = %q, want stored value", got)
	}
	if got := mockSvc.lastUpdate.Legs[1].Params["api_key"]; got != "vk-rotated-999" {
		t.Errorf("leg B api_key = %q, want new value", got)
	}
}

func TestAccountHandler_UpdateAccountMaskedSecretsNeedMatchingID(t *testing.T) {
	tests := []struct {
		name       string
		index      string
		id         string
		wantStatus int
		wantCode   string
	}{
		{"masked without id", "0", "", http.StatusBadRequest, "masked_secret"},
		{"id held by another index", "0", "acc-2", http.StatusConflict, "index_mismatch"},
		{"unknown id", "0", "acc-9", http.StatusNotFound, "not_found"},
		{"index out of range", "7", "acc-1", http.StatusConflict, "index_out_of_range"},
		{"matching id", "1", "acc-2", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true), mockAccount("acc-2", "Second", true))
			handler := NewAccountHandler(mockSvc)

			// маска второго аккаунта, отправленная на чужой индекс
			body := mockAccount("acc-2", "Second", true).Masked()
			body.ID = tt.id

			req := newJSONRequest(t, http.MethodPut, "/api/v1/accounts/"+tt.index, body)
			req = mux.SetURLVars(req, map[string]string{"index": tt.index})
			w := httptest.NewRecorder()

			handler.UpdateAccount(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" && !strings.Contains(w.Body.String(), tt.wantCode) {
				t.Errorf("body %s does not contain %q", w.Body.String(), tt.wantCode)
			}

			accounts := mockSvc.Accounts()
			for _, acc := range accounts {
				for _, leg := range acc.Legs {
					if strings.HasPrefix(leg.Params["api_key"], maskPrefix) {
						t.Fatalf("masked value stored for %s", acc.ID)
					}
				}
			}
			if accounts[0].Legs[0].Params["api_key"] != "pk-live-123456" || accounts[0].Name != "Demo Account" {
				t.Errorf("first account changed: %+v", accounts[0])
			}
			if tt.wantStatus == http.StatusOK && mockSvc.lastUpdate.ID != "acc-2" {
				t.Errorf("updated %q, want acc-2", mockSvc.lastUpdate.ID)
			}
		})
	}
}

func TestAccountHandler_DeleteAccount(t *testing.T) {
	tests := []struct {
		name       string
		index      string
		setup      func(m *MockSupervisor)
		wantStatus int
		wantLen    int
	}{
		{"removed", "0", nil, http.StatusOK, 1},
		{"index out of range", "2", nil, http.StatusConflict, 2},
		{"non-numeric index", "x", nil, http.StatusBadRequest, 2},
		{
			name:  "bot did not stop",
			index: "1",
			setup: func(m *MockSupervisor) {
				m.SetError("remove", &bot.InstanceError{AccountID: "acc-2", Op: "stop", Err: errors.New("close leg B")})
			},
			wantStatus: http.StatusBadGateway,
			wantLen:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSupervisor(mockAccount("acc-1", "Demo Account", true), mockAccount("acc-2", "Second", true))
			if tt.setup != nil {
				tt.setup(mockSvc)
			}
			handler := NewAccountHandler(mockSvc)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/"+tt.index, nil)
			req = mux.SetURLVars(req, map[string]string{"index": tt.index})
			w := httptest.NewRecorder()

			handler.DeleteAccount(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if got := len(mockSvc.Accounts()); got != tt.wantLen {
				t.Errorf("accounts = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestUnmaskParams(t *testing.T) {
	current := mockAccount("acc-1", "Demo Account", true)

	req := current.Masked()
	req.Legs[1].Type = "other"
	req.Legs[1].Params["api_key"] = "****cdef"

	got := unmaskParams(req, current)

	if got.Legs[0].Params["api_key"] != "pk-live-123456" {
		t.Errorf("leg A not restored: %q", got.Legs[0].Params["api_key"])
	}
	// тип ноги сменился - сохранённые секреты не подставляются
	if got.Legs[1].Params["api_key"] != "****cdef" {
		t.Errorf("leg B restored across venue change: %q", got.Legs[1].Params["api_key"])
	}
	if req.Legs[0].Params["api_key"] == "pk-live-123456" {
		t.Error("unmaskParams modified the request in place")
	}
}

package models

import (
	"errors"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ============ AccountConfig Tests ============

func validAccount() AccountConfig {
	return AccountConfig{
		ID:             "a1",
		Name:           "Demo Account",
		Enabled:        true,
		TargetNotional: 1000,
		Legs: [LegCount]ExchangeConfig{
			{Type: "mock", Params: map[string]string{"api_key": "key-123456"}},
			{Type: "mock"},
		},
	}
}

func TestAccountConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *AccountConfig)
		wantErr error
	}{
		{"valid", func(a *AccountConfig) {}, nil},
		{"empty name", func(a *AccountConfig) { a.Name = "  " }, ErrEmptyName},
		{"zero notional", func(a *AccountConfig) { a.TargetNotional = 0 }, ErrInvalidNotional},
		{"negative notional", func(a *AccountConfig) { a.TargetNotional = -5 }, ErrInvalidNotional},
		{"missing leg type", func(a *AccountConfig) { a.Legs[1].Type = "" }, ErrEmptyLegType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAccount()
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAccountConfig_EffectiveSymbol(t *testing.T) {
	a := validAccount()
	if got := a.EffectiveSymbol(); got != DefaultSymbol {
		t.Errorf("default symbol = %q, want %q", got, DefaultSymbol)
	}
	a.Symbol = "ETH-PERP"
	if got := a.EffectiveSymbol(); got != "ETH-PERP" {
		t.Errorf("symbol = %q, want ETH-PERP", got)
	}
}

func TestAccountConfig_CloneIsDeep(t *testing.T) {
	a := validAccount()
	b := a.Clone()
	b.Legs[0].Params["api_key"] = "changed"

	if a.Legs[0].Params["api_key"] != "key-123456" {
		t.Error("Clone shares Params with the original")
	}
}

func TestAccountConfig_MaskedHidesSecrets(t *testing.T) {
	a := validAccount()
	a.Legs[1].Params = map[string]string{"label": "Variational"}
	data, err := jsoniter.Marshal(a.Masked())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "key-123456") {
		t.Error("secret leaked into masked JSON")
	}
	if !strings.Contains(string(data), "****3456") {
		t.Errorf("expected masked suffix in %s", data)
	}
	if a.Legs[0].Params["api_key"] != "key-123456" {
		t.Error("Masked modified the original")
	}
	if got := a.Masked().Legs[1].Params["label"]; got != "Variational" {
		t.Errorf("non-secret param masked: %q", got)
	}
}

func TestIsSecretParam(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"api_key", true},
		{"API_SECRET", true},
		{"private_key", true},
		{"passphrase", true},
		{"wallet_address", true},
		{"label", false},
		{"connect_delay", false},
		{"seed", false},
	}

	for _, tt := range tests {
		if got := IsSecretParam(tt.name); got != tt.want {
			t.Errorf("IsSecretParam(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAccountsDocument_JSONSchema(t *testing.T) {
	raw := `{"accounts":[{"id":"x","name":"Main","enabled":false,"target_notional":250,
		"legs":[{"type":"mock"},{"type":"mock","params":{"wallet":"0xabc"}}]}]}`

	var doc AccountsDocument
	if err := jsoniter.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(doc.Accounts))
	}
	acc := doc.Accounts[0]
	if acc.Name != "Main" || acc.Enabled || acc.TargetNotional != 250 {
		t.Errorf("unexpected account: %+v", acc)
	}
	if acc.Legs[1].Params["wallet"] != "0xabc" {
		t.Errorf("leg params lost: %+v", acc.Legs[1])
	}
}

func TestLegPair_RequiresExactlyTwoLegs(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		yaml    string
		wantErr bool
	}{
		{"two legs", `[{"type":"a"},{"type":"b"}]`, "- type: a\n- type: b\n", false},
		{"three legs", `[{"type":"a"},{"type":"b"},{"type":"c"}]`, "- type: a\n- type: b\n- type: c\n", true},
		{"one leg", `[{"type":"a"}]`, "- type: a\n", true},
		{"empty", `[]`, "[]\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromJSON LegPair
			err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(tt.json), &fromJSON)
			if tt.wantErr != (err != nil) {
				t.Fatalf("json error = %v, wantErr %v", err, tt.wantErr)
			}
			// json-iterator передаёт ошибку Unmarshaler только текстом
			if tt.wantErr && !strings.Contains(err.Error(), ErrLegCount.Error()) {
				t.Errorf("json error = %v, want %v", err, ErrLegCount)
			}

			var fromYAML LegPair
			err = yaml.Unmarshal([]byte(tt.yaml), &fromYAML)
			if tt.wantErr != (err != nil) {
				t.Fatalf("yaml error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrLegCount) {
				t.Errorf("yaml error = %v, want ErrLegCount", err)
			}

			if !tt.wantErr && (fromJSON[1].Type != "b" || fromYAML[1].Type != "b") {
				t.Errorf("legs = %+v / %+v", fromJSON, fromYAML)
			}
		})
	}
}

func TestAccountConfig_DecodeRejectsExtraLeg(t *testing.T) {
	raw := `{"id":"x","name":"Main","target_notional":250,
		"legs":[{"type":"mock"},{"type":"mock"},{"type":"mock"}]}`

	var acc AccountConfig
	err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(raw), &acc)
	if err == nil || !strings.Contains(err.Error(), ErrLegCount.Error()) {
		t.Errorf("error = %v, want %v", err, ErrLegCount)
	}
}

// ============ Event Tests ============

func TestEvent_WithMetaCopies(t *testing.T) {
	e := NewEvent(EventTypeOpen, SeverityInfo, "a1", "hedge opened")
	e1 := e.WithMeta("amount", "10")
	e2 := e1.WithMeta("price", "100")

	if _, ok := e1.Meta["price"]; ok {
		t.Error("WithMeta mutated the previous event")
	}
	if e2.Meta["amount"] != "10" || e2.Meta["price"] != "100" {
		t.Errorf("unexpected meta: %v", e2.Meta)
	}
	if e.Timestamp.IsZero() {
		t.Error("NewEvent must set timestamp")
	}
}

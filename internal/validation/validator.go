package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"passgate/internal/models"
)

// Tokens - bearer-токены, выданные внешним сервисом авторизации
type Tokens struct {
	Issuer     string
	Operator   string
	Customer   string
	CustomerID string
}

// SmokeValidator прогоняет основные сценарии против запущенного API
type SmokeValidator struct {
	baseURL string
	tokens  Tokens
	client  *http.Client
}

// NewSmokeValidator создает новый валидатор
func NewSmokeValidator(baseURL string, tokens Tokens) *SmokeValidator {
	return &SmokeValidator{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidateAll проверяет health, авторизацию, погашение и checkout
func (v *SmokeValidator) ValidateAll() error {
	slog.Info("Начинаю smoke-проверку API", "url", v.baseURL)

	if err := v.validateHealth(); err != nil {
		return fmt.Errorf("health validation failed: %w", err)
	}

	if err := v.validateRedemption(); err != nil {
		return fmt.Errorf("redemption validation failed: %w", err)
	}

	if err := v.validateCheckout(); err != nil {
		return fmt.Errorf("checkout validation failed: %w", err)
	}

	slog.Info("Все проверки пройдены")
	return nil
}

func (v *SmokeValidator) validateHealth() error {
	if _, err := v.expect(http.MethodGet, "/health", "", nil, http.StatusOK, nil); err != nil {
		return err
	}
	if _, err := v.expect(http.MethodGet, "/metrics", "", nil, http.StatusOK, nil); err != nil {
		return err
	}
	// без токена защищенные роуты недоступны
	if _, err := v.expect(http.MethodGet, "/api/checkout/sessions/00000000-0000-0000-0000-000000000000", "", nil, http.StatusUnauthorized, nil); err != nil {
		return err
	}
	return nil
}

func (v *SmokeValidator) validateRedemption() error {
	var ticket models.TicketStatusView
	_, err := v.expect(http.MethodPost, "/api/tickets", v.tokens.Issuer, models.RegisterTicketRequest{
		UserID:  v.tokens.CustomerID,
		EventID: 1,
		PassID:  1,
		Consumptions: []models.RegisterConsumptionDetail{
			{ConsumptionTypeID: 1, Quantity: 2},
		},
	}, http.StatusCreated, &ticket)
	if err != nil {
		return err
	}

	var codes models.TicketCodes
	if _, err := v.expect(http.MethodGet, "/api/tickets/"+ticket.TicketID+"/qr", v.tokens.Customer, nil, http.StatusOK, &codes); err != nil {
		return err
	}

	var entry models.RedeemEntryResponse
	if _, err := v.expect(http.MethodPost, "/api/redemptions/entry", v.tokens.Operator,
		models.RedeemEntryRequest{Code: codes.EntryCode}, http.StatusOK, &entry); err != nil {
		return err
	}
	if !entry.Valid {
		return fmt.Errorf("entry: expected valid=true, got %q", entry.Message)
	}

	// второй проход по тому же коду отклоняется
	if _, err := v.expect(http.MethodPost, "/api/redemptions/entry", v.tokens.Operator,
		models.RedeemEntryRequest{Code: codes.EntryCode}, http.StatusConflict, nil); err != nil {
		return err
	}

	for _, code := range codes.Consumptions {
		var resp models.RedeemConsumptionResponse
		if _, err := v.expect(http.MethodPost, "/api/redemptions/consumption", v.tokens.Operator,
			models.RedeemConsumptionRequest{Code: code, Quantity: 2}, http.StatusOK, &resp); err != nil {
			return err
		}
		if resp.RemainingQuantity != 0 {
			return fmt.Errorf("consumption: expected remaining 0, got %d", resp.RemainingQuantity)
		}
	}

	slog.Info("Погашение работает", "ticket_id", ticket.TicketID)
	return nil
}

func (v *SmokeValidator) validateCheckout() error {
	var session models.SessionStateView
	_, err := v.expect(http.MethodPost, "/api/checkout/sessions", v.tokens.Customer, models.CreateSessionRequest{
		Items: []models.CartItem{
			{EventID: 1, PassID: 1, OrganizerID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)},
		},
		Payer: models.PayerInfo{Email: "smoke@passgate.local"},
	}, http.StatusCreated, &session)
	if err != nil {
		return err
	}
	if session.Status != models.SessionPending {
		return fmt.Errorf("checkout: expected PENDING, got %s", session.Status)
	}

	path := "/api/checkout/sessions/" + session.SessionID
	if _, err := v.expect(http.MethodGet, path, v.tokens.Customer, nil, http.StatusOK, nil); err != nil {
		return err
	}

	var cancelled models.SessionStateView
	if _, err := v.expect(http.MethodPatch, path+"/cancel", v.tokens.Customer, nil, http.StatusOK, &cancelled); err != nil {
		return err
	}
	if cancelled.Status != models.SessionCancelled {
		return fmt.Errorf("checkout: expected CANCELLED, got %s", cancelled.Status)
	}

	slog.Info("Checkout работает", "session_id", session.SessionID)
	return nil
}

// expect выполняет запрос и проверяет статус; out заполняется из тела ответа
func (v *SmokeValidator) expect(method, path, token string, body any, wantStatus int, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, v.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(resp.Body)
		return resp, fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return resp, nil
}

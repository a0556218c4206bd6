package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"passgate/internal/models"
)

type PaymentClient struct {
	baseURL    string
	teamSlug   string
	password   string
	currency   string
	httpClient *http.Client
}

type PaymentConfig struct {
	BaseURL  string
	TeamSlug string
	Password string
	Currency string
	Timeout  time.Duration
}

// Payment gateway models
type PaymentInitRequest struct {
	TeamSlug        string `json:"teamSlug"`
	Token           string `json:"token"`
	Amount          int64  `json:"amount"`
	OrderID         string `json:"orderId"`
	Currency        string `json:"currency"`
	Description     string `json:"description,omitempty"`
	Email           string `json:"email,omitempty"`
	SuccessURL      string `json:"successURL,omitempty"`
	FailURL         string `json:"failURL,omitempty"`
	NotificationURL string `json:"notificationURL,omitempty"`
	Language        string `json:"language,omitempty"`
}

type PaymentInitResponse struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaymentURL string `json:"paymentURL"`
	ExpiresAt  string `json:"expiresAt"`
	CreatedAt  string `json:"createdAt"`
}

type PaymentCheckRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

type PaymentCheckResponse struct {
	Success    bool             `json:"success"`
	Payments   []PaymentDetails `json:"payments"`
	TotalCount int              `json:"totalCount"`
	OrderID    string           `json:"orderId"`
}

type PaymentDetails struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

type PaymentCancelRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason,omitempty"`
}

var ErrPaymentDeclined = errors.New("payment gateway declined the request")

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "KZT"
	}

	return &PaymentClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		teamSlug: cfg.TeamSlug,
		password: cfg.Password,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// generateToken signs request parameters the way the gateway expects:
// values of the parameters plus TeamSlug and Password, sorted by key,
// concatenated and hashed with SHA-256.
func (pc *PaymentClient) generateToken(params map[string]string) string {
	params["TeamSlug"] = pc.teamSlug
	params["Password"] = pc.password

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

// VerifyTeamSlug checks that a notification was addressed to this merchant.
func (pc *PaymentClient) VerifyTeamSlug(slug string) bool {
	return pc.teamSlug == "" || slug == pc.teamSlug
}

// MinorUnits converts an amount to the gateway's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreatePaymentRequest opens a payment for one payment group.
func (pc *PaymentClient) CreatePaymentRequest(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	amount := MinorUnits(req.Amount)
	token := pc.generateToken(map[string]string{
		"Amount":   strconv.FormatInt(amount, 10),
		"Currency": pc.currency,
		"OrderId":  req.OrderRef,
	})

	body := PaymentInitRequest{
		TeamSlug:        pc.teamSlug,
		Token:           token,
		Amount:          amount,
		OrderID:         req.OrderRef,
		Currency:        pc.currency,
		Description:     req.Description,
		Email:           req.Payer.Email,
		SuccessURL:      withOrderID(req.SuccessURL, req.OrderRef),
		FailURL:         withOrderID(req.FailURL, req.OrderRef),
		NotificationURL: req.NotificationURL,
		Language:        "ru",
	}

	var result PaymentInitResponse
	if _, err := doJSON(ctx, pc.httpClient, http.MethodPost, pc.baseURL+"/api/v1/PaymentInit/init", body, &result); err != nil {
		return nil, fmt.Errorf("failed to init payment: %w", err)
	}
	if !result.Success || result.PaymentURL == "" {
		return nil, ErrPaymentDeclined
	}

	return &models.PaymentSession{
		ProviderRef: result.PaymentID,
		RedirectURL: result.PaymentURL,
	}, nil
}

// CheckPayment asks the gateway for the latest payment of an order.
func (pc *PaymentClient) CheckPayment(ctx context.Context, orderRef string) (*models.PaymentState, error) {
	body := PaymentCheckRequest{
		TeamSlug: pc.teamSlug,
		Token:    pc.generateToken(map[string]string{"OrderId": orderRef}),
		OrderID:  orderRef,
	}

	var result PaymentCheckResponse
	if _, err := doJSON(ctx, pc.httpClient, http.MethodPost, pc.baseURL+"/api/v1/PaymentCheck/check", body, &result); err != nil {
		return nil, fmt.Errorf("failed to check payment: %w", err)
	}
	if len(result.Payments) == 0 {
		return &models.PaymentState{Status: models.ProviderPending}, nil
	}

	latest := result.Payments[0]
	for _, p := range result.Payments[1:] {
		// RFC 3339 timestamps compare lexicographically
		if p.UpdatedAt > latest.UpdatedAt {
			latest = p
		}
	}

	return &models.PaymentState{
		ProviderPaymentID: latest.PaymentID,
		Status:            ParseProviderStatus(latest.Status),
	}, nil
}

// CancelPayment cancels an open payment by its gateway id.
func (pc *PaymentClient) CancelPayment(ctx context.Context, providerRef string) error {
	body := PaymentCancelRequest{
		TeamSlug:  pc.teamSlug,
		Token:     pc.generateToken(map[string]string{"PaymentId": providerRef}),
		PaymentID: providerRef,
		Reason:    "checkout closed",
	}

	if _, err := doJSON(ctx, pc.httpClient, http.MethodPost, pc.baseURL+"/api/v1/PaymentCancel/cancel", body, nil); err != nil {
		return fmt.Errorf("failed to cancel payment: %w", err)
	}
	return nil
}

// ParseProviderStatus maps gateway statuses onto APPROVED, REJECTED,
// CANCELLED and PENDING. Unknown statuses map to "".
func ParseProviderStatus(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CONFIRMED", "AUTHORIZED", "COMPLETED", "SUCCESS", "APPROVED", "PAID":
		return models.ProviderApproved
	case "REJECTED", "FAILED", "DECLINED", "DEADLINE_EXPIRED", "EXPIRED":
		return models.ProviderRejected
	case "CANCELLED", "CANCELED", "REVERSED", "REFUNDED":
		return models.ProviderCancelled
	case "NEW", "INIT", "INITIATED", "FORM_SHOWED", "PENDING", "PROCESSING":
		return models.ProviderPending
	default:
		return ""
	}
}

func withOrderID(base, orderRef string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "orderId=" + orderRef
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RedeemEntryRequest - модель запроса на проход по билету
type RedeemEntryRequest struct {
	Code string `json:"code" binding:"required"`
}

// RedeemEntryResponse - результат проверки входного кода
type RedeemEntryResponse struct {
	Valid    bool   `json:"valid"`
	TicketID string `json:"ticketId,omitempty"`
	Message  string `json:"message"`
}

// RedeemConsumptionRequest - модель запроса на погашение консумации
type RedeemConsumptionRequest struct {
	Code     string `json:"code" binding:"required"`
	Quantity int    `json:"quantity"`
}

// RedeemConsumptionResponse - результат погашения консумации
type RedeemConsumptionResponse struct {
	Valid             bool   `json:"valid"`
	DetailID          string `json:"detailId,omitempty"`
	QuantityRedeemed  int    `json:"quantityRedeemed"`
	RemainingQuantity int    `json:"remainingQuantity"`
	Message           string `json:"message"`
}

// RegisterTicketRequest - регистрация выпущенного билета
type RegisterTicketRequest struct {
	TicketID     string                      `json:"ticket_id,omitempty"`
	UserID       string                      `json:"user_id" binding:"required"`
	EventID      int64                       `json:"event_id" binding:"required"`
	PassID       int64                       `json:"pass_id" binding:"required"`
	Consumptions []RegisterConsumptionDetail `json:"consumptions,omitempty"`
}

// RegisterConsumptionDetail - строка консумации в запросе регистрации
type RegisterConsumptionDetail struct {
	ConsumptionTypeID int64 `json:"consumption_type_id" binding:"required"`
	Quantity          int   `json:"quantity" binding:"required"`
}

// TicketCodes - подписанные коды билета
type TicketCodes struct {
	TicketID     string            `json:"ticket_id"`
	EntryCode    string            `json:"entry_code"`
	Consumptions map[string]string `json:"consumptions,omitempty"` // detail id -> code
	ExpiresAt    time.Time         `json:"expires_at"`
}

// ConsumptionView - состояние строки консумации
type ConsumptionView struct {
	ID                string `json:"id"`
	ConsumptionTypeID int64  `json:"consumption_type_id"`
	TotalQuantity     int    `json:"total_quantity"`
	RedeemedQuantity  int    `json:"redeemed_quantity"`
	Status            string `json:"status"`
}

// TicketStatusView - агрегированное состояние билета
type TicketStatusView struct {
	TicketID     string            `json:"ticket_id"`
	UserID       string            `json:"user_id"`
	EventID      int64             `json:"event_id"`
	EntryStatus  string            `json:"entry_status"`
	State        string            `json:"state"`
	RedeemedAt   *time.Time        `json:"redeemed_at,omitempty"`
	Consumptions []ConsumptionView `json:"consumptions"`
}

// CartItem - строка корзины
type CartItem struct {
	EventID     int64           `json:"event_id" binding:"required"`
	PassID      int64           `json:"pass_id" binding:"required"`
	OrganizerID int64           `json:"organizer_id" binding:"required"`
	Quantity    int             `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddOns      []AddOn         `json:"add_ons,omitempty"`
}

// PayerInfo - данные плательщика для платежного шлюза
type PayerInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateSessionRequest - модель для создания checkout-сессии
type CreateSessionRequest struct {
	Items []CartItem `json:"items"`
	Payer PayerInfo  `json:"payer"`
}

// RetryPaymentRequest - повторная оплата группы после отказа
type RetryPaymentRequest struct {
	Payer PayerInfo `json:"payer"`
}

// PaymentGroupView - состояние группы оплаты
type PaymentGroupView struct {
	ID          string          `json:"id"`
	OrganizerID int64           `json:"organizer_id"`
	SuborderID  string          `json:"suborder_id"`
	OrderRef    string          `json:"order_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Items       []LineItem      `json:"items"`
}

// SessionStateView - состояние checkout-сессии, пересчитываемое при каждом чтении
type SessionStateView struct {
	SessionID    string             `json:"session_id"`
	UserID       string             `json:"user_id"`
	Status       string             `json:"status"`
	TotalAmount  decimal.Decimal    `json:"total_amount"`
	PaidAmount   decimal.Decimal    `json:"paid_amount"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
	AttemptCount int                `json:"attempt_count"`
	Groups       []PaymentGroupView `json:"groups"`
}

// PaymentNotificationPayload - модель для webhook уведомлений от платежного шлюза
type PaymentNotificationPayload struct {
	PaymentID string                 `json:"paymentId"`
	OrderID   string                 `json:"orderId"`
	Status    string                 `json:"status"`
	TeamSlug  string                 `json:"teamSlug"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// OrderRef returns the merchant order id, falling back to data.orderId
func (p PaymentNotificationPayload) OrderRef() string {
	if p.OrderID != "" {
		return p.OrderID
	}
	if v, ok := p.Data["orderId"].(string); ok {
		return v
	}
	return ""
}

// RedemptionSearchResult - страница журнала погашений
type RedemptionSearchResult struct {
	Total   int64              `json:"total"`
	Records []RedemptionRecord `json:"records"`
}

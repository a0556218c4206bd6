package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket statuses
const (
	TicketActive   = "ACTIVE"
	TicketRedeemed = "REDEEMED"
	TicketInvalid  = "INVALID"
)

// Redemption subject types
const (
	SubjectTicket      = "TICKET"
	SubjectConsumption = "CONSUMPTION"
)

// Checkout session statuses
const (
	SessionPending   = "PENDING"
	SessionPartial   = "PARTIAL"
	SessionCompleted = "COMPLETED"
	SessionExpired   = "EXPIRED"
	SessionCancelled = "CANCELLED"
)

// Payment group statuses
const (
	GroupPending   = "PENDING"
	GroupPaid      = "PAID"
	GroupFailed    = "FAILED"
	GroupCancelled = "CANCELLED"
)

// Ticket represents one admission unit
type Ticket struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	EventID    int64      `json:"event_id" db:"event_id"`
	PassID     int64      `json:"pass_id" db:"pass_id"`
	Status     string     `json:"status" db:"status"`
	RedeemedAt *time.Time `json:"redeemed_at" db:"redeemed_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	Version    int64      `json:"-" db:"version"`
}

// ConsumptionDetail is one line of a ticket's included consumptions
type ConsumptionDetail struct {
	ID                string    `json:"id" db:"id"`
	TicketID          string    `json:"ticket_id" db:"ticket_id"`
	ConsumptionTypeID int64     `json:"consumption_type_id" db:"consumption_type_id"`
	TotalQuantity     int       `json:"total_quantity" db:"total_quantity"`
	RedeemedQuantity  int       `json:"redeemed_quantity" db:"redeemed_quantity"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
	Version           int64     `json:"-" db:"version"`
}

// Remaining returns the quantity still available for redemption
func (d ConsumptionDetail) Remaining() int {
	return d.TotalQuantity - d.RedeemedQuantity
}

// RedemptionRecord is an append-only audit entry
type RedemptionRecord struct {
	ID          string    `json:"id" db:"id"`
	SubjectType string    `json:"subject_type" db:"subject_type"`
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	TicketID    string    `json:"ticket_id" db:"ticket_id"`
	Quantity    int       `json:"quantity" db:"quantity"`
	RedeemedBy  string    `json:"redeemed_by" db:"redeemed_by"`
	RedeemedAt  time.Time `json:"redeemed_at" db:"redeemed_at"`
}

// AddOn is a consumption purchased together with a pass
type AddOn struct {
	ConsumptionTypeID int64           `json:"consumption_type_id"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

// LineItem is one cart line inside a payment group
type LineItem struct {
	EventID   int64           `json:"event_id"`
	PassID    int64           `json:"pass_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddOns    []AddOn         `json:"add_ons,omitempty"`
}

// Subtotal is quantity × (unit price + add-ons per unit)
func (li LineItem) Subtotal() decimal.Decimal {
	unit := li.UnitPrice
	for _, a := range li.AddOns {
		unit = unit.Add(a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return unit.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// CheckoutSession is the umbrella over all payment groups spawned from one cart
type CheckoutSession struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status         string          `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at" db:"last_accessed_at"`
	AttemptCount   int             `json:"attempt_count" db:"attempt_count"`
	Groups         []PaymentGroup  `json:"groups"` // Not a column, filled separately
}

// PaymentGroup is the per-organizer slice of a checkout
type PaymentGroup struct {
	ID                string          `json:"id" db:"id"`
	SessionID         string          `json:"session_id" db:"session_id"`
	OrganizerID       int64           `json:"organizer_id" db:"organizer_id"`
	SuborderID        string          `json:"suborder_id" db:"suborder_id"`
	OrderRef          string          `json:"order_ref" db:"order_ref"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Status            string          `json:"status" db:"status"`
	ProviderRef       *string         `json:"provider_ref" db:"provider_ref"`
	ProviderPaymentID *string         `json:"provider_payment_id" db:"provider_payment_id"`
	RedirectURL       *string         `json:"redirect_url" db:"redirect_url"`
	Items             []LineItem      `json:"items" db:"items"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (s *CheckoutSession) Clone() *CheckoutSession {
	c := *s
	c.Groups = make([]PaymentGroup, len(s.Groups))
	for i, g := range s.Groups {
		c.Groups[i] = g.clone()
	}
	return &c
}

func (g PaymentGroup) clone() PaymentGroup {
	c := g
	c.ProviderRef = cloneString(g.ProviderRef)
	c.ProviderPaymentID = cloneString(g.ProviderPaymentID)
	c.RedirectURL = cloneString(g.RedirectURL)
	c.Items = append([]LineItem(nil), g.Items...)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

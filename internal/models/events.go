package models

import "time"

// NATS Event Types
const (
	EventRedemptionRecorded     = "redemption.recorded"
	EventTicketFullyRedeemed    = "ticket.fully_redeemed"
	EventCheckoutSessionCreated = "checkout.session.created"
	EventPaymentGroupPaid       = "payment.group.paid"
	EventPaymentGroupFailed     = "payment.group.failed"
	EventSessionExpired         = "checkout.session.expired"
	EventSessionCancelled       = "checkout.session.cancelled"
)

// RedemptionRecordedEvent carries a committed redemption record
type RedemptionRecordedEvent struct {
	Record    RedemptionRecord `json:"record"`
	EventID   int64            `json:"event_id"`
	Remaining int              `json:"remaining"`
	Timestamp time.Time        `json:"timestamp"`
}

// TicketFullyRedeemedEvent is published once a ticket's entry and all consumptions are used
type TicketFullyRedeemedEvent struct {
	TicketID  string    `json:"ticket_id"`
	EventID   int64     `json:"event_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutSessionCreatedEvent represents a new checkout session
type CheckoutSessionCreatedEvent struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	GroupIDs    []string  `json:"group_ids"`
	TotalAmount string    `json:"total_amount"`
	ExpiresAt   time.Time `json:"expires_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// PaymentGroupEvent represents a payment group reaching PAID, FAILED or CANCELLED
type PaymentGroupEvent struct {
	SessionID         string    `json:"session_id"`
	GroupID           string    `json:"group_id"`
	OrderRef          string    `json:"order_ref"`
	OrganizerID       int64     `json:"organizer_id"`
	GroupStatus       string    `json:"group_status"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	SessionStatus     string    `json:"session_status"`
	Timestamp         time.Time `json:"timestamp"`
}

// SessionClosedEvent represents a session expired by the sweep or cancelled by its owner
type SessionClosedEvent struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	CancelledGroups []string  `json:"cancelled_groups"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

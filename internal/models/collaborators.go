package models

import "github.com/shopspring/decimal"

// Normalised payment provider statuses
const (
	ProviderApproved  = "APPROVED"
	ProviderRejected  = "REJECTED"
	ProviderCancelled = "CANCELLED"
	ProviderPending   = "PENDING"
)

// Availability is the pass stock of one event
type Availability struct {
	EventID         int64 `json:"eventId"`
	TotalPasses     int   `json:"totalPasses"`
	AvailablePasses int   `json:"availablePasses"`
}

// PaymentRequest asks the provider to open a payment for one group
type PaymentRequest struct {
	GroupID         string
	OrderRef        string
	Amount          decimal.Decimal
	Description     string
	Payer           PayerInfo
	SuccessURL      string
	FailURL         string
	NotificationURL string
}

// PaymentSession is the provider side of an opened payment
type PaymentSession struct {
	ProviderRef string
	RedirectURL string
}

// PaymentState is the provider's current view of an order
type PaymentState struct {
	ProviderPaymentID string
	Status            string
}

// TicketRef identifies a ticket created by the issuance service
type TicketRef struct {
	TicketID string `json:"ticketId"`
	EventID  int64  `json:"eventId"`
	PassID   int64  `json:"passId"`
}

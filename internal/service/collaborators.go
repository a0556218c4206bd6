package service

import (
	"context"

	"passgate/internal/models"
	"passgate/internal/repository"
)

// EventPublisher publishes domain events; implemented by messaging.NATSClient.
type EventPublisher interface {
	Publish(subject string, data any) error
}

// TicketIssuer creates tickets for a paid payment group.
type TicketIssuer interface {
	IssueTicketsForGroup(ctx context.Context, group models.PaymentGroup) ([]models.TicketRef, error)
}

// AvailabilityProvider reports pass stock per event.
type AvailabilityProvider interface {
	GetEventAvailability(ctx context.Context, eventID int64) (*models.Availability, error)
}

// PaymentProvider opens, inspects and cancels payments at the provider.
type PaymentProvider interface {
	CreatePaymentRequest(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error)
	CheckPayment(ctx context.Context, orderRef string) (*models.PaymentState, error)
	CancelPayment(ctx context.Context, providerRef string) error
}

// RecordSearcher queries the redemption audit index.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, filter repository.RecordFilter) (*models.RedemptionSearchResult, error)
}

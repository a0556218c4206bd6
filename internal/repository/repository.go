package repository

import (
	"context"
	"errors"
	"time"

	"passgate/internal/database"
	"passgate/internal/models"
)

// ErrNoUpdate aborts UpdateSession without persisting anything. UpdateSession
// then returns the unchanged session and a nil error.
var ErrNoUpdate = errors.New("no update")

// TicketStore holds tickets, consumption details and the redemption audit log.
// Redeem* and InvalidateTicket are compare-and-swap operations: when the stored
// version no longer matches expectedVersion they return apperrors.ErrVersionConflict
// and write nothing.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket, details []models.ConsumptionDetail) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetConsumptionDetail(ctx context.Context, id string) (*models.ConsumptionDetail, error)
	ListConsumptionDetails(ctx context.Context, ticketID string) ([]models.ConsumptionDetail, error)

	RedeemTicket(ctx context.Context, ticketID string, expectedVersion int64, at time.Time, record models.RedemptionRecord) error
	RedeemConsumption(ctx context.Context, detailID string, expectedVersion int64, redeemedQuantity int, record models.RedemptionRecord) error
	InvalidateTicket(ctx context.Context, ticketID string, expectedVersion int64) error

	ListRecords(ctx context.Context, filter RecordFilter) ([]models.RedemptionRecord, error)
}

// CheckoutStore holds checkout sessions and their payment groups.
type CheckoutStore interface {
	CreateSession(ctx context.Context, session *models.CheckoutSession) error
	GetSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	FindSessionByOrderRef(ctx context.Context, orderRef string) (sessionID string, err error)

	// UpdateSession loads the session with its groups under an exclusive lock,
	// lets fn mutate it and persists the result atomically.
	UpdateSession(ctx context.Context, id string, fn func(s *models.CheckoutSession) error) (*models.CheckoutSession, error)

	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RecordFilter struct {
	TicketID   string
	OperatorID string
	Page       int
	PageSize   int
}

type Repositories struct {
	Tickets  TicketStore
	Checkout CheckoutStore
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Tickets:  NewTicketRepository(db),
		Checkout: NewCheckoutRepository(db),
	}
}

// NewMemoryRepositories backs both stores with one in-process MemoryStore.
func NewMemoryRepositories() *Repositories {
	store := NewMemoryStore()
	return &Repositories{
		Tickets:  store,
		Checkout: store,
	}
}

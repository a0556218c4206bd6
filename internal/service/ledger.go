package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "passgate/internal/errors"
	"passgate/internal/metrics"
	"passgate/internal/models"
	"passgate/internal/redemption"
	"passgate/internal/repository"
)

// Ledger applies redemptions with optimistic compare-and-swap on the stored
// version. A lost race is retried once against a fresh read; a second loss
// surfaces as the business rejection.
type Ledger struct {
	store repository.TicketStore
	now   func() time.Time
}

func NewLedger(store repository.TicketStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

type EntryResult struct {
	Ticket *models.Ticket
	Record models.RedemptionRecord
}

type PartialResult struct {
	Detail           *models.ConsumptionDetail
	Record           models.RedemptionRecord
	Remaining        int
	FullyRedeemedNow bool
}

const maxRedeemAttempts = 2

// RedeemEntry flips the ticket from ACTIVE to REDEEMED exactly once.
func (l *Ledger) RedeemEntry(ctx context.Context, ticketID, operatorID string) (*EntryResult, error) {
	for attempt := 1; ; attempt++ {
		ticket, err := l.store.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if err := redemption.EntryRedeemable(ticket); err != nil {
			return nil, err
		}

		at := l.now().UTC()
		record := models.RedemptionRecord{
			ID:          uuid.New().String(),
			SubjectType: models.SubjectTicket,
			SubjectID:   ticket.ID,
			TicketID:    ticket.ID,
			Quantity:    1,
			RedeemedBy:  operatorID,
			RedeemedAt:  at,
		}

		err = l.store.RedeemTicket(ctx, ticket.ID, ticket.Version, at, record)
		if err == nil {
			ticket.Status = models.TicketRedeemed
			ticket.RedeemedAt = &at
			ticket.Version++
			return &EntryResult{Ticket: ticket, Record: record}, nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to redeem ticket: %w", err)
		}

		metrics.RedemptionConflicts.Inc()
		if attempt >= maxRedeemAttempts {
			return nil, apperrors.ErrAlreadyRedeemed
		}
	}
}

// RedeemPartial consumes quantity units of a consumption detail.
func (l *Ledger) RedeemPartial(ctx context.Context, detailID string, quantity int, operatorID string) (*PartialResult, error) {
	if quantity <= 0 {
		return nil, apperrors.ErrInvalidQuantity
	}

	for attempt := 1; ; attempt++ {
		detail, err := l.store.GetConsumptionDetail(ctx, detailID)
		if err != nil {
			return nil, err
		}

		ticket, err := l.store.GetTicket(ctx, detail.TicketID)
		if err != nil {
			return nil, err
		}
		if ticket.Status == models.TicketInvalid {
			return nil, apperrors.ErrInactive
		}

		tr, err := redemption.Apply(redemption.Counts{
			Redeemed: detail.RedeemedQuantity,
			Total:    detail.TotalQuantity,
		}, quantity)
		if err != nil {
			return nil, err
		}

		record := models.RedemptionRecord{
			ID:          uuid.New().String(),
			SubjectType: models.SubjectConsumption,
			SubjectID:   detail.ID,
			TicketID:    detail.TicketID,
			Quantity:    quantity,
			RedeemedBy:  operatorID,
			RedeemedAt:  l.now().UTC(),
		}

		err = l.store.RedeemConsumption(ctx, detail.ID, detail.Version, tr.After.Redeemed, record)
		if err == nil {
			detail.RedeemedQuantity = tr.After.Redeemed
			detail.UpdatedAt = record.RedeemedAt
			detail.Version++
			return &PartialResult{
				Detail:           detail,
				Record:           record,
				Remaining:        tr.After.Remaining(),
				FullyRedeemedNow: tr.FullyRedeemedNow,
			}, nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to redeem consumption: %w", err)
		}

		metrics.RedemptionConflicts.Inc()
		if attempt >= maxRedeemAttempts {
			return nil, apperrors.ErrInsufficientRemaining
		}
	}
}

// Package redemption holds the pure transition rules for ticket entry and
// partial consumption redemption. Nothing here touches storage: statuses are
// derived from counts and flags every time they are needed.
package redemption

import (
	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

// Consumption detail statuses
const (
	DetailPending  = "PENDING"
	DetailPartial  = "PARTIAL"
	DetailRedeemed = "REDEEMED"
)

// Aggregate ticket states
const (
	StateUnused            = "UNUSED"
	StatePartiallyRedeemed = "PARTIALLY_REDEEMED"
	StateFullyRedeemed     = "FULLY_REDEEMED"
	StateInvalid           = "INVALID"
)

// Counts is the redeemed/total pair a consumption detail status derives from.
type Counts struct {
	Redeemed int
	Total    int
}

// Remaining returns how much can still be redeemed.
func (c Counts) Remaining() int {
	return c.Total - c.Redeemed
}

// Transition is the outcome of applying a redemption delta.
type Transition struct {
	Before           Counts
	After            Counts
	FullyRedeemedNow bool
}

// DetailStatus derives a consumption detail status from its counts.
func DetailStatus(redeemed, total int) string {
	switch {
	case redeemed <= 0:
		return DetailPending
	case redeemed < total:
		return DetailPartial
	default:
		return DetailRedeemed
	}
}

// Apply checks and applies delta to c.
// The caller is responsible for persisting After atomically with the check.
func Apply(c Counts, delta int) (Transition, error) {
	if delta <= 0 {
		return Transition{}, apperrors.ErrInvalidQuantity
	}
	if delta > c.Remaining() {
		return Transition{}, apperrors.ErrInsufficientRemaining
	}

	after := Counts{Redeemed: c.Redeemed + delta, Total: c.Total}
	return Transition{
		Before:           c,
		After:            after,
		FullyRedeemedNow: c.Redeemed < c.Total && after.Redeemed == after.Total,
	}, nil
}

// EntryRedeemable reports whether the entry right of t can still be used.
func EntryRedeemable(t *models.Ticket) error {
	switch t.Status {
	case models.TicketActive:
		return nil
	case models.TicketRedeemed:
		return apperrors.ErrAlreadyRedeemed
	default:
		return apperrors.ErrInactive
	}
}

// TicketState aggregates the entry flag and every consumption detail.
//
// A ticket is FULLY_REDEEMED only when its entry is REDEEMED and every detail
// is REDEEMED. It is UNUSED when nothing at all has been redeemed.
func TicketState(t *models.Ticket, details []models.ConsumptionDetail) string {
	if t.Status == models.TicketInvalid {
		return StateInvalid
	}

	entryUsed := t.Status == models.TicketRedeemed
	allRedeemed := entryUsed
	anyRedeemed := entryUsed
	for _, d := range details {
		switch DetailStatus(d.RedeemedQuantity, d.TotalQuantity) {
		case DetailRedeemed:
			anyRedeemed = true
		case DetailPartial:
			anyRedeemed = true
			allRedeemed = false
		default:
			allRedeemed = false
		}
	}

	switch {
	case allRedeemed:
		return StateFullyRedeemed
	case anyRedeemed:
		return StatePartiallyRedeemed
	default:
		return StateUnused
	}
}

// CanInvalidate allows UNUSED -> INVALID only.
func CanInvalidate(t *models.Ticket, details []models.ConsumptionDetail) error {
	switch TicketState(t, details) {
	case StateUnused:
		return nil
	case StateInvalid:
		return apperrors.ErrInactive
	default:
		return apperrors.ErrNotInvalidatable
	}
}

// Package checkout contains the pure rules of the checkout session lifecycle:
// how a cart is split into payment groups and how a session status is
// aggregated from its groups.
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
)

// GroupDraft is a payment group before ids and provider references are assigned.
type GroupDraft struct {
	OrganizerID int64
	Amount      decimal.Decimal
	Items       []models.LineItem
}

// Partition splits cart items by organizer, keeping first-appearance order.
// It returns the drafts and the session total.
func Partition(items []models.CartItem) ([]GroupDraft, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, apperrors.ErrEmptyCart
	}

	index := make(map[int64]int)
	var drafts []GroupDraft
	total := decimal.Zero

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, decimal.Zero, apperrors.ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return nil, decimal.Zero, apperrors.ErrInvalidPrice
		}
		for _, a := range item.AddOns {
			if a.Quantity <= 0 {
				return nil, decimal.Zero, apperrors.ErrInvalidQuantity
			}
			if a.UnitPrice.IsNegative() {
				return nil, decimal.Zero, apperrors.ErrInvalidPrice
			}
		}

		li := models.LineItem{
			EventID:   item.EventID,
			PassID:    item.PassID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			AddOns:    item.AddOns,
		}
		subtotal := li.Subtotal()
		if !subtotal.IsPositive() {
			return nil, decimal.Zero, apperrors.ErrInvalidPrice
		}

		i, ok := index[item.OrganizerID]
		if !ok {
			i = len(drafts)
			index[item.OrganizerID] = i
			drafts = append(drafts, GroupDraft{OrganizerID: item.OrganizerID, Amount: decimal.Zero})
		}
		drafts[i].Items = append(drafts[i].Items, li)
		drafts[i].Amount = drafts[i].Amount.Add(subtotal)
		total = total.Add(subtotal)
	}

	return drafts, total, nil
}

// RequestedPasses sums pass quantities per event.
func RequestedPasses(items []models.CartItem) map[int64]int {
	requested := make(map[int64]int)
	for _, item := range items {
		requested[item.EventID] += item.Quantity
	}
	return requested
}

// IsSessionTerminal reports whether a stored session status can no longer change.
func IsSessionTerminal(status string) bool {
	return status == models.SessionCompleted ||
		status == models.SessionExpired ||
		status == models.SessionCancelled
}

// IsGroupTerminal reports whether a group status can no longer change.
func IsGroupTerminal(status string) bool {
	return status == models.GroupPaid || status == models.GroupCancelled
}

// StoredStatus derives the status to persist from the groups alone, without
// looking at the clock. Expiry is applied by the sweep, which also cancels
// the pending groups.
//
//	stored EXPIRED/CANCELLED  -> stored status
//	all PAID                  -> COMPLETED
//	all CANCELLED             -> CANCELLED
//	some PAID                 -> PARTIAL
//	otherwise                 -> PENDING
func StoredStatus(s *models.CheckoutSession) string {
	if s.Status == models.SessionExpired || s.Status == models.SessionCancelled {
		return s.Status
	}

	var paid, cancelled int
	for _, g := range s.Groups {
		switch g.Status {
		case models.GroupPaid:
			paid++
		case models.GroupCancelled:
			cancelled++
		}
	}

	n := len(s.Groups)
	switch {
	case n > 0 && paid == n:
		return models.SessionCompleted
	case n > 0 && cancelled == n:
		return models.SessionCancelled
	case paid > 0:
		return models.SessionPartial
	default:
		return models.SessionPending
	}
}

// AggregateStatus is the status callers see: StoredStatus, except that an
// open session past its expiry reads as EXPIRED before the sweep reaches it.
func AggregateStatus(s *models.CheckoutSession, now time.Time) string {
	status := StoredStatus(s)
	if (status == models.SessionPending || status == models.SessionPartial) && !now.Before(s.ExpiresAt) {
		return models.SessionExpired
	}
	return status
}

// ExpireDue applies the expiry transition to an open session whose ExpiresAt
// has passed: PENDING groups become CANCELLED and the session EXPIRED.
// PAID and FAILED groups keep their status. It returns the cancelled groups
// and whether s changed.
func ExpireDue(s *models.CheckoutSession, now time.Time) ([]models.PaymentGroup, bool) {
	if s.Status != models.SessionPending && s.Status != models.SessionPartial {
		return nil, false
	}
	if now.Before(s.ExpiresAt) {
		return nil, false
	}

	var cancelled []models.PaymentGroup
	for i := range s.Groups {
		g := &s.Groups[i]
		if g.Status == models.GroupPending {
			g.Status = models.GroupCancelled
			g.UpdatedAt = now
			cancelled = append(cancelled, *g)
		}
	}
	s.Status = models.SessionExpired
	return cancelled, true
}

// PaidAmount sums the amounts of PAID groups.
func PaidAmount(s *models.CheckoutSession) decimal.Decimal {
	paid := decimal.Zero
	for _, g := range s.Groups {
		if g.Status == models.GroupPaid {
			paid = paid.Add(g.Amount)
		}
	}
	return paid
}

// View renders the read model of s, re-aggregating its status.
func View(s *models.CheckoutSession, now time.Time) *models.SessionStateView {
	view := &models.SessionStateView{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Status:       AggregateStatus(s, now),
		TotalAmount:  s.TotalAmount,
		PaidAmount:   PaidAmount(s),
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		AttemptCount: s.AttemptCount,
		Groups:       make([]models.PaymentGroupView, len(s.Groups)),
	}

	for i, g := range s.Groups {
		gv := models.PaymentGroupView{
			ID:          g.ID,
			OrganizerID: g.OrganizerID,
			SuborderID:  g.SuborderID,
			OrderRef:    g.OrderRef,
			Amount:      g.Amount,
			Status:      g.Status,
			Items:       g.Items,
		}
		if g.RedirectURL != nil && g.Status == models.GroupPending {
			gv.RedirectURL = *g.RedirectURL
		}
		view.Groups[i] = gv
	}

	return view
}

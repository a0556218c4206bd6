package service

import (
	"context"
	"errors"
	"time"

	"passgate/internal/checkout"
	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
	"passgate/internal/metrics"
	"passgate/internal/models"
	"passgate/internal/repository"
)

// Reconciler applies asynchronous payment provider results to payment groups.
// Duplicate deliveries are expected; the first terminal transition of a group
// wins and later ones report ErrAlreadyTerminal alongside the current state.
type Reconciler struct {
	store     repository.CheckoutStore
	issuer    TicketIssuer
	payments  PaymentProvider
	publisher EventPublisher
	now       func() time.Time
}

func NewReconciler(store repository.CheckoutStore, issuer TicketIssuer, payments PaymentProvider, publisher EventPublisher) *Reconciler {
	return &Reconciler{
		store:     store,
		issuer:    issuer,
		payments:  payments,
		publisher: publisher,
		now:       time.Now,
	}
}

func targetGroupStatus(providerStatus string) (string, bool) {
	switch providerStatus {
	case models.ProviderApproved:
		return models.GroupPaid, true
	case models.ProviderRejected:
		return models.GroupFailed, true
	case models.ProviderCancelled:
		return models.GroupCancelled, true
	default:
		return "", false
	}
}

// ApplyCallback moves the group identified by orderRef according to the
// normalised provider status and recomputes the session status under the
// session lock. A session past its expiry is expired first, the same way the
// sweep does it, so a late callback finds its group CANCELLED.
func (r *Reconciler) ApplyCallback(ctx context.Context, orderRef, providerStatus, providerPaymentID string) (*models.SessionStateView, error) {
	log := logger.WithContext(ctx).With("order_ref", orderRef, "provider_status", providerStatus)

	sessionID, err := r.store.FindSessionByOrderRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, apperrors.ErrGroupNotFound) {
			metrics.PaymentCallbacks.WithLabelValues("group_not_found").Inc()
			log.Warn("Payment callback for unknown order")
		}
		return nil, err
	}

	now := r.now().UTC()
	var (
		alreadyTerminal bool
		changed         *models.PaymentGroup
		expired         bool
		expiredGroups   []models.PaymentGroup
	)

	session, err := r.store.UpdateSession(ctx, sessionID, func(sess *models.CheckoutSession) error {
		alreadyTerminal, changed = false, nil
		expiredGroups, expired = checkout.ExpireDue(sess, now)

		// без изменений сохраняем только истечение сессии
		noUpdate := repository.ErrNoUpdate
		if expired {
			noUpdate = nil
		}

		var g *models.PaymentGroup
		for i := range sess.Groups {
			if sess.Groups[i].OrderRef == orderRef {
				g = &sess.Groups[i]
				break
			}
		}
		if g == nil {
			return apperrors.ErrGroupNotFound
		}

		if checkout.IsGroupTerminal(g.Status) {
			alreadyTerminal = true
			return noUpdate
		}

		next, ok := targetGroupStatus(providerStatus)
		if !ok || g.Status == next {
			return noUpdate
		}

		g.Status = next
		if providerPaymentID != "" {
			g.ProviderPaymentID = &providerPaymentID
		}
		g.UpdatedAt = now
		sess.Status = checkout.StoredStatus(sess)

		c := *g
		changed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}

	view := checkout.View(session, now)

	if expired {
		metrics.SessionsExpired.Inc()
		log.Info("Checkout session expired on payment callback",
			"session_id", sessionID,
			"cancelled_groups", len(expiredGroups))

		cancelProviderPayments(ctx, r.payments, expiredGroups)
		publish(ctx, r.publisher, models.EventSessionExpired, models.SessionClosedEvent{
			SessionID:       sessionID,
			UserID:          session.UserID,
			CancelledGroups: groupIDs(expiredGroups),
			Reason:          "expired",
			Timestamp:       now,
		})
	}

	if alreadyTerminal {
		metrics.PaymentCallbacks.WithLabelValues("already_terminal").Inc()
		if providerStatus == models.ProviderApproved {
			if g := findGroupByOrderRef(session, orderRef); g != nil && g.Status == models.GroupCancelled {
				log.Warn("Approved payment arrived for a cancelled group", "session_id", sessionID, "group_id", g.ID)
			}
		}
		log.Info("Payment callback for terminal group ignored", "session_id", sessionID)
		return view, apperrors.ErrAlreadyTerminal
	}

	if changed == nil {
		metrics.PaymentCallbacks.WithLabelValues("no_change").Inc()
		log.Info("Payment callback did not change state", "session_id", sessionID)
		return view, nil
	}

	metrics.PaymentCallbacks.WithLabelValues(changed.Status).Inc()
	log.Info("Payment group updated",
		"session_id", sessionID,
		"group_id", changed.ID,
		"group_status", changed.Status,
		"session_status", view.Status)

	event := models.PaymentGroupEvent{
		SessionID:         sessionID,
		GroupID:           changed.ID,
		OrderRef:          orderRef,
		OrganizerID:       changed.OrganizerID,
		GroupStatus:       changed.Status,
		ProviderPaymentID: providerPaymentID,
		SessionStatus:     view.Status,
		Timestamp:         now,
	}

	if changed.Status == models.GroupPaid {
		if session.Status == models.SessionExpired || session.Status == models.SessionCancelled {
			log.Warn("Payment approved for a closed session", "session_id", sessionID, "group_id", changed.ID)
		}
		r.issueTickets(ctx, *changed)
		publish(ctx, r.publisher, models.EventPaymentGroupPaid, event)
	} else {
		publish(ctx, r.publisher, models.EventPaymentGroupFailed, event)
	}

	return view, nil
}

// issueTickets runs after the PAID transition is committed; a failure is
// logged for manual follow-up and does not undo the payment.
func (r *Reconciler) issueTickets(ctx context.Context, group models.PaymentGroup) {
	if r.issuer == nil {
		return
	}
	refs, err := r.issuer.IssueTicketsForGroup(ctx, group)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to issue tickets for paid group",
			"error", err,
			"group_id", group.ID,
			"order_ref", group.OrderRef)
		return
	}
	logger.WithContext(ctx).Info("Tickets issued", "group_id", group.ID, "tickets", len(refs))
}

func findGroupByOrderRef(s *models.CheckoutSession, orderRef string) *models.PaymentGroup {
	for i := range s.Groups {
		if s.Groups[i].OrderRef == orderRef {
			return &s.Groups[i]
		}
	}
	return nil
}

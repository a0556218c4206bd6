package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"passgate/internal/checkout"
	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
	"passgate/internal/metrics"
	"passgate/internal/models"
	"passgate/internal/repository"
)

type CheckoutOptions struct {
	SessionTTL         time.Duration
	MaxPaymentAttempts int
	SweepBatchSize     int
	SuccessURL         string
	FailURL            string
	NotificationURL    string
}

type CheckoutService struct {
	store        repository.CheckoutStore
	availability AvailabilityProvider
	payments     PaymentProvider
	publisher    EventPublisher
	opts         CheckoutOptions
	now          func() time.Time
}

func NewCheckoutService(store repository.CheckoutStore, availability AvailabilityProvider, payments PaymentProvider, publisher EventPublisher, opts CheckoutOptions) *CheckoutService {
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 500
	}
	if opts.MaxPaymentAttempts <= 0 {
		opts.MaxPaymentAttempts = 3
	}
	return &CheckoutService{
		store:        store,
		availability: availability,
		payments:     payments,
		publisher:    publisher,
		opts:         opts,
		now:          time.Now,
	}
}

// CreateSession splits the cart into one payment group per organizer, opens a
// payment for every group and persists the session with all its groups at once.
func (s *CheckoutService) CreateSession(ctx context.Context, userID string, req *models.CreateSessionRequest) (*models.SessionStateView, error) {
	drafts, total, err := checkout.Partition(req.Items)
	if err != nil {
		return nil, err
	}

	if err := s.checkAvailability(ctx, req.Items); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.CheckoutSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		TotalAmount:    total,
		Status:         models.SessionPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.SessionTTL),
		LastAccessedAt: now,
		AttemptCount:   1,
		Groups:         make([]models.PaymentGroup, 0, len(drafts)),
	}

	for i, d := range drafts {
		session.Groups = append(session.Groups, models.PaymentGroup{
			ID:          uuid.New().String(),
			SessionID:   session.ID,
			OrganizerID: d.OrganizerID,
			SuborderID:  fmt.Sprintf("%s-%d", session.ID, i+1),
			OrderRef:    uuid.New().String(),
			Amount:      d.Amount,
			Status:      models.GroupPending,
			Items:       d.Items,
			// keeps group order stable when read back
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
	}

	for i := range session.Groups {
		g := &session.Groups[i]
		ps, err := s.payments.CreatePaymentRequest(ctx, s.paymentRequest(g, req.Payer))
		if err != nil {
			s.cancelProviderPayments(ctx, session.Groups[:i])
			return nil, fmt.Errorf("failed to create payment for organizer %d: %w", g.OrganizerID, err)
		}
		g.ProviderRef = &ps.ProviderRef
		g.RedirectURL = &ps.RedirectURL
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		s.cancelProviderPayments(ctx, session.Groups)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	logger.WithContext(ctx).Info("Checkout session created",
		"session_id", session.ID,
		"groups", len(session.Groups),
		"total_amount", total.String())

	groupIDs := make([]string, len(session.Groups))
	for i, g := range session.Groups {
		groupIDs[i] = g.ID
	}
	publish(ctx, s.publisher, models.EventCheckoutSessionCreated, models.CheckoutSessionCreatedEvent{
		SessionID:   session.ID,
		UserID:      userID,
		GroupIDs:    groupIDs,
		TotalAmount: total.String(),
		ExpiresAt:   session.ExpiresAt,
		Timestamp:   now,
	})

	return checkout.View(session, now), nil
}

func (s *CheckoutService) checkAvailability(ctx context.Context, items []models.CartItem) error {
	requested := checkout.RequestedPasses(items)

	eventIDs := make([]int64, 0, len(requested))
	for id := range requested {
		eventIDs = append(eventIDs, id)
	}
	sort.Slice(eventIDs, func(i, j int) bool { return eventIDs[i] < eventIDs[j] })

	for _, eventID := range eventIDs {
		avail, err := s.availability.GetEventAvailability(ctx, eventID)
		if err != nil {
			if errors.Is(err, apperrors.ErrEventUnavailable) {
				return err
			}
			return fmt.Errorf("failed to get availability of event %d: %w", eventID, err)
		}
		if avail.AvailablePasses < requested[eventID] {
			logger.WithContext(ctx).Info("Event has not enough passes",
				"event_id", eventID,
				"requested", requested[eventID],
				"available", avail.AvailablePasses)
			return apperrors.ErrEventUnavailable
		}
	}
	return nil
}

func (s *CheckoutService) paymentRequest(g *models.PaymentGroup, payer models.PayerInfo) models.PaymentRequest {
	return models.PaymentRequest{
		GroupID:         g.ID,
		OrderRef:        g.OrderRef,
		Amount:          g.Amount,
		Description:     fmt.Sprintf("Order %s, organizer %d", g.SuborderID, g.OrganizerID),
		Payer:           payer,
		SuccessURL:      s.opts.SuccessURL,
		FailURL:         s.opts.FailURL,
		NotificationURL: s.opts.NotificationURL,
	}
}

func (s *CheckoutService) cancelProviderPayments(ctx context.Context, groups []models.PaymentGroup) {
	cancelProviderPayments(ctx, s.payments, groups)
}

// cancelProviderPayments is best-effort: local state is already decided.
func cancelProviderPayments(ctx context.Context, payments PaymentProvider, groups []models.PaymentGroup) {
	if payments == nil {
		return
	}
	for _, g := range groups {
		if g.ProviderRef == nil || *g.ProviderRef == "" {
			continue
		}
		if err := payments.CancelPayment(ctx, *g.ProviderRef); err != nil {
			logger.WithContext(ctx).Warn("Failed to cancel provider payment",
				"error", err,
				"group_id", g.ID,
				"provider_ref", *g.ProviderRef)
		}
	}
}

// GetSessionState returns the session with its status re-aggregated. It has
// no side effects.
func (s *CheckoutService) GetSessionState(ctx context.Context, sessionID string) (*models.SessionStateView, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return checkout.View(session, s.now()), nil
}

// ExpireStaleSessions moves open sessions past their expiry to EXPIRED and
// cancels their PENDING groups. Each session is handled in its own
// transaction; PAID groups are never touched.
func (s *CheckoutService) ExpireStaleSessions(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListExpirable(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable sessions: %w", err)
	}

	expired := 0
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		var cancelled []models.PaymentGroup
		var changed bool
		session, err := s.store.UpdateSession(ctx, id, func(sess *models.CheckoutSession) error {
			cancelled, changed = checkout.ExpireDue(sess, now)
			if !changed {
				return repository.ErrNoUpdate
			}
			return nil
		})
		if err != nil {
			logger.WithContext(ctx).Error("Failed to expire session", "error", err, "session_id", id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !changed {
			continue
		}

		expired++
		metrics.SessionsExpired.Inc()
		logger.WithContext(ctx).Info("Checkout session expired",
			"session_id", id,
			"cancelled_groups", len(cancelled))

		s.cancelProviderPayments(ctx, cancelled)
		publish(ctx, s.publisher, models.EventSessionExpired, models.SessionClosedEvent{
			SessionID:       id,
			UserID:          session.UserID,
			CancelledGroups: groupIDs(cancelled),
			Reason:          "expired",
			Timestamp:       now,
		})
	}

	if firstErr != nil {
		return expired, fmt.Errorf("failed to expire some sessions: %w", firstErr)
	}
	return expired, nil
}

// CancelSession is the owner giving up on checkout: PENDING and FAILED groups
// are cancelled, PAID groups stay paid.
func (s *CheckoutService) CancelSession(ctx context.Context, sessionID, userID string) (*models.SessionStateView, error) {
	now := s.now().UTC()

	var cancelled []models.PaymentGroup
	session, err := s.store.UpdateSession(ctx, sessionID, func(sess *models.CheckoutSession) error {
		cancelled = nil
		if sess.UserID != userID {
			return apperrors.ErrForbidden
		}
		if checkout.IsSessionTerminal(checkout.AggregateStatus(sess, now)) {
			return apperrors.ErrSessionTerminal
		}

		for i := range sess.Groups {
			g := &sess.Groups[i]
			if g.Status == models.GroupPending || g.Status == models.GroupFailed {
				g.Status = models.GroupCancelled
				g.UpdatedAt = now
				cancelled = append(cancelled, *g)
			}
		}
		sess.Status = models.SessionCancelled
		sess.LastAccessedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Checkout session cancelled",
		"session_id", sessionID,
		"cancelled_groups", len(cancelled))

	s.cancelProviderPayments(ctx, cancelled)
	publish(ctx, s.publisher, models.EventSessionCancelled, models.SessionClosedEvent{
		SessionID:       sessionID,
		UserID:          userID,
		CancelledGroups: groupIDs(cancelled),
		Reason:          "cancelled",
		Timestamp:       now,
	})

	return checkout.View(session, now), nil
}

// RetryGroupPayment opens a new payment for a FAILED group. The provider call
// happens outside the session lock, the group is re-checked under it.
func (s *CheckoutService) RetryGroupPayment(ctx context.Context, sessionID, groupID, userID string, payer models.PayerInfo) (*models.SessionStateView, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.checkRetry(current, groupID, userID); err != nil {
		return nil, err
	}

	group := findGroup(current, groupID)
	ps, err := s.payments.CreatePaymentRequest(ctx, s.paymentRequest(group, payer))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment for group %s: %w", groupID, err)
	}

	now := s.now().UTC()
	session, err := s.store.UpdateSession(ctx, sessionID, func(sess *models.CheckoutSession) error {
		g, err := s.checkRetry(sess, groupID, userID)
		if err != nil {
			return err
		}
		g.Status = models.GroupPending
		g.ProviderRef = &ps.ProviderRef
		g.RedirectURL = &ps.RedirectURL
		g.ProviderPaymentID = nil
		g.UpdatedAt = now

		sess.AttemptCount++
		sess.LastAccessedAt = now
		sess.Status = checkout.StoredStatus(sess)
		return nil
	})
	if err != nil {
		s.cancelProviderPayments(ctx, []models.PaymentGroup{{ID: groupID, ProviderRef: &ps.ProviderRef}})
		return nil, err
	}

	logger.WithContext(ctx).Info("Payment retry opened",
		"session_id", sessionID,
		"group_id", groupID,
		"attempt", session.AttemptCount)

	return checkout.View(session, now), nil
}

func (s *CheckoutService) checkRetry(sess *models.CheckoutSession, groupID, userID string) (*models.PaymentGroup, error) {
	if sess.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	if checkout.IsSessionTerminal(checkout.AggregateStatus(sess, s.now())) {
		return nil, apperrors.ErrSessionTerminal
	}
	g := findGroup(sess, groupID)
	if g == nil {
		return nil, apperrors.ErrGroupNotFound
	}
	if g.Status != models.GroupFailed {
		return nil, apperrors.ErrGroupNotRetryable
	}
	if sess.AttemptCount >= s.opts.MaxPaymentAttempts {
		return nil, apperrors.ErrTooManyAttempts
	}
	return g, nil
}

// PurgeFinishedSessions deletes terminal sessions created before cutoff.
func (s *CheckoutService) PurgeFinishedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished sessions: %w", err)
	}
	if n > 0 {
		logger.WithContext(ctx).Info("Purged finished checkout sessions", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func findGroup(s *models.CheckoutSession, groupID string) *models.PaymentGroup {
	for i := range s.Groups {
		if s.Groups[i].ID == groupID {
			return &s.Groups[i]
		}
	}
	return nil
}

func groupIDs(groups []models.PaymentGroup) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids
}

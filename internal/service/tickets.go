package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
	"passgate/internal/models"
	"passgate/internal/qrcode"
	"passgate/internal/redemption"
	"passgate/internal/repository"
)

type TicketService struct {
	store repository.TicketStore
	codec *qrcode.Codec
	qrTTL time.Duration
	now   func() time.Time
}

func NewTicketService(store repository.TicketStore, codec *qrcode.Codec, qrTTL time.Duration) *TicketService {
	return &TicketService{
		store: store,
		codec: codec,
		qrTTL: qrTTL,
		now:   time.Now,
	}
}

// Register stores an issued ticket with its consumption details.
func (s *TicketService) Register(ctx context.Context, req *models.RegisterTicketRequest) (*models.TicketStatusView, error) {
	if req.TicketID != "" {
		if _, err := uuid.Parse(req.TicketID); err != nil {
			return nil, apperrors.ErrInvalidTicketID
		}
	}
	for _, c := range req.Consumptions {
		if c.Quantity <= 0 {
			return nil, apperrors.ErrInvalidQuantity
		}
	}

	now := s.now().UTC()
	ticket := &models.Ticket{
		ID:        req.TicketID,
		UserID:    req.UserID,
		EventID:   req.EventID,
		PassID:    req.PassID,
		Status:    models.TicketActive,
		CreatedAt: now,
	}
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}

	details := make([]models.ConsumptionDetail, len(req.Consumptions))
	for i, c := range req.Consumptions {
		details[i] = models.ConsumptionDetail{
			ID:                uuid.New().String(),
			TicketID:          ticket.ID,
			ConsumptionTypeID: c.ConsumptionTypeID,
			TotalQuantity:     c.Quantity,
			// keeps the listing order stable
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}

	if err := s.store.CreateTicket(ctx, ticket, details); err != nil {
		if errors.Is(err, apperrors.ErrTicketExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to register ticket: %w", err)
	}

	logger.WithContext(ctx).Info("Ticket registered",
		"ticket_id", ticket.ID,
		"event_id", ticket.EventID,
		"consumptions", len(details))

	return statusView(ticket, details), nil
}

// IssueCodes signs a fresh entry code and, for every detail with remaining
// quantity, a consumption code. With detailID set only that detail's code
// is returned.
func (s *TicketService) IssueCodes(ctx context.Context, ticketID, detailID string) (*models.TicketCodes, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == models.TicketInvalid {
		return nil, apperrors.ErrInactive
	}

	details, err := s.store.ListConsumptionDetails(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption details: %w", err)
	}

	expiresAt := s.now().Add(s.qrTTL).UTC().Truncate(time.Second)
	base := qrcode.Payload{
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		EventID:   ticket.EventID,
		ExpiresAt: expiresAt.Unix(),
	}

	codes := &models.TicketCodes{
		TicketID:     ticket.ID,
		Consumptions: make(map[string]string),
		ExpiresAt:    expiresAt,
	}

	if detailID == "" {
		entry := base
		entry.Type = qrcode.TypeEntry
		if codes.EntryCode, err = s.codec.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry code: %w", err)
		}
	}

	found := false
	for _, d := range details {
		if detailID != "" && d.ID != detailID {
			continue
		}
		found = true
		if d.Remaining() == 0 {
			continue
		}
		p := base
		p.Type = qrcode.TypeConsumption
		p.DetailID = d.ID
		code, err := s.codec.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode consumption code: %w", err)
		}
		codes.Consumptions[d.ID] = code
	}
	if detailID != "" && !found {
		return nil, apperrors.ErrDetailNotFound
	}

	return codes, nil
}

// Status returns the aggregate redemption state of a ticket.
func (s *TicketService) Status(ctx context.Context, ticketID string) (*models.TicketStatusView, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	details, err := s.store.ListConsumptionDetails(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption details: %w", err)
	}

	return statusView(ticket, details), nil
}

// Invalidate moves an UNUSED ticket to INVALID.
func (s *TicketService) Invalidate(ctx context.Context, ticketID string) (*models.TicketStatusView, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	details, err := s.store.ListConsumptionDetails(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption details: %w", err)
	}
	if err := redemption.CanInvalidate(ticket, details); err != nil {
		return nil, err
	}

	if err := s.store.InvalidateTicket(ctx, ticketID, ticket.Version); err != nil {
		if errors.Is(err, apperrors.ErrVersionConflict) {
			// something was redeemed in between
			return nil, apperrors.ErrNotInvalidatable
		}
		return nil, fmt.Errorf("failed to invalidate ticket: %w", err)
	}

	logger.WithContext(ctx).Info("Ticket invalidated", "ticket_id", ticketID)

	ticket.Status = models.TicketInvalid
	ticket.Version++
	return statusView(ticket, details), nil
}

func statusView(t *models.Ticket, details []models.ConsumptionDetail) *models.TicketStatusView {
	view := &models.TicketStatusView{
		TicketID:     t.ID,
		UserID:       t.UserID,
		EventID:      t.EventID,
		EntryStatus:  t.Status,
		State:        redemption.TicketState(t, details),
		RedeemedAt:   t.RedeemedAt,
		Consumptions: make([]models.ConsumptionView, len(details)),
	}
	for i, d := range details {
		view.Consumptions[i] = models.ConsumptionView{
			ID:                d.ID,
			ConsumptionTypeID: d.ConsumptionTypeID,
			TotalQuantity:     d.TotalQuantity,
			RedeemedQuantity:  d.RedeemedQuantity,
			Status:            redemption.DetailStatus(d.RedeemedQuantity, d.TotalQuantity),
		}
	}
	return view
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
	"passgate/internal/metrics"
	"passgate/internal/models"
	"passgate/internal/qrcode"
	"passgate/internal/redemption"
	"passgate/internal/repository"
)

const invalidCodeMessage = "invalid code"

type RedemptionService struct {
	ledger    *Ledger
	store     repository.TicketStore
	codec     *qrcode.Codec
	searcher  RecordSearcher
	publisher EventPublisher
}

func NewRedemptionService(ledger *Ledger, store repository.TicketStore, codec *qrcode.Codec, searcher RecordSearcher, publisher EventPublisher) *RedemptionService {
	return &RedemptionService{
		ledger:    ledger,
		store:     store,
		codec:     codec,
		searcher:  searcher,
		publisher: publisher,
	}
}

// RedeemEntry validates an entry code and admits its ticket once.
// Rejections return a non-nil response together with the cause.
func (s *RedemptionService) RedeemEntry(ctx context.Context, code, operatorID string) (*models.RedeemEntryResponse, error) {
	payload, err := s.decode(ctx, code, qrcode.TypeEntry, operatorID)
	if err != nil {
		metrics.Redemptions.WithLabelValues("entry", outcome(err)).Inc()
		return &models.RedeemEntryResponse{Valid: false, Message: invalidCodeMessage}, err
	}

	ticket, err := s.store.GetTicket(ctx, payload.TicketID)
	if err == nil && (ticket.UserID != payload.UserID || ticket.EventID != payload.EventID) {
		err = apperrors.ErrCodeMismatch
	}
	if err == nil {
		var res *EntryResult
		res, err = s.ledger.RedeemEntry(ctx, payload.TicketID, operatorID)
		if err == nil {
			ticket = res.Ticket
			s.afterRedemption(ctx, ticket, res.Record, 0, true)
		}
	}

	metrics.Redemptions.WithLabelValues("entry", outcome(err)).Inc()
	if err != nil {
		s.logRejection(ctx, "entry", payload, operatorID, err)
		if isRedemptionRejection(err) {
			return &models.RedeemEntryResponse{Valid: false, TicketID: payload.TicketID, Message: rejectionMessage(err)}, err
		}
		return nil, err
	}

	return &models.RedeemEntryResponse{
		Valid:    true,
		TicketID: ticket.ID,
		Message:  "entry granted",
	}, nil
}

// RedeemConsumption validates a consumption code and redeems quantity units.
func (s *RedemptionService) RedeemConsumption(ctx context.Context, code string, quantity int, operatorID string) (*models.RedeemConsumptionResponse, error) {
	payload, err := s.decode(ctx, code, qrcode.TypeConsumption, operatorID)
	if err != nil {
		metrics.Redemptions.WithLabelValues("consumption", outcome(err)).Inc()
		return &models.RedeemConsumptionResponse{Valid: false, Message: invalidCodeMessage}, err
	}

	resp := &models.RedeemConsumptionResponse{DetailID: payload.DetailID}

	detail, err := s.store.GetConsumptionDetail(ctx, payload.DetailID)
	if err == nil {
		resp.RemainingQuantity = detail.Remaining()
		if detail.TicketID != payload.TicketID {
			err = apperrors.ErrCodeMismatch
		}
	}
	var ticket *models.Ticket
	if err == nil {
		ticket, err = s.store.GetTicket(ctx, payload.TicketID)
		if err == nil && (ticket.UserID != payload.UserID || ticket.EventID != payload.EventID) {
			err = apperrors.ErrCodeMismatch
		}
	}
	if err == nil {
		var res *PartialResult
		res, err = s.ledger.RedeemPartial(ctx, payload.DetailID, quantity, operatorID)
		if err == nil {
			resp.Valid = true
			resp.QuantityRedeemed = quantity
			resp.RemainingQuantity = res.Remaining
			resp.Message = "consumption redeemed"
			s.afterRedemption(ctx, ticket, res.Record, res.Remaining, res.FullyRedeemedNow)
		}
	}

	metrics.Redemptions.WithLabelValues("consumption", outcome(err)).Inc()
	if err != nil {
		s.logRejection(ctx, "consumption", payload, operatorID, err)
		if isRedemptionRejection(err) {
			resp.Valid = false
			resp.Message = rejectionMessage(err)
			return resp, err
		}
		return nil, err
	}

	return resp, nil
}

func (s *RedemptionService) decode(ctx context.Context, code, wantType, operatorID string) (qrcode.Payload, error) {
	payload, err := s.codec.Decode(code)
	if err == nil && payload.Type != wantType {
		err = apperrors.ErrCodeMismatch
	}
	if err != nil {
		logger.WithContext(ctx).Warn("Rejected redemption code",
			"reason", err.Error(),
			"operator_id", operatorID,
			"ticket_id", payload.TicketID,
			"expected_type", wantType)
		return payload, err
	}
	return payload, nil
}

// afterRedemption publishes the committed record and, when the last open
// part of the ticket was just used, the fully-redeemed event.
func (s *RedemptionService) afterRedemption(ctx context.Context, ticket *models.Ticket, rec models.RedemptionRecord, remaining int, mayBeFull bool) {
	publish(ctx, s.publisher, models.EventRedemptionRecorded, models.RedemptionRecordedEvent{
		Record:    rec,
		EventID:   ticket.EventID,
		Remaining: remaining,
		Timestamp: time.Now(),
	})

	if !mayBeFull {
		return
	}

	current, err := s.store.GetTicket(ctx, ticket.ID)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to reload ticket after redemption", "error", err, "ticket_id", ticket.ID)
		return
	}
	details, err := s.store.ListConsumptionDetails(ctx, ticket.ID)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to load consumption details", "error", err, "ticket_id", ticket.ID)
		return
	}

	if redemption.TicketState(current, details) == redemption.StateFullyRedeemed {
		publish(ctx, s.publisher, models.EventTicketFullyRedeemed, models.TicketFullyRedeemedEvent{
			TicketID:  current.ID,
			EventID:   current.EventID,
			UserID:    current.UserID,
			Timestamp: time.Now(),
		})
	}
}

func (s *RedemptionService) logRejection(ctx context.Context, kind string, p qrcode.Payload, operatorID string, err error) {
	log := logger.WithContext(ctx)
	fields := []any{
		"error", err,
		"kind", kind,
		"ticket_id", p.TicketID,
		"detail_id", p.DetailID,
		"operator_id", operatorID,
	}
	if isRedemptionRejection(err) {
		log.Info("Redemption rejected", fields...)
		return
	}
	log.Error("Redemption failed", fields...)
}

// SearchRecords reads the audit trail from the search index when one is
// configured, falling back to the primary store.
func (s *RedemptionService) SearchRecords(ctx context.Context, filter repository.RecordFilter) (*models.RedemptionSearchResult, error) {
	if s.searcher != nil {
		result, err := s.searcher.SearchRecords(ctx, filter)
		if err == nil {
			return result, nil
		}
		logger.WithContext(ctx).Warn("Redemption search failed, reading from store", "error", err)
	}

	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemption records: %w", err)
	}
	if records == nil {
		records = []models.RedemptionRecord{}
	}
	return &models.RedemptionSearchResult{Total: int64(len(records)), Records: records}, nil
}

func isRedemptionRejection(err error) bool {
	return qrcode.IsRejection(err) ||
		errors.Is(err, apperrors.ErrCodeMismatch) ||
		errors.Is(err, apperrors.ErrTicketNotFound) ||
		errors.Is(err, apperrors.ErrDetailNotFound) ||
		errors.Is(err, apperrors.ErrAlreadyRedeemed) ||
		errors.Is(err, apperrors.ErrInsufficientRemaining) ||
		errors.Is(err, apperrors.ErrInvalidQuantity) ||
		errors.Is(err, apperrors.ErrInactive)
}

// rejectionMessage never tells the caller which code check failed.
func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrAlreadyRedeemed):
		return "ticket already redeemed"
	case errors.Is(err, apperrors.ErrInsufficientRemaining):
		return "insufficient remaining quantity"
	case errors.Is(err, apperrors.ErrInvalidQuantity):
		return "quantity must be positive"
	case errors.Is(err, apperrors.ErrInactive):
		return "ticket is not active"
	default:
		return invalidCodeMessage
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case qrcode.IsRejection(err), errors.Is(err, apperrors.ErrCodeMismatch):
		return "invalid_code"
	case errors.Is(err, apperrors.ErrTicketNotFound), errors.Is(err, apperrors.ErrDetailNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, apperrors.ErrInsufficientRemaining):
		return "insufficient_remaining"
	case errors.Is(err, apperrors.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, apperrors.ErrInactive):
		return "inactive"
	default:
		return "error"
	}
}

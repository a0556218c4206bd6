package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/stan.go"

	"passgate/internal/models"
)

// RecordIndexer stores redemption records for search; implemented by search.RedemptionIndex.
type RecordIndexer interface {
	IndexRecord(ctx context.Context, record models.RedemptionRecord) error
}

const handleTimeout = 10 * time.Second

type Handlers struct {
	indexer RecordIndexer
}

func NewHandlers(indexer RecordIndexer) *Handlers {
	return &Handlers{indexer: indexer}
}

// ack wraps a data handler: success and poison messages are acknowledged,
// transient failures are left for redelivery after AckWait.
func ack(subject string, fn func(ctx context.Context, data []byte) error) stan.MsgHandler {
	return func(m *stan.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()

		err := fn(ctx, m.Data)
		if err != nil {
			var poison *poisonError
			if errors.As(err, &poison) {
				slog.Error("Dropping malformed message", "subject", subject, "error", poison.err)
			} else {
				slog.Error("Failed to handle message, waiting for redelivery",
					"subject", subject, "sequence", m.Sequence, "error", err)
				return
			}
		}

		if err := m.Ack(); err != nil {
			slog.Error("Failed to ack message", "subject", subject, "error", err)
		}
	}
}

// poisonError marks a message that will never be processable
type poisonError struct{ err error }

func (p *poisonError) Error() string { return p.err.Error() }

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &poisonError{err: fmt.Errorf("failed to unmarshal event: %w", err)}
	}
	return nil
}

// handleRedemptionRecorded indexes the record into the audit index
func (h *Handlers) handleRedemptionRecorded(ctx context.Context, data []byte) error {
	var event models.RedemptionRecordedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	if h.indexer == nil {
		slog.Debug("Search index disabled, skipping record", "record_id", event.Record.ID)
		return nil
	}

	if err := h.indexer.IndexRecord(ctx, event.Record); err != nil {
		return fmt.Errorf("failed to index record %s: %w", event.Record.ID, err)
	}

	slog.Info("Redemption record indexed",
		"record_id", event.Record.ID,
		"ticket_id", event.Record.TicketID,
		"subject_type", event.Record.SubjectType)
	return nil
}

func (h *Handlers) handleTicketFullyRedeemed(_ context.Context, data []byte) error {
	var event models.TicketFullyRedeemedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	slog.Info("Ticket fully redeemed", "ticket_id", event.TicketID, "event_id", event.EventID, "user_id", event.UserID)
	return nil
}

func (h *Handlers) handleSessionCreated(_ context.Context, data []byte) error {
	var event models.CheckoutSessionCreatedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	slog.Info("Checkout session created",
		"session_id", event.SessionID,
		"groups", len(event.GroupIDs),
		"total_amount", event.TotalAmount)
	return nil
}

func (h *Handlers) handlePaymentGroup(_ context.Context, data []byte) error {
	var event models.PaymentGroupEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	slog.Info("Payment group settled",
		"session_id", event.SessionID,
		"group_id", event.GroupID,
		"group_status", event.GroupStatus,
		"session_status", event.SessionStatus)
	return nil
}

func (h *Handlers) handleSessionClosed(_ context.Context, data []byte) error {
	var event models.SessionClosedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	slog.Info("Checkout session closed",
		"session_id", event.SessionID,
		"reason", event.Reason,
		"cancelled_groups", len(event.CancelledGroups))
	return nil
}

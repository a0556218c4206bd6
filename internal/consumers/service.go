package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/stan.go"

	"passgate/internal/models"
)

// Subscriber is the queue subscription side of messaging.NATSClient
type Subscriber interface {
	SubscribeQueue(subject, queue string, handler stan.MsgHandler) (stan.Subscription, error)
}

const queueGroup = "passgate-consumers"

type ConsumerService struct {
	nats     Subscriber
	handlers *Handlers
	subs     []stan.Subscription
}

func NewConsumerService(nats Subscriber, indexer RecordIndexer) *ConsumerService {
	return &ConsumerService{
		nats:     nats,
		handlers: NewHandlers(indexer),
	}
}

func (cs *ConsumerService) routes() map[string]func(context.Context, []byte) error {
	return map[string]func(context.Context, []byte) error{
		models.EventRedemptionRecorded:     cs.handlers.handleRedemptionRecorded,
		models.EventTicketFullyRedeemed:    cs.handlers.handleTicketFullyRedeemed,
		models.EventCheckoutSessionCreated: cs.handlers.handleSessionCreated,
		models.EventPaymentGroupPaid:       cs.handlers.handlePaymentGroup,
		models.EventPaymentGroupFailed:     cs.handlers.handlePaymentGroup,
		models.EventSessionExpired:         cs.handlers.handleSessionClosed,
		models.EventSessionCancelled:       cs.handlers.handleSessionClosed,
	}
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	for subject, fn := range cs.routes() {
		sub, err := cs.nats.SubscribeQueue(subject, queueGroup, ack(subject, fn))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		cs.subs = append(cs.subs, sub)
	}

	slog.Info("All consumers started successfully", "subscriptions", len(cs.subs))
	return nil
}

// Shutdown closes subscriptions but keeps durable positions
func (cs *ConsumerService) Shutdown(_ context.Context) error {
	slog.Info("Shutting down consumer service...")

	for _, sub := range cs.subs {
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}
	cs.subs = nil
	return nil
}

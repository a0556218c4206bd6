package service

import (
	"time"

	"passgate/internal/config"
	"passgate/internal/qrcode"
	"passgate/internal/repository"
)

type Services struct {
	Ledger      *Ledger
	Redemptions *RedemptionService
	Tickets     *TicketService
	Checkout    *CheckoutService
	Reconciler  *Reconciler
}

// Collaborators are the external systems the core talks to. Publisher and
// Searcher may be nil.
type Collaborators struct {
	Publisher    EventPublisher
	Searcher     RecordSearcher
	Issuer       TicketIssuer
	Availability AvailabilityProvider
	Payments     PaymentProvider
}

type Options struct {
	QRSecret string
	QRTTL    time.Duration
	Checkout CheckoutOptions
}

func NewServices(repos *repository.Repositories, c Collaborators, opts Options) *Services {
	codec := qrcode.NewCodec(opts.QRSecret)
	ledger := NewLedger(repos.Tickets)

	return &Services{
		Ledger:      ledger,
		Redemptions: NewRedemptionService(ledger, repos.Tickets, codec, c.Searcher, c.Publisher),
		Tickets:     NewTicketService(repos.Tickets, codec, opts.QRTTL),
		Checkout:    NewCheckoutService(repos.Checkout, c.Availability, c.Payments, c.Publisher, opts.Checkout),
		Reconciler:  NewReconciler(repos.Checkout, c.Issuer, c.Payments, c.Publisher),
	}
}

// OptionsFromConfig maps application configuration onto service options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QRSecret: cfg.QRSecret,
		QRTTL:    cfg.QRTTL,
		Checkout: CheckoutOptions{
			SessionTTL:         cfg.Checkout.SessionTTL,
			MaxPaymentAttempts: cfg.Checkout.MaxPaymentAttempts,
			SweepBatchSize:     cfg.Checkout.SweepBatchSize,
			SuccessURL:         cfg.Checkout.SuccessURL,
			FailURL:            cfg.Checkout.FailURL,
			NotificationURL:    cfg.Checkout.NotificationURL,
		},
	}
}

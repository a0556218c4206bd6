package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
	"passgate/internal/qrcode"
	"passgate/internal/repository"
)

const testSecret = "test-qr-secret"

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *fakePublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fakePayments struct {
	mu        sync.Mutex
	created   []models.PaymentRequest
	cancelled []string
	failAfter int // fail the n-th+1 request when > 0
	states    map[string]models.PaymentState
}

func (f *fakePayments) CreatePaymentRequest(_ context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.created) >= f.failAfter {
		return nil, errors.New("gateway unavailable")
	}
	f.created = append(f.created, req)
	ref := fmt.Sprintf("pay-%d", len(f.created))
	return &models.PaymentSession{ProviderRef: ref, RedirectURL: "https://pay.example/" + ref}, nil
}

func (f *fakePayments) CheckPayment(_ context.Context, orderRef string) (*models.PaymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[orderRef]
	if !ok {
		return &models.PaymentState{Status: models.ProviderPending}, nil
	}
	return &st, nil
}

func (f *fakePayments) CancelPayment(_ context.Context, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, providerRef)
	return nil
}

type fakeAvailability map[int64]int

func (f fakeAvailability) GetEventAvailability(_ context.Context, eventID int64) (*models.Availability, error) {
	n, ok := f[eventID]
	if !ok {
		return nil, apperrors.ErrEventUnavailable
	}
	return &models.Availability{EventID: eventID, TotalPasses: n, AvailablePasses: n}, nil
}

type fakeIssuer struct {
	mu     sync.Mutex
	groups []string
}

func (f *fakeIssuer) IssueTicketsForGroup(_ context.Context, g models.PaymentGroup) ([]models.TicketRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, g.ID)
	return []models.TicketRef{{TicketID: "issued-" + g.ID}}, nil
}

type testEnv struct {
	store     *repository.MemoryStore
	publisher *fakePublisher
	payments  *fakePayments
	issuer    *fakeIssuer
	codec     *qrcode.Codec
	now       time.Time

	ledger      *Ledger
	redemptions *RedemptionService
	tickets     *TicketService
	checkout    *CheckoutService
	reconciler  *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     repository.NewMemoryStore(),
		publisher: &fakePublisher{},
		payments:  &fakePayments{},
		issuer:    &fakeIssuer{},
		now:       time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.codec = qrcode.NewCodec(testSecret).WithClock(clock)

	env.ledger = NewLedger(env.store)
	env.ledger.now = clock
	env.redemptions = NewRedemptionService(env.ledger, env.store, env.codec, nil, env.publisher)
	env.tickets = NewTicketService(env.store, env.codec, time.Hour)
	env.tickets.now = clock

	env.checkout = NewCheckoutService(env.store,
		fakeAvailability{1: 100, 2: 100, 3: 1},
		env.payments, env.publisher,
		CheckoutOptions{SessionTTL: 15 * time.Minute, MaxPaymentAttempts: 3})
	env.checkout.now = clock
	env.reconciler = NewReconciler(env.store, env.issuer, env.payments, env.publisher)
	env.reconciler.now = clock

	return env
}

// registerTicket creates an ACTIVE ticket with one consumption detail per quantity.
func (e *testEnv) registerTicket(t *testing.T, quantities ...int) *models.TicketStatusView {
	t.Helper()
	req := &models.RegisterTicketRequest{UserID: "user-1", EventID: 1, PassID: 10}
	for i, q := range quantities {
		req.Consumptions = append(req.Consumptions, models.RegisterConsumptionDetail{
			ConsumptionTypeID: int64(i + 1),
			Quantity:          q,
		})
	}
	view, err := e.tickets.Register(context.Background(), req)
	require.NoError(t, err)
	return view
}

// twoOrganizerCart is organizer 100 for 100.00 and organizer 200 for 50.00.
func twoOrganizerCart() *models.CreateSessionRequest {
	return &models.CreateSessionRequest{
		Items: []models.CartItem{
			{EventID: 1, PassID: 10, OrganizerID: 100, Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
			{EventID: 2, PassID: 20, OrganizerID: 200, Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
		},
		Payer: models.PayerInfo{Email: "buyer@example.com"},
	}
}

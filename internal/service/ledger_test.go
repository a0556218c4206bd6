package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "passgate/internal/errors"
	"passgate/internal/repository"
)

// 50 concurrent scans of one ticket admit it exactly once.
func TestLedger_ConcurrentEntryRedeemsOnce(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t)
	ctx := context.Background()

	const callers = 50
	var ok, already, other int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.RedeemEntry(ctx, ticket.TicketID, "gate-1")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperrors.ErrAlreadyRedeemed):
				already++
			default:
				other++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
	assert.Zero(t, other)

	records, err := env.store.ListRecords(ctx, repository.RecordFilter{TicketID: ticket.TicketID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// Three concurrent redemptions of 2 against a total of 5: exactly two succeed.
func TestLedger_ConcurrentPartialRespectsTotal(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 5)
	detailID := ticket.Consumptions[0].ID
	ctx := context.Background()

	var ok, insufficient int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.RedeemPartial(ctx, detailID, 2, "bar-1")

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, apperrors.ErrInsufficientRemaining) {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, insufficient)

	detail, err := env.store.GetConsumptionDetail(ctx, detailID)
	require.NoError(t, err)
	assert.Equal(t, 4, detail.RedeemedQuantity)
	assert.Equal(t, 1, detail.Remaining())
}

// Whatever the interleaving, the sum of successful quantities never exceeds the total.
func TestLedger_PartialNeverOverRedeems(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 10)
	detailID := ticket.Consumptions[0].ID
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	quantities := make([]int, 40)
	for i := range quantities {
		quantities[i] = 1 + rng.Intn(3)
	}

	var redeemed int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, q := range quantities {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			if _, err := env.ledger.RedeemPartial(ctx, detailID, q, "bar-1"); err == nil {
				mu.Lock()
				redeemed += q
				mu.Unlock()
			}
		}(q)
	}
	wg.Wait()

	assert.LessOrEqual(t, redeemed, 10)

	detail, err := env.store.GetConsumptionDetail(ctx, detailID)
	require.NoError(t, err)
	assert.Equal(t, redeemed, detail.RedeemedQuantity)

	records, err := env.store.ListRecords(ctx, repository.RecordFilter{TicketID: ticket.TicketID})
	require.NoError(t, err)
	sum := 0
	for _, r := range records {
		sum += r.Quantity
	}
	assert.Equal(t, redeemed, sum, "every successful redemption has exactly one record")
}

func TestLedger_RedeemPartialRejections(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 3)
	detailID := ticket.Consumptions[0].ID
	ctx := context.Background()

	_, err := env.ledger.RedeemPartial(ctx, detailID, 0, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)

	_, err = env.ledger.RedeemPartial(ctx, detailID, -2, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)

	_, err = env.ledger.RedeemPartial(ctx, "missing", 1, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrDetailNotFound)

	_, err = env.ledger.RedeemPartial(ctx, detailID, 4, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientRemaining)

	res, err := env.ledger.RedeemPartial(ctx, detailID, 3, "bar-1")
	require.NoError(t, err)
	assert.True(t, res.FullyRedeemedNow)
	assert.Equal(t, 0, res.Remaining)

	_, err = env.ledger.RedeemPartial(ctx, detailID, 1, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientRemaining)
}

func TestLedger_InvalidTicketIsAbsorbing(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 2)
	ctx := context.Background()

	_, err := env.tickets.Invalidate(ctx, ticket.TicketID)
	require.NoError(t, err)

	_, err = env.ledger.RedeemEntry(ctx, ticket.TicketID, "gate-1")
	assert.ErrorIs(t, err, apperrors.ErrInactive)

	_, err = env.ledger.RedeemPartial(ctx, ticket.Consumptions[0].ID, 1, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInactive)
}

func TestLedger_EntryNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.RedeemEntry(context.Background(), "missing", "gate-1")
	assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
	"passgate/internal/qrcode"
)

func TestTicketService_RegisterAndStatus(t *testing.T) {
	env := newTestEnv(t)
	view := env.registerTicket(t, 2, 1)
	ctx := context.Background()

	assert.Equal(t, "UNUSED", view.State)
	assert.Equal(t, models.TicketActive, view.EntryStatus)
	require.Len(t, view.Consumptions, 2)
	assert.Equal(t, "PENDING", view.Consumptions[0].Status)

	_, err := env.ledger.RedeemPartial(ctx, view.Consumptions[0].ID, 1, "bar-1")
	require.NoError(t, err)

	status, err := env.tickets.Status(ctx, view.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_REDEEMED", status.State)
	assert.Equal(t, "PARTIAL", status.Consumptions[0].Status)
	assert.Equal(t, "user-1", status.UserID)
}

func TestTicketService_RegisterRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.tickets.Register(ctx, &models.RegisterTicketRequest{
		UserID: "u", EventID: 1, PassID: 1,
		Consumptions: []models.RegisterConsumptionDetail{{ConsumptionTypeID: 1, Quantity: 0}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)

	_, err = env.tickets.Register(ctx, &models.RegisterTicketRequest{TicketID: "fixed-id", UserID: "u", EventID: 1, PassID: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTicketID)

	req := &models.RegisterTicketRequest{TicketID: "6f1c2b1e-8d3a-4c55-9e0f-2a7b9c4d1e30", UserID: "u", EventID: 1, PassID: 1}
	_, err = env.tickets.Register(ctx, req)
	require.NoError(t, err)
	_, err = env.tickets.Register(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrTicketExists)
}

func TestTicketService_IssueCodes(t *testing.T) {
	env := newTestEnv(t)
	view := env.registerTicket(t, 1, 4)
	ctx := context.Background()

	_, err := env.ledger.RedeemPartial(ctx, view.Consumptions[0].ID, 1, "bar-1")
	require.NoError(t, err)

	codes, err := env.tickets.IssueCodes(ctx, view.TicketID, "")
	require.NoError(t, err)
	assert.Len(t, codes.Consumptions, 1, "fully used details get no code")

	p, err := env.codec.Decode(codes.EntryCode)
	require.NoError(t, err)
	assert.Equal(t, qrcode.TypeEntry, p.Type)
	assert.Equal(t, view.TicketID, p.TicketID)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, codes.ExpiresAt.Unix(), p.ExpiresAt)

	p, err = env.codec.Decode(codes.Consumptions[view.Consumptions[1].ID])
	require.NoError(t, err)
	assert.Equal(t, qrcode.TypeConsumption, p.Type)
	assert.Equal(t, view.Consumptions[1].ID, p.DetailID)

	_, err = env.tickets.IssueCodes(ctx, view.TicketID, "missing")
	assert.ErrorIs(t, err, apperrors.ErrDetailNotFound)

	_, err = env.tickets.IssueCodes(ctx, "missing", "")
	assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)
}

func TestTicketService_Invalidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unused := env.registerTicket(t, 1)
	view, err := env.tickets.Invalidate(ctx, unused.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "INVALID", view.State)

	_, err = env.tickets.Invalidate(ctx, unused.TicketID)
	assert.ErrorIs(t, err, apperrors.ErrInactive)

	_, err = env.tickets.IssueCodes(ctx, unused.TicketID, "")
	assert.ErrorIs(t, err, apperrors.ErrInactive)

	used := env.registerTicket(t)
	_, err = env.ledger.RedeemEntry(ctx, used.TicketID, "gate-1")
	require.NoError(t, err)
	_, err = env.tickets.Invalidate(ctx, used.TicketID)
	assert.ErrorIs(t, err, apperrors.ErrNotInvalidatable)
}

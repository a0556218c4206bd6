package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "passgate/internal/errors"
	"passgate/internal/models"
	"passgate/internal/qrcode"
	"passgate/internal/repository"
)

func TestRedemptionService_EntryCode(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t)
	ctx := context.Background()

	codes, err := env.tickets.IssueCodes(ctx, ticket.TicketID, "")
	require.NoError(t, err)

	resp, err := env.redemptions.RedeemEntry(ctx, codes.EntryCode, "gate-1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, ticket.TicketID, resp.TicketID)

	resp, err = env.redemptions.RedeemEntry(ctx, codes.EntryCode, "gate-2")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRedeemed)
	require.NotNil(t, resp)
	assert.False(t, resp.Valid)
	assert.Equal(t, "ticket already redeemed", resp.Message)

	assert.Equal(t, 1, env.publisher.count(models.EventRedemptionRecorded))
	// no consumptions, so the entry alone completes the ticket
	assert.Equal(t, 1, env.publisher.count(models.EventTicketFullyRedeemed))
}

func TestRedemptionService_InvalidCodesAreGeneric(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t)
	ctx := context.Background()

	codes, err := env.tickets.IssueCodes(ctx, ticket.TicketID, "")
	require.NoError(t, err)

	tampered := []byte(codes.EntryCode)
	tampered[3] ^= 0x01

	forged, err := qrcode.NewCodec("other-secret").Encode(qrcode.Payload{
		Type: qrcode.TypeEntry, TicketID: ticket.TicketID, UserID: "user-1", EventID: 1,
		ExpiresAt: env.now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	for name, code := range map[string]string{
		"tampered": string(tampered),
		"forged":   forged,
		"garbage":  "not-a-code",
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := env.redemptions.RedeemEntry(ctx, code, "gate-1")
			require.Error(t, err)
			assert.True(t, qrcode.IsRejection(err))
			require.NotNil(t, resp)
			assert.False(t, resp.Valid)
			assert.Equal(t, "invalid code", resp.Message)
		})
	}

	status, err := env.tickets.Status(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, status.EntryStatus)
}

func TestRedemptionService_ExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t)
	ctx := context.Background()

	codes, err := env.tickets.IssueCodes(ctx, ticket.TicketID, "")
	require.NoError(t, err)

	env.now = env.now.Add(2 * time.Hour)

	resp, err := env.redemptions.RedeemEntry(ctx, codes.EntryCode, "gate-1")
	assert.ErrorIs(t, err, apperrors.ErrExpired)
	assert.Equal(t, "invalid code", resp.Message)
}

func TestRedemptionService_CodeTypeAndOwnerMismatch(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 2)
	ctx := context.Background()

	codes, err := env.tickets.IssueCodes(ctx, ticket.TicketID, "")
	require.NoError(t, err)

	_, err = env.redemptions.RedeemConsumption(ctx, codes.EntryCode, 1, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrCodeMismatch)

	consumption := codes.Consumptions[ticket.Consumptions[0].ID]
	_, err = env.redemptions.RedeemEntry(ctx, consumption, "gate-1")
	assert.ErrorIs(t, err, apperrors.ErrCodeMismatch)

	stolen, err := env.codec.Encode(qrcode.Payload{
		Type: qrcode.TypeEntry, TicketID: ticket.TicketID, UserID: "someone-else", EventID: 1,
		ExpiresAt: env.now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	resp, err := env.redemptions.RedeemEntry(ctx, stolen, "gate-1")
	assert.ErrorIs(t, err, apperrors.ErrCodeMismatch)
	assert.Equal(t, "invalid code", resp.Message)
}

func TestRedemptionService_ConsumptionUntilFullyRedeemed(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t, 3)
	detailID := ticket.Consumptions[0].ID
	ctx := context.Background()

	codes, err := env.tickets.IssueCodes(ctx, ticket.TicketID, detailID)
	require.NoError(t, err)
	assert.Empty(t, codes.EntryCode)
	code := codes.Consumptions[detailID]
	require.NotEmpty(t, code)

	resp, err := env.redemptions.RedeemConsumption(ctx, code, 2, "bar-1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 2, resp.QuantityRedeemed)
	assert.Equal(t, 1, resp.RemainingQuantity)

	resp, err = env.redemptions.RedeemConsumption(ctx, code, 2, "bar-1")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientRemaining)
	assert.False(t, resp.Valid)
	assert.Equal(t, 1, resp.RemainingQuantity)

	_, err = env.redemptions.RedeemConsumption(ctx, code, 1, "bar-1")
	require.NoError(t, err)
	assert.Zero(t, env.publisher.count(models.EventTicketFullyRedeemed), "entry is still unused")

	_, err = env.redemptions.RedeemEntry(ctx, mustEntryCode(t, env, ticket.TicketID), "gate-1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.publisher.count(models.EventTicketFullyRedeemed))

	status, err := env.tickets.Status(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "FULLY_REDEEMED", status.State)
}

func TestRedemptionService_SearchFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.registerTicket(t)
	ctx := context.Background()

	_, err := env.ledger.RedeemEntry(ctx, ticket.TicketID, "gate-7")
	require.NoError(t, err)

	result, err := env.redemptions.SearchRecords(ctx, repository.RecordFilter{OperatorID: "gate-7"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
	assert.Equal(t, ticket.TicketID, result.Records[0].TicketID)

	result, err = env.redemptions.SearchRecords(ctx, repository.RecordFilter{OperatorID: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.NotNil(t, result.Records)
}

func mustEntryCode(t *testing.T, env *testEnv, ticketID string) string {
	t.Helper()
	codes, err := env.tickets.IssueCodes(context.Background(), ticketID, "")
	require.NoError(t, err)
	return codes.EntryCode
}

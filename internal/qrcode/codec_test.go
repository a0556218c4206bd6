package qrcode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "passgate/internal/errors"
)

var fixedNow = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func testCodec() *Codec {
	return NewCodec("test-secret").WithClock(func() time.Time { return fixedNow })
}

func entryPayload() Payload {
	return Payload{
		Type:      TypeEntry,
		TicketID:  "6f1c2a0e-8d55-4b8e-9a1e-3c0f2b7d9a11",
		UserID:    "user-42",
		EventID:   7,
		ExpiresAt: fixedNow.Add(time.Hour).Unix(),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := testCodec()

	payloads := []Payload{
		entryPayload(),
		{
			Type:      TypeConsumption,
			TicketID:  "t-1",
			DetailID:  "d-1",
			UserID:    "u-1",
			EventID:   1,
			ExpiresAt: fixedNow.Add(time.Second).Unix(),
		},
	}

	for _, p := range payloads {
		code, err := c.Encode(p)
		require.NoError(t, err)

		got, err := c.Decode(code)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestCodec_DeterministicEncoding(t *testing.T) {
	c := testCodec()
	a, err := c.Encode(entryPayload())
	require.NoError(t, err)
	b, err := c.Encode(entryPayload())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCodec_ExpiredWithValidSignature(t *testing.T) {
	c := testCodec()
	code, err := c.Encode(entryPayload())
	require.NoError(t, err)

	later := c.WithClock(func() time.Time { return fixedNow.Add(2 * time.Hour) })
	_, err = later.Decode(code)
	assert.ErrorIs(t, err, apperrors.ErrExpired)

	atExpiry := c.WithClock(func() time.Time { return time.Unix(entryPayload().ExpiresAt, 0) })
	_, err = atExpiry.Decode(code)
	assert.ErrorIs(t, err, apperrors.ErrExpired)
}

func TestCodec_SingleBitMutations(t *testing.T) {
	c := testCodec()
	code, err := c.Encode(entryPayload())
	require.NoError(t, err)

	for i := 0; i < len(code); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(code)
			mutated[i] ^= 1 << bit

			_, err := c.Decode(string(mutated))
			require.Error(t, err, "byte %d bit %d", i, bit)
			assert.Truef(t,
				errorsIsAny(err, apperrors.ErrSignatureInvalid, apperrors.ErrMalformed),
				"byte %d bit %d: unexpected error %v", i, bit, err)
		}
	}
}

func TestCodec_WrongSecret(t *testing.T) {
	code, err := testCodec().Encode(entryPayload())
	require.NoError(t, err)

	other := NewCodec("another-secret").WithClock(func() time.Time { return fixedNow })
	_, err = other.Decode(code)
	assert.ErrorIs(t, err, apperrors.ErrSignatureInvalid)
}

func TestCodec_Malformed(t *testing.T) {
	c := testCodec()
	for _, code := range []string{"", ".", "abc", "a.b.c", "!!!.???", "e30."} {
		_, err := c.Decode(code)
		assert.ErrorIs(t, err, apperrors.ErrMalformed, "code %q", code)
	}
}

func TestCodec_EncodeRejectsInvalidPayload(t *testing.T) {
	c := testCodec()

	p := entryPayload()
	p.DetailID = "d-1"
	_, err := c.Encode(p)
	assert.ErrorIs(t, err, apperrors.ErrMalformed)

	p = entryPayload()
	p.Type = TypeConsumption
	_, err = c.Encode(p)
	assert.ErrorIs(t, err, apperrors.ErrMalformed)

	p = entryPayload()
	p.Type = "VIP"
	_, err = c.Encode(p)
	assert.ErrorIs(t, err, apperrors.ErrMalformed)
}

func TestCodec_ConcurrentDecode(t *testing.T) {
	c := testCodec()
	code, err := c.Encode(entryPayload())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Decode(code)
			assert.NoError(t, err)
			assert.Equal(t, entryPayload(), p)
		}()
	}
	wg.Wait()
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(apperrors.ErrExpired))
	assert.True(t, IsRejection(apperrors.ErrMalformed))
	assert.True(t, IsRejection(apperrors.ErrSignatureInvalid))
	assert.False(t, IsRejection(apperrors.ErrTicketNotFound))
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

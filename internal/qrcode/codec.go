// Package qrcode signs and verifies the payload embedded in ticket QR codes.
package qrcode

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "passgate/internal/errors"
)

// Payload types
const (
	TypeEntry       = "ENTRY"
	TypeConsumption = "CONSUMPTION"
)

// Payload identifies the ticket or consumption detail a code grants access to.
// Field order is the serialization order and must not change.
type Payload struct {
	Type      string `json:"t"`
	TicketID  string `json:"tid"`
	DetailID  string `json:"did,omitempty"`
	UserID    string `json:"uid"`
	EventID   int64  `json:"eid"`
	ExpiresAt int64  `json:"exp"`
}

var encoding = base64.RawURLEncoding.Strict()

// Codec encodes and decodes signed payloads. It is safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec keyed by secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// WithClock returns a copy of c reading time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

// Encode serializes and signs p.
func (c *Codec) Encode(p Payload) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	return encoding.EncodeToString(raw) + "." + encoding.EncodeToString(c.sign(raw)), nil
}

// Decode verifies code and returns its payload.
//
// Structure is checked first, then the signature, then expiry: a stale but
// genuine code yields ErrExpired, any tampering yields ErrSignatureInvalid or
// ErrMalformed.
func (c *Codec) Decode(code string) (Payload, error) {
	parts := strings.Split(code, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Payload{}, apperrors.ErrMalformed
	}

	raw, err := encoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, apperrors.ErrMalformed
	}
	mac, err := encoding.DecodeString(parts[1])
	if err != nil {
		return Payload{}, apperrors.ErrMalformed
	}

	if !hmac.Equal(mac, c.sign(raw)) {
		return Payload{}, apperrors.ErrSignatureInvalid
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, apperrors.ErrMalformed
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}

	if c.now().Unix() >= p.ExpiresAt {
		return p, apperrors.ErrExpired
	}

	return p, nil
}

func (c *Codec) sign(raw []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(raw)
	return h.Sum(nil)
}

func (p Payload) validate() error {
	switch p.Type {
	case TypeEntry:
		if p.DetailID != "" {
			return fmt.Errorf("%w: entry code with detail id", apperrors.ErrMalformed)
		}
	case TypeConsumption:
		if p.DetailID == "" {
			return fmt.Errorf("%w: consumption code without detail id", apperrors.ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", apperrors.ErrMalformed, p.Type)
	}
	if p.TicketID == "" || p.ExpiresAt <= 0 {
		return fmt.Errorf("%w: missing ticket id or expiry", apperrors.ErrMalformed)
	}
	return nil
}

// IsRejection reports whether err is one of the codec's validity rejections.
func IsRejection(err error) bool {
	return errors.Is(err, apperrors.ErrMalformed) ||
		errors.Is(err, apperrors.ErrSignatureInvalid) ||
		errors.Is(err, apperrors.ErrExpired)
}

package errors

import "errors"

var ErrUnauthorized = errors.New("user is not authorized")
var ErrForbidden = errors.New("operation is forbidden for user")

// Redemption
var (
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrTicketExists          = errors.New("ticket already registered")
	ErrInvalidTicketID       = errors.New("ticket id must be a UUID")
	ErrDetailNotFound        = errors.New("consumption detail not found")
	ErrAlreadyRedeemed       = errors.New("ticket already redeemed")
	ErrInsufficientRemaining = errors.New("insufficient remaining quantity")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrInactive              = errors.New("ticket is not active")
	ErrNotInvalidatable      = errors.New("ticket has redemptions and cannot be invalidated")

	// ErrVersionConflict is returned by stores when a compare-and-swap lost a race.
	ErrVersionConflict = errors.New("concurrent modification")
)

// QR codes
var (
	ErrMalformed        = errors.New("malformed code")
	ErrSignatureInvalid = errors.New("code signature invalid")
	ErrExpired          = errors.New("code expired")
	ErrCodeMismatch     = errors.New("code does not match ticket")
)

// Checkout
var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrEventUnavailable  = errors.New("event unavailable")
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrSessionTerminal   = errors.New("checkout session is closed")
	ErrGroupNotFound     = errors.New("payment group not found")
	ErrAlreadyTerminal   = errors.New("payment group already terminal")
	ErrGroupNotRetryable = errors.New("payment group is not in a retryable state")
	ErrTooManyAttempts   = errors.New("payment attempts exhausted")
)

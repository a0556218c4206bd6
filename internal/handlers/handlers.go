package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
	"passgate/internal/middleware"
	"passgate/internal/models"
	"passgate/internal/service"
)

// PaymentGateway is the part of the payment client the HTTP layer needs:
// pull reconciliation on return URLs and webhook sender checks.
type PaymentGateway interface {
	CheckPayment(ctx context.Context, orderRef string) (*models.PaymentState, error)
	VerifyTeamSlug(slug string) bool
}

type Handlers struct {
	services *service.Services
	gateway  PaymentGateway
}

func NewHandlers(services *service.Services, gateway PaymentGateway) *Handlers {
	return &Handlers{
		services: services,
		gateway:  gateway,
	}
}

// statusFor переводит доменную ошибку в HTTP статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrTicketNotFound),
		errors.Is(err, apperrors.ErrDetailNotFound),
		errors.Is(err, apperrors.ErrSessionNotFound),
		errors.Is(err, apperrors.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAlreadyRedeemed),
		errors.Is(err, apperrors.ErrInsufficientRemaining),
		errors.Is(err, apperrors.ErrInactive),
		errors.Is(err, apperrors.ErrNotInvalidatable),
		errors.Is(err, apperrors.ErrTicketExists),
		errors.Is(err, apperrors.ErrEventUnavailable),
		errors.Is(err, apperrors.ErrSessionTerminal),
		errors.Is(err, apperrors.ErrGroupNotRetryable),
		errors.Is(err, apperrors.ErrTooManyAttempts):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInvalidQuantity),
		errors.Is(err, apperrors.ErrMalformed),
		errors.Is(err, apperrors.ErrSignatureInvalid),
		errors.Is(err, apperrors.ErrExpired),
		errors.Is(err, apperrors.ErrCodeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrEmptyCart),
		errors.Is(err, apperrors.ErrInvalidPrice),
		errors.Is(err, apperrors.ErrInvalidTicketID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ответ об ошибке; детали внутренних ошибок остаются в логах
func writeError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error(msg, "error", err)
		c.Error(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// currentUser returns the authenticated user id or writes 401
func currentUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return userID, true
}

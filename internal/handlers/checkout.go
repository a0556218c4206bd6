package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"passgate/internal/auth"
	"passgate/internal/middleware"
	"passgate/internal/models"
)

// CreateSession - POST /api/checkout/sessions
// Создать checkout-сессию из корзины
func (h *Handlers) CreateSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.services.Checkout.CreateSession(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err, "Failed to create checkout session")
		return
	}

	c.JSON(http.StatusCreated, view)
}

// GetSession - GET /api/checkout/sessions/:id
// Состояние сессии, пересчитанное на момент запроса
func (h *Handlers) GetSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.services.Checkout.GetSessionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to get checkout session")
		return
	}

	if view.UserID != userID && !middleware.HasRole(c, auth.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// CancelSession - PATCH /api/checkout/sessions/:id/cancel
// Отмена сессии владельцем
func (h *Handlers) CancelSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.services.Checkout.CancelSession(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err, "Failed to cancel checkout session")
		return
	}

	c.JSON(http.StatusOK, view)
}

// RetryGroupPayment - POST /api/checkout/sessions/:id/groups/:groupId/retry
// Повторная оплата группы после отказа
func (h *Handlers) RetryGroupPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	// Тело необязательно
	var req models.RetryPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.services.Checkout.RetryGroupPayment(c.Request.Context(), c.Param("id"), c.Param("groupId"), userID, req.Payer)
	if err != nil {
		writeError(c, err, "Failed to retry payment")
		return
	}

	c.JSON(http.StatusOK, view)
}

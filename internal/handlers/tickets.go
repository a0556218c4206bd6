package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"passgate/internal/auth"
	"passgate/internal/middleware"
	"passgate/internal/models"
)

// RegisterTicket - POST /api/tickets
// Зарегистрировать выпущенный билет
func (h *Handlers) RegisterTicket(c *gin.Context) {
	var req models.RegisterTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.services.Tickets.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Failed to register ticket")
		return
	}

	c.JSON(http.StatusCreated, view)
}

// GetTicket - GET /api/tickets/:id
// Состояние погашения билета: владелец или персонал
func (h *Handlers) GetTicket(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.services.Tickets.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to get ticket")
		return
	}

	if view.UserID != userID && !middleware.HasRole(c, auth.RoleOperator, auth.RoleIssuer, auth.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// GetTicketCodes - GET /api/tickets/:id/qr
// Свежие подписанные коды для владельца билета
func (h *Handlers) GetTicketCodes(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ticketID := c.Param("id")
	view, err := h.services.Tickets.Status(c.Request.Context(), ticketID)
	if err != nil {
		writeError(c, err, "Failed to get ticket")
		return
	}
	if view.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	codes, err := h.services.Tickets.IssueCodes(c.Request.Context(), ticketID, c.Query("detail_id"))
	if err != nil {
		writeError(c, err, "Failed to issue codes")
		return
	}

	c.JSON(http.StatusOK, codes)
}

// InvalidateTicket - PATCH /api/tickets/:id/invalidate
// Аннулировать неиспользованный билет
func (h *Handlers) InvalidateTicket(c *gin.Context) {
	view, err := h.services.Tickets.Invalidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to invalidate ticket")
		return
	}

	c.JSON(http.StatusOK, view)
}

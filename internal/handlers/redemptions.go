package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"passgate/internal/models"
	"passgate/internal/repository"
)

// RedeemEntry - POST /api/redemptions/entry
// Проход по билету
func (h *Handlers) RedeemEntry(c *gin.Context) {
	operatorID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.RedeemEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.Redemptions.RedeemEntry(c.Request.Context(), req.Code, operatorID)
	if err != nil {
		if resp != nil {
			c.JSON(statusFor(err), resp)
			return
		}
		writeError(c, err, "Failed to redeem entry")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RedeemConsumption - POST /api/redemptions/consumption
// Погашение консумации
func (h *Handlers) RedeemConsumption(c *gin.Context) {
	operatorID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.RedeemConsumptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.Redemptions.RedeemConsumption(c.Request.Context(), req.Code, req.Quantity, operatorID)
	if err != nil {
		if resp != nil {
			c.JSON(statusFor(err), resp)
			return
		}
		writeError(c, err, "Failed to redeem consumption")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SearchRedemptions - GET /api/redemptions
// Журнал погашений
func (h *Handlers) SearchRedemptions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	if page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be >= 1"})
		return
	}

	if pageSize < 1 || pageSize > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be between 1 and 100"})
		return
	}

	filter := repository.RecordFilter{
		TicketID:   c.Query("ticket_id"),
		OperatorID: c.Query("operator_id"),
		Page:       page,
		PageSize:   pageSize,
	}

	result, err := h.services.Redemptions.SearchRecords(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, "Failed to search redemptions")
		return
	}

	c.JSON(http.StatusOK, result)
}

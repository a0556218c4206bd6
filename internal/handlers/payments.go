package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "passgate/internal/errors"
	"passgate/internal/external"
	"passgate/internal/logger"
	"passgate/internal/models"
)

// Payments handlers

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	var notification models.PaymentNotificationPayload
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.gateway != nil && !h.gateway.VerifyTeamSlug(notification.TeamSlug) {
		logger.WithContext(c.Request.Context()).Warn("Payment notification from unknown merchant",
			"team_slug", notification.TeamSlug, "order_id", notification.OrderRef())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderRef := notification.OrderRef()
	if orderRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	// Уведомления шлюза не подписаны: статус из тела только логируем,
	// а применяем тот, что вернул CheckPayment
	logger.WithContext(c.Request.Context()).Info("Payment notification received",
		"order_id", orderRef, "payment_id", notification.PaymentID, "status", notification.Status)

	h.applyGatewayStatus(c, orderRef, notification.Status)
}

// NotifyPaymentCompleted - GET /api/payments/success
// Возврат покупателя после оплаты: статус берется у шлюза, а не из URL
func (h *Handlers) NotifyPaymentCompleted(c *gin.Context) {
	h.reconcileFromGateway(c)
}

// NotifyPaymentFailed - GET /api/payments/fail
// Возврат покупателя после неуспешной оплаты
func (h *Handlers) NotifyPaymentFailed(c *gin.Context) {
	h.reconcileFromGateway(c)
}

func (h *Handlers) reconcileFromGateway(c *gin.Context) {
	orderRef := c.Query("orderId")
	if orderRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	h.applyGatewayStatus(c, orderRef, "")
}

// applyGatewayStatus asks the gateway for the authoritative payment state of
// orderRef and feeds it to the reconciler. claimed is the status the caller
// reported, if any; it is only compared for logging.
func (h *Handlers) applyGatewayStatus(c *gin.Context, orderRef, claimed string) {
	log := logger.WithContext(c.Request.Context())

	if h.gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway is not configured"})
		return
	}

	state, err := h.gateway.CheckPayment(c.Request.Context(), orderRef)
	if err != nil {
		log.Error("Failed to check payment", "error", err, "order_id", orderRef)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to check payment"})
		return
	}

	status := external.ParseProviderStatus(state.Status)
	if claimed != "" && external.ParseProviderStatus(claimed) != status {
		log.Warn("Notification status differs from gateway state",
			"order_id", orderRef, "claimed", claimed, "gateway_status", state.Status)
	}

	// неизвестный статус подтверждаем без изменений, иначе шлюз будет повторять доставку
	if status == "" {
		log.Warn("Unknown payment status acknowledged without changes", "order_id", orderRef, "status", state.Status)
		status = models.ProviderPending
	}

	view, err := h.services.Reconciler.ApplyCallback(c.Request.Context(), orderRef, status, state.ProviderPaymentID)
	if err != nil {
		// Повторное уведомление по закрытой группе подтверждаем
		if errors.Is(err, apperrors.ErrAlreadyTerminal) {
			c.JSON(http.StatusOK, view)
			return
		}
		writeError(c, err, "Failed to apply payment status")
		return
	}

	c.JSON(http.StatusOK, view)
}

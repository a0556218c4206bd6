package handlers

import (
	"github.com/gin-gonic/gin"

	"passgate/internal/auth"
	"passgate/internal/middleware"
)

// RegisterRoutes вешает API на router
func (h *Handlers) RegisterRoutes(router gin.IRouter, validator auth.TokenValidator) {
	api := router.Group("/api")

	// Уведомления шлюза и return URL приходят без JWT
	payments := api.Group("/payments")
	{
		payments.GET("/success", h.NotifyPaymentCompleted)
		payments.GET("/fail", h.NotifyPaymentFailed)
		payments.POST("/notifications", h.OnPaymentUpdates)
	}

	secured := api.Group("")
	secured.Use(middleware.BearerAuth(validator))
	{
		redemptions := secured.Group("/redemptions")
		redemptions.Use(middleware.RequireRole(auth.RoleOperator, auth.RoleAdmin))
		{
			redemptions.POST("/entry", h.RedeemEntry)
			redemptions.POST("/consumption", h.RedeemConsumption)
			redemptions.GET("", h.SearchRedemptions)
		}

		tickets := secured.Group("/tickets")
		{
			tickets.POST("", middleware.RequireRole(auth.RoleIssuer, auth.RoleAdmin), h.RegisterTicket)
			tickets.GET("/:id", h.GetTicket)
			tickets.GET("/:id/qr", h.GetTicketCodes)
			tickets.PATCH("/:id/invalidate", middleware.RequireRole(auth.RoleAdmin), h.InvalidateTicket)
		}

		sessions := secured.Group("/checkout/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("/:id", h.GetSession)
			sessions.PATCH("/:id/cancel", h.CancelSession)
			sessions.POST("/:id/groups/:groupId/retry", h.RetryGroupPayment)
		}
	}
}

package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/httpapi"
	"crm-dialer/pkg/logger"
)

const maxWebhookBody = 64 << 10

// Handlers serves /api/stripe. Checkout and status expect the CRM token;
// the webhook is authenticated by its Stripe signature instead.
type Handlers struct {
	Service *Service
}

func (h Handlers) Register(authed, public *gin.RouterGroup) {
	authed.POST("/create-checkout-session", h.CreateCheckoutSession)
	authed.GET("/session-status", h.SessionStatus)
	public.POST("/webhook", h.Webhook)
}

func (h Handlers) CreateCheckoutSession(c *gin.Context) {
	var in CheckoutInput
	if !httpapi.Bind(c, &in) {
		return
	}
	id, err := h.Service.CreateCheckout(c.Request.Context(), auth.TokenFromGin(c), in)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			httpapi.Fail(c, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.ServerError(c, "create checkout session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h Handlers) SessionStatus(c *gin.Context) {
	st, err := h.Service.SessionStatus(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			httpapi.Fail(c, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.ServerError(c, "checkout session status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		httpapi.Fail(c, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			logger.FromGin(c).Warn("stripe webhook rejected", "error", err)
			httpapi.Fail(c, http.StatusBadRequest, "invalid signature")
			return
		}
		httpapi.ServerError(c, "stripe webhook", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crm-dialer/internal/auth"
	"crm-dialer/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, gatherer prometheus.Gatherer) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	requireToken := auth.RequireCRMToken()

	// Provider webhooks. Twilio signs them with the subaccount token.
	{
		hooks := api.Group("")
		if a.cfg.Twilio.ValidateSignatures {
			hooks.Use(a.signatures.Middleware())
		}
		a.voice.Register(hooks)
	}

	// Browser device registration and presence.
	a.devices.Register(api.Group("", requireToken))

	a.callConfig.Register(api.Group("/config", requireToken))
	a.provisioning.Register(api.Group("/dialer", requireToken))

	{
		stripe := api.Group("/stripe")
		a.payments.Register(stripe.Group("", requireToken), stripe)
	}

	{
		telnyx := api.Group("/telnyx")
		telnyx.POST("/loginToken", a.telnyx.LoginToken)
		telnyx.GET("/callLogs", requireToken, a.telnyx.CallLogs)
	}
}

package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/reconcile"
	"crm-dialer/internal/routing"
	"crm-dialer/pkg/logger"
)

type Router interface {
	Decide(ctx context.Context, in routing.Input) routing.Decision
}

type Reconciler interface {
	Submit(ctx context.Context, ev calls.StatusEvent) (reconcile.SubmitResult, error)
}

type WebhookMetrics interface {
	ObserveWebhook(status, result string)
}

// VoiceHandlers serves the Twilio-facing webhooks. None of them do provider
// I/O in the request path; reconciliation is scheduled and answered at once.
type VoiceHandlers struct {
	Router     Router
	Reconciler Reconciler
	Metrics    WebhookMetrics
	Now        func() time.Time
}

func (h VoiceHandlers) Register(g *gin.RouterGroup) {
	g.POST("/voice", h.Voice)
	g.POST("/webhook", h.Status)
	g.POST("/recordingCallback", h.Recording)
}

// Voice answers POST /api/voice with TwiML.
func (h VoiceHandlers) Voice(c *gin.Context) {
	log := logger.FromGin(c)

	in, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "error", err)
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	d := h.Router.Decide(c.Request.Context(), in)

	twiml, err := RenderTwiML(d)
	if err != nil {
		log.Error("twiml render failed", "branch", string(d.Branch), "error", err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

// Status answers POST /api/webhook. It always returns 200 so the provider
// does not redeliver; failures are only logged.
func (h VoiceHandlers) Status(c *gin.Context) {
	log := logger.FromGin(c)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	ev, err := ParseStatusCallback(c.Request, now())
	if err != nil {
		log.Warn("status callback rejected", "error", err)
		h.observe(string(ev.Status), "invalid")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook received"})
		return
	}

	log = log.With("call_sid", ev.CallSid, "status", string(ev.Status))
	res, err := h.Reconciler.Submit(c.Request.Context(), ev)
	switch {
	case err != nil:
		log.Error("reconcile submit failed", "error", err)
		h.observe(string(ev.Status), "error")
	default:
		log.Info("status callback accepted", "task_id", res.TaskID, "result", res.Reason)
		h.observe(string(ev.Status), res.Reason)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook received"})
}

// Recording answers POST /api/recordingCallback.
func (h VoiceHandlers) Recording(c *gin.Context) {
	ev, err := ParseRecordingCallback(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	logger.FromGin(c).Info("recording callback",
		"call_sid", ev.CallSid,
		"recording_sid", ev.RecordingSid,
		"recording_status", ev.RecordingStatus,
		"duration", ev.DurationSeconds,
	)
	c.Status(http.StatusOK)
}

func (h VoiceHandlers) observe(status, result string) {
	if h.Metrics != nil {
		h.Metrics.ObserveWebhook(status, result)
	}
}

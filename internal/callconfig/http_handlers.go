package callconfig

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/httpapi"
)

// Handlers exposes the /api/config routes. All of them sit behind
// auth.RequireCRMToken.
type Handlers struct {
	Service *Service
}

func (h Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.GetConfig)
	g.PUT("/plan", h.SetPlan)
	g.POST("/addCallForwarding", h.AddCallForwarding)
	g.POST("/addMissedCallAction", h.AddMissedCallAction)
	g.POST("/callForwarding", h.GetCallForwarding)
	g.POST("/missedCallAction", h.GetMissedCallAction)
	g.PUT("/updateCallForwarding/:id", h.UpdateCallForwarding)
	g.PUT("/updateMissedCallAction/:id", h.UpdateMissedCallAction)
	g.DELETE("/deleteCallForwarding/:id", h.DeleteCallForwarding)
	g.DELETE("/deleteMissedCallAction/:id", h.DeleteMissedCallAction)
}

// writeErr maps service errors; notFound is the tenant-facing 404 message.
func writeErr(c *gin.Context, op, notFound string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpapi.Fail(c, http.StatusNotFound, notFound)
	case errors.Is(err, ErrInvalidArgument):
		httpapi.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicate):
		httpapi.Fail(c, http.StatusConflict, "Number already configured by another account")
	default:
		httpapi.ServerError(c, op, err)
	}
}

func createdOrOK(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h Handlers) AddCallForwarding(c *gin.Context) {
	var in ForwardingInput
	if !httpapi.Bind(c, &in) {
		return
	}
	rule, created, err := h.Service.SetupForwarding(c.Request.Context(), auth.TokenFromGin(c), in)
	if err != nil {
		writeErr(c, "setup call forwarding", "Call forwarding not found", err)
		return
	}
	httpapi.OK(c, createdOrOK(created), "Call forwarding setuped", rule)
}

func (h Handlers) AddMissedCallAction(c *gin.Context) {
	var in ActionPatch
	if !httpapi.Bind(c, &in) {
		return
	}
	a, created, err := h.Service.SetupMissedCallAction(c.Request.Context(), auth.TokenFromGin(c), in)
	if err != nil {
		writeErr(c, "setup missed call action", "action not found", err)
		return
	}
	msg := "MissedCallAction updated"
	if created {
		msg = "MissedCallAction created"
	}
	httpapi.OK(c, createdOrOK(created), msg, a)
}

func (h Handlers) GetCallForwarding(c *gin.Context) {
	var in struct {
		ForwardedNumber string `json:"forwardedNumber" form:"forwardedNumber"`
	}
	if !httpapi.Bind(c, &in) {
		return
	}
	rule, err := h.Service.GetForwarding(c.Request.Context(), auth.TokenFromGin(c), in.ForwardedNumber)
	if err != nil {
		writeErr(c, "get call forwarding", "Call forwarding not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Call forwarding found", rule)
}

func (h Handlers) GetMissedCallAction(c *gin.Context) {
	var in struct {
		ApplyNumber string `json:"applyNumber" form:"applyNumber"`
	}
	if !httpapi.Bind(c, &in) {
		return
	}
	a, err := h.Service.GetMissedCallAction(c.Request.Context(), auth.TokenFromGin(c), in.ApplyNumber)
	if err != nil {
		writeErr(c, "get missed call action", "action not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Found", a)
}

func (h Handlers) UpdateCallForwarding(c *gin.Context) {
	var in ForwardingInput
	if !httpapi.Bind(c, &in) {
		return
	}
	rule, err := h.Service.EditForwarding(c.Request.Context(), auth.TokenFromGin(c), c.Param("id"), in.IsEnabled, in.ToPhoneNumber)
	if err != nil {
		writeErr(c, "edit call forwarding", "Call forwarding not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Call forwarding updated", rule)
}

func (h Handlers) UpdateMissedCallAction(c *gin.Context) {
	var in ActionPatch
	if !httpapi.Bind(c, &in) {
		return
	}
	a, err := h.Service.EditMissedCallAction(c.Request.Context(), auth.TokenFromGin(c), c.Param("id"), in)
	if err != nil {
		writeErr(c, "edit missed call action", "Not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Action updated", a)
}

func (h Handlers) DeleteCallForwarding(c *gin.Context) {
	if err := h.Service.DeleteForwarding(c.Request.Context(), auth.TokenFromGin(c), c.Param("id")); err != nil {
		writeErr(c, "delete call forwarding", "Call forwarding not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Call forwarding deleted", nil)
}

func (h Handlers) DeleteMissedCallAction(c *gin.Context) {
	if err := h.Service.DeleteMissedCallAction(c.Request.Context(), auth.TokenFromGin(c), c.Param("id")); err != nil {
		writeErr(c, "delete missed call action", "Missed call action not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Missed call action deleted", nil)
}

func (h Handlers) GetConfig(c *gin.Context) {
	tc, err := h.Service.TenantConfig(c.Request.Context(), auth.TokenFromGin(c))
	if err != nil {
		writeErr(c, "get tenant config", "Config not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Config found", tc)
}

func (h Handlers) SetPlan(c *gin.Context) {
	var in struct {
		PlanTier PlanTier `json:"planTier" form:"planTier"`
	}
	if !httpapi.Bind(c, &in) {
		return
	}
	if err := h.Service.SetPlanTier(c.Request.Context(), auth.TokenFromGin(c), in.PlanTier); err != nil {
		writeErr(c, "set plan tier", "Config not found", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Plan updated", gin.H{"planTier": in.PlanTier})
}

package devices

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/httpapi"
)

type Handlers struct {
	Service *Service
}

// Register mounts the device routes. g must carry the CRM token middleware:
// a token request stores provider API credentials against a number.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.POST("/token", h.Token)
	g.PUT("/devices/presence", h.SetPresence)
}

// Token handles POST /api/token.
func (h Handlers) Token(c *gin.Context) {
	var req TokenRequest
	if !httpapi.Bind(c, &req) {
		return
	}
	d, err := h.Service.IssueToken(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			httpapi.Fail(c, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.ServerError(c, "token generation", err)
		return
	}
	httpapi.With(c, http.StatusOK, "Token Generated", gin.H{"identity": d.Identity, "token": d.Token})
}

type presenceRequest struct {
	CallerID string   `json:"callerId" form:"callerId"`
	Status   Presence `json:"status" form:"status"`
	Message  string   `json:"message" form:"message"`
}

// SetPresence handles PUT /api/devices/presence.
func (h Handlers) SetPresence(c *gin.Context) {
	var req presenceRequest
	if !httpapi.Bind(c, &req) {
		return
	}
	d, err := h.Service.SetPresence(c.Request.Context(), auth.TokenFromGin(c), req.CallerID, req.Status, req.Message)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httpapi.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		httpapi.Fail(c, http.StatusNotFound, "Device not found")
	case err != nil:
		httpapi.ServerError(c, "set presence", err)
	default:
		httpapi.OK(c, http.StatusOK, "Presence updated", d)
	}
}

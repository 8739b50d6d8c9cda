package telephony

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/httpapi"
	"crm-dialer/pkg/httpclient"
)

// ProviderDirectory resolves the voice provider registered for a tenant number.
type ProviderDirectory interface {
	GetProviderDetails(ctx context.Context, tenantToken, providerNumber string) (crmapi.ProviderDetails, error)
}

const providerTelnyx = "telnyx"

// TelnyxHandlers serves /api/telnyx. Telnyx stores the API key in the
// provider's account token and the connection id in its TwiML app sid slot.
type TelnyxHandlers struct {
	Directory ProviderDirectory
	Client    *TelnyxClient
}

func (h TelnyxHandlers) details(c *gin.Context, crmToken, providerNumber string) (crmapi.ProviderDetails, bool) {
	d, err := h.Directory.GetProviderDetails(c.Request.Context(), crmToken, providerNumber)
	switch {
	case errors.Is(err, crmapi.ErrNotFound) || httpclient.IsNotFound(err):
	case err != nil:
		httpapi.ServerError(c, "fetch provider details", err)
		return crmapi.ProviderDetails{}, false
	case d.ProviderName == providerTelnyx:
		return d, true
	}
	httpapi.Fail(c, http.StatusNotFound, "Provider details not found")
	return crmapi.ProviderDetails{}, false
}

// LoginToken handles POST /api/telnyx/loginToken.
func (h TelnyxHandlers) LoginToken(c *gin.Context) {
	var in struct {
		CRMToken       string `json:"crmToken" form:"crmToken"`
		ProviderNumber string `json:"providerNumber" form:"providerNumber"`
	}
	if !httpapi.Bind(c, &in) {
		return
	}
	d, ok := h.details(c, in.CRMToken, in.ProviderNumber)
	if !ok {
		return
	}
	tok, err := h.Client.LoginToken(c.Request.Context(), d.AccountToken, d.TwimlAppSid)
	switch {
	case errors.Is(err, ErrTelnyxNotFound):
		httpapi.Fail(c, http.StatusNotFound, "Telnyx details not found")
	case err != nil:
		httpapi.ServerError(c, "telnyx login token", err)
	case tok == "":
		httpapi.Fail(c, http.StatusConflict, "Telnyx token not generated")
	default:
		httpapi.With(c, http.StatusOK, "Token generated", gin.H{"token": tok})
	}
}

// CallLogs handles GET /api/telnyx/callLogs.
func (h TelnyxHandlers) CallLogs(c *gin.Context) {
	voice := c.Query("voiceNumber")
	if voice == "" {
		httpapi.Fail(c, http.StatusBadRequest, "voiceNumber query parameter is required")
		return
	}
	d, ok := h.details(c, auth.TokenFromGin(c), voice)
	if !ok {
		return
	}
	logs, err := h.Client.CallLogs(c.Request.Context(), d.AccountToken, TelnyxLogQuery{
		ConnectionID: d.TwimlAppSid,
		VoiceNumber:  voice,
		ToNumber:     c.Query("toNumber"),
		Page:         intQuery(c, "currentPage", 1),
		PageSize:     intQuery(c, "pageLimit", 10),
	})
	if err != nil {
		httpapi.ServerError(c, "telnyx call logs", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Calls found", logs)
}

func intQuery(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

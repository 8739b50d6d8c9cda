package provisioning

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crm-dialer/internal/auth"
	"crm-dialer/internal/httpapi"
	"crm-dialer/internal/reporting"
)

// Handlers exposes the /api/dialer routes behind auth.RequireCRMToken.
type Handlers struct {
	Service *Service
}

func (h Handlers) Register(g *gin.RouterGroup) {
	g.POST("/searchNumbers", h.SearchNumbers)
	g.POST("/purchaseNumber", h.PurchaseNumber)
	g.GET("/purchasedNumbers", h.PurchasedNumbers)
	g.GET("/callLogs", h.CallLogs)
	g.GET("/callStatistics", h.CallStatistics)
	g.PUT("/assign/:phoneSid", h.Assign)
	g.POST("/closeSubaccount", h.CloseSubaccount)
}

func writeErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpapi.Fail(c, http.StatusNotFound, "Subaccount not found")
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		httpapi.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrValidationFailed):
		httpapi.Fail(c, http.StatusBadRequest, "Failed to verify phone number")
	case errors.Is(err, ErrPurchaseFailed):
		httpapi.Fail(c, http.StatusConflict, "Number not purchased")
	case errors.Is(err, ErrDuplicate):
		httpapi.Fail(c, http.StatusConflict, "Number already purchased")
	default:
		httpapi.ServerError(c, op, err)
	}
}

func (h Handlers) SearchNumbers(c *gin.Context) {
	var in SearchInput
	if !httpapi.Bind(c, &in) {
		return
	}
	nums, err := h.Service.SearchNumbers(c.Request.Context(), in)
	if err != nil {
		writeErr(c, "search numbers", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Searched numbers", nums)
}

func (h Handlers) PurchaseNumber(c *gin.Context) {
	var in PurchaseInput
	if !httpapi.Bind(c, &in) {
		return
	}
	res, err := h.Service.PurchaseNumber(c.Request.Context(), auth.TokenFromGin(c), in)
	if err != nil {
		writeErr(c, "purchase number", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Subaccount and phone number processed successfully", res)
}

func (h Handlers) PurchasedNumbers(c *gin.Context) {
	nums, err := h.Service.PurchasedNumbers(c.Request.Context(), auth.TokenFromGin(c))
	if err != nil {
		writeErr(c, "list purchased numbers", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Purchased numbers retrieved successfully", nums)
}

func (h Handlers) CallLogs(c *gin.Context) {
	q := reporting.LogQuery{
		VoiceNumber: c.Query("voiceNumber"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "pageSize", 10),
	}
	page, err := h.Service.CallLogs(c.Request.Context(), auth.TokenFromGin(c), q)
	if err != nil {
		writeErr(c, "call logs", err)
		return
	}
	httpapi.With(c, http.StatusOK, "Found", gin.H{
		"totalResults":       page.TotalResults,
		"currentPage":        page.CurrentPage,
		"pageLimit":          page.PageLimit,
		"currentPageResults": len(page.Logs),
		"data":               page.Logs,
	})
}

func (h Handlers) CallStatistics(c *gin.Context) {
	stats, err := h.Service.CallStatistics(c.Request.Context(), auth.TokenFromGin(c), c.Query("voiceNumber"))
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			httpapi.Fail(c, http.StatusBadRequest, "voiceNumber query parameter is required")
			return
		}
		writeErr(c, "call statistics", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Calls States found", stats)
}

func (h Handlers) Assign(c *gin.Context) {
	var in struct {
		MemberEmail string `json:"memberEmail" form:"memberEmail"`
	}
	if !httpapi.Bind(c, &in) {
		return
	}
	if err := h.Service.AssignMember(c.Request.Context(), auth.TokenFromGin(c), c.Param("phoneSid"), in.MemberEmail); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.Fail(c, http.StatusNotFound, "Phone number not found")
			return
		}
		writeErr(c, "assign number", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Assigned successfully", nil)
}

func (h Handlers) CloseSubaccount(c *gin.Context) {
	if err := h.Service.CloseSubaccount(c.Request.Context(), auth.TokenFromGin(c)); err != nil {
		writeErr(c, "close subaccount", err)
		return
	}
	httpapi.OK(c, http.StatusOK, "Subaccount closed successfully", nil)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

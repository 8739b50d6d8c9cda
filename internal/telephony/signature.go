package telephony

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"

	"crm-dialer/pkg/logger"
)

const SignatureHeader = "X-Twilio-Signature"

// AuthTokenSource returns the auth token of the account a webhook belongs to.
type AuthTokenSource interface {
	AuthTokenFor(ctx context.Context, accountSid string) (string, error)
}

// SignatureValidator rejects webhooks whose signature does not match. Requests
// are signed with the owning subaccount's token; the master token is tried
// when the subaccount is unknown.
type SignatureValidator struct {
	PublicBaseURL string
	MasterToken   string
	Tokens        AuthTokenSource
}

func (v SignatureValidator) Middleware() gin.HandlerFunc {
	base := strings.TrimRight(v.PublicBaseURL, "/")
	return func(c *gin.Context) {
		sig := c.GetHeader(SignatureHeader)
		if sig == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		params := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			params[k] = c.Request.PostForm.Get(k)
		}

		for _, token := range v.candidates(c) {
			validator := client.NewRequestValidator(token)
			if validator.Validate(fullURL, params, sig) {
				c.Next()
				return
			}
		}
		logger.FromGin(c).Warn("twilio signature mismatch", "path", c.FullPath())
		c.AbortWithStatus(http.StatusForbidden)
	}
}

func (v SignatureValidator) candidates(c *gin.Context) []string {
	var out []string
	if acct := c.Request.PostFormValue("AccountSid"); acct != "" && v.Tokens != nil {
		if tok, err := v.Tokens.AuthTokenFor(c.Request.Context(), acct); err == nil && tok != "" {
			out = append(out, tok)
		}
	}
	if v.MasterToken != "" {
		out = append(out, v.MasterToken)
	}
	return out
}

package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// sign computes X-Twilio-Signature the way Twilio does for form posts.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type tokenDirectory map[string]string

func (d tokenDirectory) AuthTokenFor(_ context.Context, sid string) (string, error) {
	if tok, ok := d[sid]; ok {
		return tok, nil
	}
	return "", errors.New("unknown account")
}

func signedRequest(target string, form url.Values, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	return req
}

func newSignedRouter(v SignatureValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/webhook", v.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestSignatureMiddleware(t *testing.T) {
	r := newSignedRouter(SignatureValidator{PublicBaseURL: "https://dialer.example.com", MasterToken: "master"})
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("/api/webhook", form, sign("master", "https://dialer.example.com/api/webhook", form)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("/api/webhook", form, "bogus"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("/api/webhook", form, ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignatureMiddlewareUsesSubaccountTokenAndQuery(t *testing.T) {
	r := newSignedRouter(SignatureValidator{
		PublicBaseURL: "https://dialer.example.com/",
		MasterToken:   "master",
		Tokens:        tokenDirectory{"AC-sub": "sub-token"},
	})
	target := "/api/webhook?direction=incoming&tenantNumber=%2B15550002222"
	form := url.Values{"CallSid": {"CA-child"}, "AccountSid": {"AC-sub"}, "CallStatus": {"no-answer"}}
	sig := sign("sub-token", "https://dialer.example.com"+target, form)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(target, form, sig))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// the same signature over a URL without the callback hints fails
	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest("/api/webhook", form, sig))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

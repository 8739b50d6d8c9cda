package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialer/internal/auth"
)

func newTestRouter(t *testing.T, tw *fakeTwilio) (*gin.Engine, *MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, repo := newTestService(tw, &fakeProviders{})
	r := gin.New()
	Handlers{Service: svc}.Register(r.Group("/api/dialer", auth.RequireCRMToken()))
	return r, repo
}

type envelope struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	TotalResults int             `json:"totalResults"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestHandlers_PurchaseNumber(t *testing.T) {
	r, _ := newTestRouter(t, &fakeTwilio{bought: boughtNumber()})

	code, env := do(t, r, http.MethodPost, "/api/dialer/purchaseNumber",
		`{"email":"a@b.co","phoneNumber":"+15550001111","paymentStatus":"paid","pricePaid":"1.15"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Subaccount and phone number processed successfully", env.Message)
	assert.JSONEq(t, `{"paymentStatus":"paid","status":"purchased"}`, string(env.Data))
}

func TestHandlers_PurchaseNumberFailures(t *testing.T) {
	r, _ := newTestRouter(t, &fakeTwilio{validateErr: errors.New("nope")})
	code, env := do(t, r, http.MethodPost, "/api/dialer/purchaseNumber", `{"email":"a@b.co","phoneNumber":"+15550001111","pricePaid":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Failed to verify phone number", env.Message)

	r, _ = newTestRouter(t, &fakeTwilio{buyErr: errors.New("gone")})
	code, env = do(t, r, http.MethodPost, "/api/dialer/purchaseNumber", `{"email":"a@b.co","phoneNumber":"+15550001111","pricePaid":1}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Number not purchased", env.Message)
}

func TestHandlers_MissingSubaccount(t *testing.T) {
	r, _ := newTestRouter(t, &fakeTwilio{})
	for _, path := range []string{"/api/dialer/purchasedNumbers", "/api/dialer/callStatistics?voiceNumber=1555"} {
		code, env := do(t, r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.Equal(t, "Subaccount not found", env.Message)
	}
}

func TestHandlers_CallLogsEnvelope(t *testing.T) {
	tw := &fakeTwilio{calls: callsFixture()}
	r, repo := newTestRouter(t, tw)
	require.NoError(t, repo.SaveProvisioning(context.Background(), Subaccount{ID: "s1", Email: "a@b.co", CRMToken: "tok", AccountSid: "AC-sub", Status: SubaccountActive}, true, nil))

	code, env := do(t, r, http.MethodGet, "/api/dialer/callLogs?voiceNumber=15550001111&page=1&pageSize=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Found", env.Message)
	assert.Equal(t, 1, env.TotalResults)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs, 1)

	code, env = do(t, r, http.MethodGet, "/api/dialer/callStatistics", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "voiceNumber query parameter is required", env.Message)
}

func TestHandlers_SearchRequiresCountry(t *testing.T) {
	r, _ := newTestRouter(t, &fakeTwilio{})
	code, _ := do(t, r, http.MethodPost, "/api/dialer/searchNumbers", `{"numberTypes":{"local":true}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

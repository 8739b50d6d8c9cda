package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/crmapi"
)

type staticConfigs struct {
	cfg crmapi.CRMConfig
	err error
}

func (s staticConfigs) GetCRMConfig(context.Context, string) (crmapi.CRMConfig, error) {
	return s.cfg, s.err
}

type fakeZoho struct {
	srv        *httptest.Server
	refreshes  int32
	mu         sync.Mutex
	activities []Activity
	searched   []string
}

func newFakeZoho(t *testing.T) *fakeZoho {
	t.Helper()
	f := &fakeZoho{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.refreshes, 1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/crm/v2/Leads/search", func(w http.ResponseWriter, r *http.Request) {
		f.record("Leads:" + r.URL.Query().Get("phone"))
		if r.Header.Get("Authorization") != "Zoho-oauthtoken access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("phone") == "5550001111" {
			_, _ = w.Write([]byte(`{"data":[{"id":"L1"},{"id":"L2"}]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/crm/v2/Contacts/search", func(w http.ResponseWriter, r *http.Request) {
		f.record("Contacts:" + r.URL.Query().Get("phone"))
		if r.URL.Query().Get("phone") == "+15550001111" {
			_, _ = w.Write([]byte(`{"data":[{"id":"C1"}]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/crm/v2/Calls", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data []Activity `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.activities = append(f.activities, body.Data...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":[{"code":"SUCCESS"}]}`))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeZoho) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, s)
}

func TestPushCallActivity_LinksLeadsAndContacts(t *testing.T) {
	f := newFakeZoho(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	client := NewClient(Config{
		ClientID:          "id",
		ClientSecret:      "secret",
		RequestsPerSecond: 1000,
		Cache:             RedisTokenCache{RDB: rdb},
	})
	p := NewPusher(client, staticConfigs{cfg: crmapi.CRMConfig{
		ZohoRefreshToken:  "refresh-1",
		ZohoAccountServer: f.srv.URL,
		ZohoAPIDomain:     f.srv.URL,
	}}, nil)

	rec := calls.CallRecord{
		CallSid:         "CA1",
		From:            "+15550001111",
		To:              "+15550002222",
		Direction:       calls.DirectionIncoming,
		Status:          calls.StatusCompleted,
		DurationSeconds: 61,
	}
	n, err := p.PushCallActivity(context.Background(), "tenant-1", rec)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f.mu.Lock()
	assert.Len(t, f.activities, 3)
	assert.Contains(t, f.searched, "Leads:5550001111")
	assert.Equal(t, "01:01", f.activities[0].CallDuration)
	f.mu.Unlock()

	// second push reuses the cached access token
	_, err = p.PushCallActivity(context.Background(), "tenant-1", rec)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refreshes))
	assert.True(t, mr.Exists("zoho:token:tenant-1"))
	ttl := mr.TTL("zoho:token:tenant-1")
	assert.True(t, ttl > 50*time.Minute && ttl <= 59*time.Minute, "ttl %s", ttl)
}

func TestPushCallActivity_NotConfigured(t *testing.T) {
	p := NewPusher(NewClient(Config{}), staticConfigs{err: crmapi.ErrNotFound}, nil)
	_, err := p.PushCallActivity(context.Background(), "tenant-1", calls.CallRecord{CallSid: "CA1"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPushCallActivity_RefreshFailure(t *testing.T) {
	f := newFakeZoho(t)
	p := NewPusher(NewClient(Config{ClientID: "id"}), staticConfigs{cfg: crmapi.CRMConfig{
		ZohoRefreshToken:  "wrong",
		ZohoAccountServer: f.srv.URL,
		ZohoAPIDomain:     f.srv.URL,
	}}, nil)
	_, err := p.PushCallActivity(context.Background(), "tenant-1", calls.CallRecord{CallSid: "CA1", From: "+1555"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "refresh"))
	assert.False(t, errors.Is(err, ErrNotConfigured))
}

// Package zoho pushes call activities into a tenant's Zoho CRM.
package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"crm-dialer/pkg/httpclient"
)

var zohoTracer = otel.Tracer("crm-dialer.internal.zoho")

// TenantConfig carries one tenant's Zoho OAuth settings.
type TenantConfig struct {
	RefreshToken  string
	AccountServer string
	APIDomain     string
}

// TokenCache stores access tokens between pushes.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

type Config struct {
	ClientID     string
	ClientSecret string

	DefaultAccountServer string
	DefaultAPIDomain     string

	RequestsPerSecond float64

	HTTP   *httpclient.Client
	Cache  TokenCache
	Logger *slog.Logger
}

// Client performs authenticated Zoho CRM calls. A single limiter throttles
// all tenants; Zoho enforces per-organization limits on top.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	limiter *rate.Limiter
	cache   TokenCache
	logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = httpclient.New(httpclient.Config{Service: "zoho", MaxRetries: 2})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		cache:   cfg.Cache,
		logger:  logger,
	}
}

func (c *Client) resolve(tc TenantConfig) TenantConfig {
	if strings.TrimSpace(tc.AccountServer) == "" {
		tc.AccountServer = c.cfg.DefaultAccountServer
	}
	if strings.TrimSpace(tc.APIDomain) == "" {
		tc.APIDomain = c.cfg.DefaultAPIDomain
	}
	tc.AccountServer = strings.TrimRight(tc.AccountServer, "/")
	tc.APIDomain = strings.TrimRight(tc.APIDomain, "/")
	return tc
}

// AccessToken exchanges the tenant refresh token for an access token,
// reusing a cached one while it is valid.
func (c *Client) AccessToken(ctx context.Context, cacheKey string, tc TenantConfig) (string, error) {
	tc = c.resolve(tc)
	if tc.RefreshToken == "" {
		return "", errors.New("zoho: refresh token is required")
	}
	if c.cache != nil && cacheKey != "" {
		if tok, ok := c.cache.Get(ctx, cacheKey); ok {
			return tok, nil
		}
	}

	ctx, span := zohoTracer.Start(ctx, "zoho.refresh_token")
	defer span.End()

	oc := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tc.AccountServer + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: tc.RefreshToken}).Token()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("zoho: refresh access token: %w", err)
	}
	if c.cache != nil && cacheKey != "" && !tok.Expiry.IsZero() {
		if ttl := time.Until(tok.Expiry) - time.Minute; ttl > 0 {
			c.cache.Set(ctx, cacheKey, tok.AccessToken, ttl)
		}
	}
	return tok.AccessToken, nil
}

// Search returns the ids of records in module whose phone matches phone.
// Zoho answers 204 with an empty body when nothing matches.
func (c *Client) Search(ctx context.Context, tc TenantConfig, accessToken, module, phone string) ([]string, error) {
	tc = c.resolve(tc)
	ctx, span := zohoTracer.Start(ctx, "zoho.search")
	defer span.End()
	span.SetAttributes(attribute.String("module", module))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := c.http.Do(ctx, httpclient.Request{
		URL:       fmt.Sprintf("%s/crm/v2/%s/search", tc.APIDomain, module),
		Query:     url.Values{"phone": {phone}},
		Header:    authHeader(accessToken),
		Operation: "search_" + strings.ToLower(module),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("zoho: decode search: %w", err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, d := range out.Data {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// CreateActivity inserts one record into the Calls module.
func (c *Client) CreateActivity(ctx context.Context, tc TenantConfig, accessToken string, a Activity) error {
	tc = c.resolve(tc)
	ctx, span := zohoTracer.Start(ctx, "zoho.create_call")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"data": []Activity{a}})
	if err != nil {
		return fmt.Errorf("zoho: marshal activity: %w", err)
	}
	_, err = c.http.Do(ctx, httpclient.Request{
		Method:    http.MethodPost,
		URL:       tc.APIDomain + "/crm/v2/Calls",
		Body:      body,
		Header:    authHeader(accessToken),
		Operation: "create_call",
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Zoho-oauthtoken "+token)
	return h
}

// RedisTokenCache keeps access tokens in Redis under a fixed prefix.
type RedisTokenCache struct {
	RDB    *redis.Client
	Prefix string
}

func (r RedisTokenCache) key(k string) string {
	p := r.Prefix
	if p == "" {
		p = "zoho:token:"
	}
	return p + k
}

func (r RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	if r.RDB == nil {
		return "", false
	}
	v, err := r.RDB.Get(ctx, r.key(key)).Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (r RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if r.RDB == nil {
		return
	}
	_ = r.RDB.Set(ctx, r.key(key), token, ttl).Err()
}

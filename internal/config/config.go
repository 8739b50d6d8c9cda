package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Twilio    TwilioConfig
	CRM       CRMConfig
	Zoho      ZohoConfig
	Stripe    StripeConfig
	Telnyx    TelnyxConfig
	Reconcile ReconcileConfig
	Routing   RoutingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is used to build provider callback URLs (statusCallback).
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// TwilioConfig holds the master account used for provisioning subaccounts.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	VoiceAppURL         string
	MessagingInboundURL string
	AccessTokenTTL      time.Duration

	// ValidateSignatures turns on X-Twilio-Signature checks for webhooks.
	ValidateSignatures bool
}

type CRMConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ZohoConfig struct {
	ClientID      string
	ClientSecret  string
	AccountServer string
	APIDomain     string

	// RequestsPerSecond throttles outbound Zoho calls process-wide.
	RequestsPerSecond float64
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Domain        string
}

type TelnyxConfig struct {
	BaseURL string
}

// ReconcileConfig drives the price polling chain.
type ReconcileConfig struct {
	SettleDelay      time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	MarkupFactor     float64
	UnpricedSentinel float64
	ClaimTTL         time.Duration
}

type RoutingConfig struct {
	GreetingMessage    string
	HoldMessage        string
	UnavailableMessage string
	FreePlanMessage    string
}

const (
	DefaultSettleDelay      = 10 * time.Second
	DefaultRetryDelay       = 5 * time.Second
	DefaultMaxAttempts      = 10
	DefaultMarkupFactor     = 1.4
	DefaultUnpricedSentinel = -0.1

	minSettleDelay = 10 * time.Second
	minRetryDelay  = 5 * time.Second
)

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.VoiceAppURL = strings.TrimSpace(os.Getenv("TWILIO_VOICE_APP_URL"))
	c.Twilio.MessagingInboundURL = strings.TrimSpace(os.Getenv("TWILIO_MESSAGING_INBOUND_URL"))
	c.Twilio.AccessTokenTTL = mustDuration("TWILIO_ACCESS_TOKEN_TTL")
	c.Twilio.ValidateSignatures = optionalBool("TWILIO_VALIDATE_SIGNATURES")

	c.CRM.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CRM_BASE_URL")), "/")
	c.CRM.Timeout = mustDuration("CRM_TIMEOUT")

	c.Zoho.ClientID = strings.TrimSpace(os.Getenv("ZOHO_CLIENT_ID"))
	c.Zoho.ClientSecret = os.Getenv("ZOHO_CLIENT_SECRET")
	c.Zoho.AccountServer = strings.TrimRight(strings.TrimSpace(os.Getenv("ZOHO_ACCOUNT_SERVER")), "/")
	c.Zoho.APIDomain = strings.TrimRight(strings.TrimSpace(os.Getenv("ZOHO_API_DOMAIN")), "/")
	{
		f, err := optionalFloat("ZOHO_REQUESTS_PER_SECOND")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Zoho.RequestsPerSecond = f
	}

	c.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	c.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	c.Stripe.Domain = strings.TrimRight(strings.TrimSpace(os.Getenv("YOUR_DOMAIN")), "/")

	c.Telnyx.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TELNYX_BASE_URL")), "/")

	// Reconcile knobs are optional; defaults applied in Validate().
	c.Reconcile.SettleDelay = mustDuration("RECONCILE_SETTLE_DELAY")
	c.Reconcile.RetryDelay = mustDuration("RECONCILE_RETRY_DELAY")
	c.Reconcile.ClaimTTL = mustDuration("RECONCILE_CLAIM_TTL")
	{
		n, err := optionalInt("RECONCILE_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Reconcile.MaxAttempts = n
	}
	{
		f, err := optionalFloat("MARKUP_FACTOR")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Reconcile.MarkupFactor = f
	}
	{
		f, err := optionalFloat("UNPRICED_SENTINEL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Reconcile.UnpricedSentinel = f
	}

	c.Routing.GreetingMessage = strings.TrimSpace(os.Getenv("VOICE_GREETING_MESSAGE"))
	c.Routing.HoldMessage = strings.TrimSpace(os.Getenv("VOICE_HOLD_MESSAGE"))
	c.Routing.UnavailableMessage = strings.TrimSpace(os.Getenv("VOICE_UNAVAILABLE_MESSAGE"))
	c.Routing.FreePlanMessage = strings.TrimSpace(os.Getenv("VOICE_FREE_PLAN_MESSAGE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.IsProduction() {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if c.Stripe.SecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required in production"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	}
	if c.Twilio.VoiceAppURL == "" {
		c.Twilio.VoiceAppURL = "https://voice.crm-messaging.cloud/api/voice"
	}
	if c.Twilio.MessagingInboundURL == "" {
		c.Twilio.MessagingInboundURL = "https://app.crm-messaging.cloud/index.php/Message/getMessageTwillio"
	}
	if c.Twilio.AccessTokenTTL <= 0 {
		c.Twilio.AccessTokenTTL = time.Hour
	}

	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = "https://app.crm-messaging.cloud/index.php"
	}
	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = 15 * time.Second
	}

	if c.Zoho.AccountServer == "" {
		c.Zoho.AccountServer = "https://accounts.zoho.com"
	}
	if c.Zoho.APIDomain == "" {
		c.Zoho.APIDomain = "https://www.zohoapis.com"
	}
	if c.Zoho.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ZOHO_REQUESTS_PER_SECOND must be >= 0, got %v", c.Zoho.RequestsPerSecond))
	} else if c.Zoho.RequestsPerSecond == 0 {
		c.Zoho.RequestsPerSecond = 5
	}

	if c.Telnyx.BaseURL == "" {
		c.Telnyx.BaseURL = "https://api.telnyx.com/v2"
	}

	if c.Reconcile.SettleDelay <= 0 {
		c.Reconcile.SettleDelay = DefaultSettleDelay
	} else if c.Reconcile.SettleDelay < minSettleDelay {
		errs = append(errs, fmt.Errorf("RECONCILE_SETTLE_DELAY must be at least %s, got %s", minSettleDelay, c.Reconcile.SettleDelay))
	}
	if c.Reconcile.RetryDelay <= 0 {
		c.Reconcile.RetryDelay = DefaultRetryDelay
	} else if c.Reconcile.RetryDelay < minRetryDelay {
		errs = append(errs, fmt.Errorf("RECONCILE_RETRY_DELAY must be at least %s, got %s", minRetryDelay, c.Reconcile.RetryDelay))
	}
	if c.Reconcile.MaxAttempts == 0 {
		c.Reconcile.MaxAttempts = DefaultMaxAttempts
	} else if c.Reconcile.MaxAttempts < 1 || c.Reconcile.MaxAttempts > 50 {
		errs = append(errs, fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be between 1 and 50, got %d", c.Reconcile.MaxAttempts))
	}
	if c.Reconcile.MarkupFactor == 0 {
		c.Reconcile.MarkupFactor = DefaultMarkupFactor
	} else if c.Reconcile.MarkupFactor < 0 {
		errs = append(errs, fmt.Errorf("MARKUP_FACTOR must be positive, got %v", c.Reconcile.MarkupFactor))
	}
	if c.Reconcile.UnpricedSentinel == 0 {
		c.Reconcile.UnpricedSentinel = DefaultUnpricedSentinel
	} else if c.Reconcile.UnpricedSentinel > 0 {
		errs = append(errs, fmt.Errorf("UNPRICED_SENTINEL must be negative, got %v", c.Reconcile.UnpricedSentinel))
	}
	if c.Reconcile.ClaimTTL <= 0 {
		c.Reconcile.ClaimTTL = 24 * time.Hour
	}

	if c.Routing.GreetingMessage == "" {
		c.Routing.GreetingMessage = "Thanks for calling!"
	}
	if c.Routing.HoldMessage == "" {
		c.Routing.HoldMessage = "Please hold while we connect your call."
	}
	if c.Routing.UnavailableMessage == "" {
		c.Routing.UnavailableMessage = "The person you are trying to reach is not available right now. Please try again later."
	}
	if c.Routing.FreePlanMessage == "" {
		c.Routing.FreePlanMessage = "This number cannot receive calls at the moment. Goodbye."
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// PostgresURL is the URL form of PostgresDSN, required by the migrator.
func (c Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// StatusCallbackURL is the absolute URL Twilio posts call status events to.
func (c Config) StatusCallbackURL() string {
	return c.App.PublicBaseURL + "/api/webhook"
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"crm-dialer/internal/audit"
	"crm-dialer/internal/auth"
	"crm-dialer/internal/callconfig"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/config"
	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/devices"
	"crm-dialer/internal/fanout"
	"crm-dialer/internal/metrics"
	"crm-dialer/internal/missedcall"
	"crm-dialer/internal/payments"
	"crm-dialer/internal/pricing"
	"crm-dialer/internal/provisioning"
	"crm-dialer/internal/reconcile"
	"crm-dialer/internal/reporting"
	"crm-dialer/internal/routing"
	"crm-dialer/internal/telephony"
	"crm-dialer/internal/zoho"
	"crm-dialer/pkg/httpclient"
)

// app holds the wired services the routes need.
type app struct {
	cfg       config.Config
	db        *sql.DB
	rdb       *redis.Client
	metrics   *metrics.ReconcileMetrics
	scheduler *reconcile.Scheduler

	voice        telephony.VoiceHandlers
	signatures   telephony.SignatureValidator
	telnyx       telephony.TelnyxHandlers
	callConfig   callconfig.Handlers
	provisioning provisioning.Handlers
	payments     payments.Handlers
	devices      devices.Handlers
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client, reg prometheus.Registerer) (*app, error) {
	m := metrics.NewReconcileMetrics(reg)

	httpFor := func(service string, retries int) *httpclient.Client {
		return httpclient.New(httpclient.Config{Service: service, MaxRetries: retries, Logger: log, Observer: m})
	}

	crm, err := crmapi.New(crmapi.Config{
		BaseURL: cfg.CRM.BaseURL,
		HTTP:    httpclient.New(httpclient.Config{Service: "crmapi", Timeout: cfg.CRM.Timeout, MaxRetries: 2, Logger: log, Observer: m}),
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	// Price polling has its own retry budget; the Twilio client does not retry.
	twilioHTTP := httpFor("twilio", 0)
	provisioningHTTP := httpFor("twilio", 2)
	master := pricing.Credentials{AccountSid: cfg.Twilio.AccountSID, AuthToken: cfg.Twilio.AuthToken}

	// Configuration and devices.
	configSvc := callconfig.NewService(callconfig.NewPostgresRepo(db), crm, log)
	deviceSvc := devices.NewService(devices.NewPostgresRepo(db), auth.NewVoiceTokenIssuer(cfg.Twilio.AccessTokenTTL), crm, log)

	// Provisioning doubles as the credential directory for subaccounts.
	provisioningSvc := provisioning.NewService(
		provisioning.Config{
			Master:              master,
			VoiceAppURL:         cfg.Twilio.VoiceAppURL,
			MessagingInboundURL: cfg.Twilio.MessagingInboundURL,
		},
		provisioning.NewPostgresRepo(db),
		func(c pricing.Credentials) provisioning.TwilioAPI {
			return telephony.NewTwilioClient(provisioningHTTP, c)
		},
		crm,
		reporting.NewService(),
		log,
	)

	// Reconciliation chain.
	zohoClient := zoho.NewClient(zoho.Config{
		ClientID:             cfg.Zoho.ClientID,
		ClientSecret:         cfg.Zoho.ClientSecret,
		DefaultAccountServer: cfg.Zoho.AccountServer,
		DefaultAPIDomain:     cfg.Zoho.APIDomain,
		RequestsPerSecond:    cfg.Zoho.RequestsPerSecond,
		HTTP:                 httpFor("zoho", 2),
		Cache:                zoho.RedisTokenCache{RDB: rdb},
		Logger:               log,
	})
	dispatcher := fanout.NewDispatcher(
		crm,
		zoho.NewPusher(zohoClient, crm, log),
		campaigns.NewPostgresRepo(db),
		m,
		log,
	)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	scheduler := reconcile.NewScheduler(ctx, log)
	scheduler.OnLifecycle(m.ChainStarted, m.ChainFinished)

	pipeline := &reconcile.Pipeline{
		Resolver: pricing.NewResolver(
			pricing.ResolverConfig{RetryDelay: cfg.Reconcile.RetryDelay, MaxAttempts: cfg.Reconcile.MaxAttempts},
			telephony.TwilioFetcherFactory(twilioHTTP),
			log,
		),
		Calculator: pricing.NewCalculator(cfg.Reconcile.MarkupFactor, cfg.Reconcile.UnpricedSentinel),
		Ledger:     calls.NewPostgresLedger(db),
		Tenants:    crm,
		Fanout:     dispatcher,
		Audit:      auditSvc,
		Metrics:    m,
		Logger:     log,
	}
	reconciler := reconcile.NewService(
		reconcile.Config{
			SettleDelay: cfg.Reconcile.SettleDelay,
			RetryDelay:  cfg.Reconcile.RetryDelay,
			MaxAttempts: cfg.Reconcile.MaxAttempts,
			ClaimTTL:    cfg.Reconcile.ClaimTTL,
		},
		reconcile.Deps{
			Scheduler:   scheduler,
			Pipeline:    pipeline,
			Claims:      reconcile.RedisClaimer{RDB: rdb},
			Credentials: provisioningSvc,
			Reactor:     missedcall.NewReactor(configSvc, crm, m, log),
			Audit:       auditSvc,
			Logger:      log,
		},
	)

	router := &routing.Engine{
		Plans:      configSvc,
		Forwarding: configSvc,
		Devices:    deviceSvc,
		Metrics:    m,
		Messages: routing.Messages{
			Greeting:    cfg.Routing.GreetingMessage,
			Hold:        cfg.Routing.HoldMessage,
			Unavailable: cfg.Routing.UnavailableMessage,
			FreePlan:    cfg.Routing.FreePlanMessage,
		},
		StatusCallbackURL: cfg.StatusCallbackURL(),
		Logger:            log,
	}

	paymentSvc := payments.NewService(
		payments.Config{Domain: cfg.Stripe.Domain},
		payments.NewStripeGateway(payments.StripeConfig{SecretKey: cfg.Stripe.SecretKey, WebhookSecret: cfg.Stripe.WebhookSecret}),
		provisioningSvc,
		log,
	)

	return &app{
		cfg:       cfg,
		db:        db,
		rdb:       rdb,
		metrics:   m,
		scheduler: scheduler,

		voice: telephony.VoiceHandlers{Router: router, Reconciler: reconciler, Metrics: m},
		signatures: telephony.SignatureValidator{
			PublicBaseURL: cfg.App.PublicBaseURL,
			MasterToken:   cfg.Twilio.AuthToken,
			Tokens:        provisioningSvc,
		},
		telnyx:       telephony.TelnyxHandlers{Directory: crm, Client: telephony.NewTelnyxClient(cfg.Telnyx.BaseURL, httpFor("telnyx", 2))},
		callConfig:   callconfig.Handlers{Service: configSvc},
		provisioning: provisioning.Handlers{Service: provisioningSvc},
		payments:     payments.Handlers{Service: paymentSvc},
		devices:      devices.Handlers{Service: deviceSvc},
	}, nil
}

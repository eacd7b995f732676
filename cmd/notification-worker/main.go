// Package main is the entrypoint for the Notification Worker Lambda function.
//
// The worker consumes notification messages from SQS and runs them through the
// priority dispatcher: priority selects the delivery method, the provider
// registry supplies the live channel clients, and retryable failures are
// re-enqueued with backoff.
//
// Cold start wiring:
//  1. Initialize structured logger.
//  2. Load configuration (env + .env) and AWS SDK configuration.
//  3. Open the PostgreSQL pool for the audit log, push tokens, and contact
//     lookups.
//  4. Build the metric sink, retry processor, and provider registry. Providers
//     whose credentials are absent from the environment are skipped; dispatch
//     to a skipped method audits FAILED with the no-such-provider cause.
//  5. Register the handler and call lambda.Start.
//
// Dispatch outcomes are recorded through the audit log and metric counters,
// never through message redelivery: every parseable message is ACKed exactly
// once, and retries travel as fresh queue messages published by the retry
// processor.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"hubalert/internal/config"
	"hubalert/internal/db"
	"hubalert/internal/notifications/core"
	"hubalert/internal/notifications/email"
	"hubalert/internal/notifications/ivr"
	"hubalert/internal/notifications/push"
	"hubalert/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Compile-time assertion that slogAdapter implements types.Logger.
var _ types.Logger = (*slogAdapter)(nil)

// Handler holds the dependencies for the notification worker Lambda handler.
type Handler struct {
	dispatcher core.Dispatcher
	logger     types.Logger
}

// Handle processes a batch of notification messages. Dispatch records every
// outcome through the audit log and metric sink and never returns an error, so
// each parseable message is ACKed after exactly one dispatch pass.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	for _, record := range sqsEvent.Records {
		contentEncoding := ""
		if attr, ok := record.MessageAttributes["content_encoding"]; ok && attr.StringValue != nil {
			contentEncoding = *attr.StringValue
		}

		msg, err := core.DecodeNotificationMessage(record.Body, contentEncoding)
		if err != nil {
			h.logger.Error("unparseable notification message, dropping",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			continue
		}

		h.dispatcher.Dispatch(ctx, &msg.Notification)
	}

	return events.SQSEventResponse{}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("notification worker initializing")

	typedLogger := &slogAdapter{logger: logger}
	clock := types.RealClock{}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	metrics := core.NewCloudWatchMetricSink(cwClient, cfg.AWS.MetricNamespace, typedLogger)

	var (
		audit  core.AuditLog
		tokens *db.TokenRepository
		people *db.PersonRepository
	)
	if cfg.DB.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.DB.URL)
		if err != nil {
			logger.Error("failed to open database pool", "error", err)
			os.Exit(1)
		}
		audit = db.NewAuditRepository(pool, clock)
		tokens = db.NewTokenRepository(pool)
		people = db.NewPersonRepository(pool)
	} else {
		// Without a database the worker still dispatches, but audit records
		// stay in memory and contact lookups fail closed.
		logger.Warn("DATABASE_URL not set, using in-memory audit log")
		audit = core.NewMemoryAuditLog(clock)
	}

	publisher := core.NewNotificationPublisher(sqsClient, cfg.AWS.NotificationQueueURL, typedLogger)
	manager := core.NewRetryManager(cfg.Retry.MaxAttempts, cfg.Retry.TTL, clock)
	policy := core.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: core.DefaultRetryPolicy.BackoffFactor,
	}
	retryProc := core.NewProcessor(manager, policy, publisher, audit, metrics, typedLogger)

	registry := core.NewProviderRegistry()
	registerProviders(registry, cfg, tokens, people, audit, metrics, typedLogger)

	var tokenSource core.TokenSource
	if tokens != nil {
		tokenSource = tokens
	}
	dispatcher := core.NewPriorityDispatcher(registry, retryProc, tokenSource, audit, metrics, typedLogger)

	handler := &Handler{
		dispatcher: dispatcher,
		logger:     typedLogger,
	}

	logger.Info("notification worker initialized",
		"notification_queue", cfg.AWS.NotificationQueueURL,
		"providers", len(registry.Methods()),
	)

	// Local mode: read one SQS event from stdin instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil || len(payload) == 0 {
			logger.Error("no SQS event on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		if _, err := handler.Handle(ctx, sqsEvent); err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
		)
		return
	}

	lambda.Start(handler.Handle)
}

// registerProviders builds and registers every delivery channel whose
// credentials are present in the environment. Skipping a channel is loud but
// not fatal: dispatch to it fails with the no-such-provider cause, which the
// dashboards watch.
func registerProviders(registry *core.ProviderRegistry, cfg *config.Config, tokens *db.TokenRepository, people *db.PersonRepository, audit core.AuditLog, metrics core.MetricSink, logger types.Logger) {
	httpClient := &http.Client{Timeout: cfg.Push.SendTimeout}

	if cfg.Email.SendGridAPIKey != "" && people != nil {
		registry.Register(types.MethodEmail, email.NewProvider(httpClient, email.ProviderConfig{
			APIKey:       cfg.Email.SendGridAPIKey,
			SenderName:   cfg.Email.SenderName,
			SenderEmail:  cfg.Email.SenderEmail,
			ReplyTo:      cfg.Email.ReplyTo,
			FilterDomain: cfg.Email.FilterDomain,
			Addresses:    people,
			Renderer:     email.NewKeyRenderer(alarmEmailSubjects, alarmEmailBodies),
			Logger:       logger,
		}))
	} else {
		logger.Warn("email provider not registered", "reason", "missing SendGrid key or database")
	}

	// The push responder removes permanently invalid tokens so the next
	// dispatch stops targeting dead devices.
	var remover push.TokenRemover
	if tokens != nil {
		remover = tokens
	}
	responder := push.NewUpstreamResponder(remover, audit, logger)

	// A connection-level gateway failure poisons every in-flight and future
	// send, so the worker exits and lets the platform replace it.
	onShutdown := func() {
		logger.Error("push gateway connection failure, shutting down worker")
		os.Exit(1)
	}

	if cfg.Push.APNSAuthToken != "" {
		apnsToken := cfg.Push.APNSAuthToken
		gateway := push.NewAPNSGateway(httpClient, push.APNSGatewayConfig{
			Host:        cfg.Push.APNSHost,
			Topic:       cfg.Push.APNSTopic,
			BearerToken: func() (string, error) { return apnsToken, nil },
			Logger:      logger,
		})
		registry.Register(types.MethodAPNS, push.NewProvider(push.ProviderConfig{
			Method:             types.MethodAPNS,
			Gateway:            gateway,
			Responder:          responder,
			Metrics:            metrics,
			Logger:             logger,
			SendTimeout:        cfg.Push.SendTimeout,
			BreakerMaxFailures: cfg.Push.BreakerMaxFailures,
			BreakerOpenFor:     cfg.Push.BreakerOpenFor,
			OnShutdown:         onShutdown,
		}))
	} else {
		logger.Warn("apns provider not registered", "reason", "missing APNS auth token")
	}

	if cfg.Push.GCMAPIKey != "" {
		gateway := push.NewGCMGateway(httpClient, push.GCMGatewayConfig{
			APIKey: cfg.Push.GCMAPIKey,
			Logger: logger,
		})
		registry.Register(types.MethodGCM, push.NewProvider(push.ProviderConfig{
			Method:             types.MethodGCM,
			Gateway:            gateway,
			Responder:          responder,
			Metrics:            metrics,
			Logger:             logger,
			SendTimeout:        cfg.Push.SendTimeout,
			BreakerMaxFailures: cfg.Push.BreakerMaxFailures,
			BreakerOpenFor:     cfg.Push.BreakerOpenFor,
			OnShutdown:         onShutdown,
		}))
	} else {
		logger.Warn("gcm provider not registered", "reason", "missing GCM API key")
	}

	// The feedback sweeper unregisters tokens the gateways report expired
	// out-of-band, so dead devices stop being targeted even when no
	// notification ever hits them again.
	if cfg.Push.FeedbackURL != "" && remover != nil {
		feed := push.NewHTTPFeed(httpClient, cfg.Push.FeedbackURL)
		sweeper := push.NewTokenSweeper(feed, responder, cfg.Push.SweepInterval, logger)
		go sweeper.Run(context.Background())
	}

	if cfg.IVR.GatewayURL != "" && people != nil {
		gateway := ivr.NewHTTPGateway(&http.Client{Timeout: 30 * time.Second}, ivr.HTTPGatewayConfig{
			BaseURL: cfg.IVR.GatewayURL,
			APIKey:  cfg.IVR.APIKey,
			Logger:  logger,
		})
		registry.Register(types.MethodIVR, ivr.NewProvider(gateway, people, logger))
	} else {
		logger.Warn("ivr provider not registered", "reason", "missing IVR gateway URL or database")
	}
}

// alarmEmailSubjects maps alarm message keys to email subject templates.
var alarmEmailSubjects = map[string]string{
	"alarm.triggered.security": "Security alarm at your place",
	"alarm.triggered.panic":    "Panic alarm at your place",
	"alarm.triggered.smoke":    "Smoke alarm at your place",
	"alarm.triggered.co":       "Carbon monoxide alarm at your place",
	"alarm.triggered.water":    "Water leak alarm at your place",
	"alarm.cancelled.security": "Security alarm cancelled",
	"alarm.cancelled.panic":    "Panic alarm cancelled",
	"alarm.cancelled.smoke":    "Smoke alarm cancelled",
	"alarm.cancelled.co":       "Carbon monoxide alarm cancelled",
	"alarm.cancelled.water":    "Water leak alarm cancelled",
}

// alarmEmailBodies maps alarm message keys to email body templates.
var alarmEmailBodies = map[string]string{
	"alarm.triggered.security": "A security alarm was triggered by {source}.",
	"alarm.triggered.panic":    "A panic alarm was triggered by {source}.",
	"alarm.triggered.smoke":    "A smoke alarm was triggered by {source}.",
	"alarm.triggered.co":       "A carbon monoxide alarm was triggered by {source}.",
	"alarm.triggered.water":    "A water leak alarm was triggered by {source}.",
	"alarm.cancelled.security": "The security alarm was cancelled by {cancelledBy}.",
	"alarm.cancelled.panic":    "The panic alarm was cancelled by {cancelledBy}.",
	"alarm.cancelled.smoke":    "The smoke alarm was cancelled by {cancelledBy}.",
	"alarm.cancelled.co":       "The carbon monoxide alarm was cancelled by {cancelledBy}.",
	"alarm.cancelled.water":    "The water leak alarm was cancelled by {cancelledBy}.",
}

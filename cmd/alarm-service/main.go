// Package main is the entrypoint for the Alarm Service Lambda function.
//
// The Alarm Service consumes platform bus envelopes from its SQS queue and
// routes them through the alarm coordinator: AddAlarm and CancelAlert
// requests, IVR acknowledgment events, and place reconfiguration events.
//
// Cold start wiring:
//  1. Initialize structured logger.
//  2. Load configuration (env + .env) and AWS SDK configuration.
//  3. Open the PostgreSQL pool and build the repositories.
//  4. Build the notification publisher, strategy registry, incident tracker,
//     and coordinator.
//  5. Register the handler and call lambda.Start.
//
// Lambda SQS integration uses partial batch responses: only messages that
// fail with an internal error are returned for redelivery. Validation and
// domain errors are final and are ACKed after logging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"hubalert/internal/alarm"
	"hubalert/internal/config"
	"hubalert/internal/db"
	"hubalert/internal/notifications/core"
	"hubalert/internal/queue"
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

// Handler holds the dependencies for the alarm service Lambda handler.
type Handler struct {
	coordinator *alarm.Coordinator
	logger      types.Logger
}

// Handle processes a batch of bus envelopes. Messages failing with an internal
// error are reported as partial batch failures so SQS redelivers only them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process bus envelope",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage routes one envelope. A nil return ACKs the message; only
// internal errors propagate for redelivery.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var env types.BusEnvelope
	if err := json.Unmarshal([]byte(record.Body), &env); err != nil {
		h.logger.Error("unparseable bus envelope, dropping",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"message_type", env.Type,
		"place_id", env.PlaceID,
		"correlation_id", env.CorrelationID,
	)

	var err error
	switch env.Type {
	case types.MsgAddAlarm:
		var req types.AddAlarmRequest
		if uerr := json.Unmarshal(env.Payload, &req); uerr != nil {
			logger.Error("unparseable AddAlarm payload", "error", uerr.Error())
			return nil
		}
		err = h.coordinator.AddAlarm(ctx, env.PlaceID, req)

	case types.MsgCancelAlert:
		var req types.CancelAlertRequest
		if uerr := json.Unmarshal(env.Payload, &req); uerr != nil {
			logger.Error("unparseable CancelAlert payload", "error", uerr.Error())
			return nil
		}
		err = h.coordinator.CancelAlert(ctx, env.PlaceID, string(env.Actor), req)

	case types.MsgIvrAcknowledged:
		var evt types.IvrAcknowledgedEvent
		if uerr := json.Unmarshal(env.Payload, &evt); uerr != nil {
			logger.Error("unparseable IVR acknowledgment payload", "error", uerr.Error())
			return nil
		}
		h.coordinator.OnIvrAcknowledged(ctx, env.PlaceID, evt.MsgKey)
		return nil

	case types.MsgPlaceChanged:
		h.coordinator.OnPlaceChanged(env.PlaceID)
		return nil

	default:
		// Broadcasts from the notification service carry delivery
		// acknowledgment correlation and are worth a visible trace even when
		// the type itself is unhandled.
		if env.Source.FromNotificationService() {
			logger.Info("observed notification service broadcast", "source", string(env.Source))
		} else {
			logger.Info("ignoring unhandled bus message type")
		}
		return nil
	}

	if err == nil {
		logger.Info("bus request handled")
		return nil
	}

	// Validation and domain errors are final: redelivering the same request
	// reproduces them. Internal errors get redelivered.
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code != types.ErrCodeInternalDB && appErr.Code != types.ErrCodeInternalUnexpected {
		logger.Warn("bus request rejected",
			"code", string(appErr.Code),
			"error", appErr.Error(),
		)
		return nil
	}
	return err
}

// healthRouter serves liveness and readiness checks when running as a
// long-lived local process.
func healthRouter(pool *pgxpool.Pool, logger types.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if pool != nil {
			if err := pool.Ping(req.Context()); err != nil {
				logger.Error("readiness ping failed", "error", err.Error())
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("alarm service initializing")

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

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)

	incidentRepo := db.NewIncidentRepository(pool)
	placeRepo := db.NewPlaceRepository(pool)

	publisher := core.NewNotificationPublisher(sqsClient, cfg.AWS.NotificationQueueURL, typedLogger)
	notify := queue.NewNotifyQueue(publisher, clock)
	registry := alarm.NewStrategyRegistry(alarm.DefaultTierStrategies(), placeRepo, notify, clock, typedLogger)
	tracker := alarm.NewIncidentTracker(incidentRepo, clock, typedLogger)
	devices := queue.NewDeviceCommandQueue(sqsClient, cfg.AWS.DeviceCommandQueue, clock, typedLogger)

	coordinator := alarm.NewCoordinator(registry, tracker, placeRepo, devices, clock, typedLogger)

	handler := &Handler{
		coordinator: coordinator,
		logger:      typedLogger,
	}

	logger.Info("alarm service initialized",
		"notification_queue", cfg.AWS.NotificationQueueURL,
		"device_command_queue", cfg.AWS.DeviceCommandQueue,
	)

	// Local mode: serve health checks and read one SQS event from stdin
	// instead of starting the Lambda runtime.
	if cfg.Environment == "local" {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			logger.Info("health endpoint listening", "addr", addr)
			if err := http.ListenAndServe(addr, healthRouter(pool, typedLogger)); err != nil {
				logger.Error("health endpoint failed", "error", err)
			}
		}()

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
		response, err := handler.Handle(ctx, sqsEvent)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		return
	}

	lambda.Start(handler.Handle)
}

package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"hubalert/internal/types"
)

// Compile-time assertions that both strategies implement Dispatcher.
var (
	_ Dispatcher = (*MethodDispatcher)(nil)
	_ Dispatcher = (*PriorityDispatcher)(nil)
)

// MethodDispatcher sends using the method already stamped on the notification.
// It is used when a caller has pinned an explicit method, such as a retried
// notification that already failed over or a split child targeting one push
// sub-provider.
type MethodDispatcher struct {
	providers *ProviderRegistry
	retry     RetryProcessor
	audit     AuditLog
	metrics   MetricSink
	logger    types.Logger
}

// NewMethodDispatcher creates a MethodDispatcher.
func NewMethodDispatcher(providers *ProviderRegistry, retry RetryProcessor, audit AuditLog, metrics MetricSink, logger types.Logger) *MethodDispatcher {
	return &MethodDispatcher{
		providers: providers,
		retry:     retry,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch sends the notification over its pinned method. A notification with
// no method is a caller bug and is audited as FAILED.
func (d *MethodDispatcher) Dispatch(ctx context.Context, n *types.Notification) {
	if n.Method == "" {
		d.logger.Error("notification has no method pinned",
			"notification_id", n.ID,
			"person_id", n.PersonID,
		)
		d.auditSafe(ctx, *n, types.AuditFailed, "no method assigned")
		d.metrics.IncrCounter(ctx, DispatchCounter(methodNone, causeUnexpected))
		return
	}
	sendViaProvider(ctx, d.providers, d.retry, d.audit, d.metrics, d.logger, n)
}

func (d *MethodDispatcher) auditSafe(ctx context.Context, n types.Notification, state types.AuditEventState, cause string) {
	auditSafe(ctx, d.audit, d.logger, n, state, cause)
}

// PriorityDispatcher derives the initial method from the notification's
// priority, then dispatches. A MEDIUM-priority notification expands into
// independent parallel attempts through every push sub-provider the person
// has a token for.
type PriorityDispatcher struct {
	providers *ProviderRegistry
	retry     RetryProcessor
	tokens    TokenSource
	audit     AuditLog
	metrics   MetricSink
	logger    types.Logger
}

// NewPriorityDispatcher creates a PriorityDispatcher.
func NewPriorityDispatcher(providers *ProviderRegistry, retry RetryProcessor, tokens TokenSource, audit AuditLog, metrics MetricSink, logger types.Logger) *PriorityDispatcher {
	return &PriorityDispatcher{
		providers: providers,
		retry:     retry,
		tokens:    tokens,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch assigns a method from the priority table when none is pinned, then
// either fans out (PUSH) or sends through the provider for the method. The
// method assignment persists on the notification so subsequent retries reuse
// it unless a split overrides it.
func (d *PriorityDispatcher) Dispatch(ctx context.Context, n *types.Notification) {
	if n.Method == "" {
		method, ok := MethodForPriority(n.Priority)
		if !ok {
			d.logger.Error("notification has neither method nor recognized priority",
				"notification_id", n.ID,
				"priority", string(n.Priority),
			)
			auditSafe(ctx, d.audit, d.logger, *n, types.AuditFailed,
				fmt.Sprintf("unrecognized priority %q", n.Priority))
			return
		}
		n.Method = method
	}

	if n.Method == types.MethodPush {
		d.fanOut(ctx, n)
		return
	}

	sendViaProvider(ctx, d.providers, d.retry, d.audit, d.metrics, d.logger, n)
}

// fanOut expands a logical PUSH dispatch into one split attempt per registered
// push sub-provider. The splits are issued in parallel; the original
// notification is considered dispatched once all splits have been issued, not
// once they have returned. The original is never audited SENT here; each split
// child is audited on its own attempt.
func (d *PriorityDispatcher) fanOut(ctx context.Context, n *types.Notification) {
	if d.tokens == nil {
		// The worker runs without a token store when no database is
		// configured. PUSH cannot work in that mode; fail the attempt instead
		// of letting a nil dereference escape the dispatch boundary.
		d.logger.Error("push dispatch requested but no token source configured",
			"notification_id", n.ID,
			"person_id", n.PersonID,
		)
		auditSafe(ctx, d.audit, d.logger, *n, types.AuditError, "no push token source configured")
		d.metrics.IncrCounter(ctx, DispatchCounter(types.MethodPush, causeUnsupported))
		return
	}

	tokens, err := d.tokens.TokensFor(ctx, n.PersonID)
	if err != nil {
		d.logger.Error("push token lookup failed",
			"notification_id", n.ID,
			"person_id", n.PersonID,
			"error", err.Error(),
		)
		auditSafe(ctx, d.audit, d.logger, *n, types.AuditFailed, fmt.Sprintf("token lookup: %v", err))
		d.metrics.IncrCounter(ctx, DispatchCounter(types.MethodPush, causeUnexpected))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	issued := 0
	for _, sub := range types.PushSubMethods {
		token, ok := tokens[sub]
		if !ok || token == "" {
			continue
		}
		issued++
		sub := sub
		g.Go(func() error {
			return d.retry.Split(gctx, *n, sub, token)
		})
	}

	if issued == 0 {
		// No registered push endpoints at all: terminal for this method.
		auditSafe(ctx, d.audit, d.logger, *n, types.AuditError, "no push tokens registered for person")
		d.metrics.IncrCounter(ctx, DispatchCounter(types.MethodPush, causeUnsupported))
		return
	}

	if err := g.Wait(); err != nil {
		d.logger.Error("push split issue failed",
			"notification_id", n.ID,
			"error", err.Error(),
		)
	}

	d.logger.Info("push notification fanned out",
		"notification_id", n.ID,
		"person_id", n.PersonID,
		"splits", issued,
	)
}

// sendViaProvider is the common provider send path shared by both strategies:
// provider lookup, the send itself, and classification of every anticipated
// failure into an audit entry plus counter. Nothing escapes to the caller; a
// panic from a provider is converted to a FAILED audit entry.
func sendViaProvider(ctx context.Context, providers *ProviderRegistry, retry RetryProcessor, audit AuditLog, metrics MetricSink, logger types.Logger, n *types.Notification) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provider panicked during dispatch",
				"notification_id", n.ID,
				"method", string(n.Method),
				"panic", fmt.Sprint(r),
			)
			auditSafe(ctx, audit, logger, *n, types.AuditFailed, fmt.Sprintf("panic: %v", r))
			metrics.IncrCounter(ctx, DispatchCounter(n.Method, causeUnexpected))
		}
	}()

	provider, err := providers.Get(n.Method)
	if err != nil {
		logger.Warn("no provider for method",
			"notification_id", n.ID,
			"method", string(n.Method),
		)
		auditSafe(ctx, audit, logger, *n, types.AuditError, err.Error())
		metrics.IncrCounter(ctx, DispatchCounter(n.Method, causeNoSuchProvider))
		return
	}

	err = provider.NotifyCustomer(ctx, n)
	if err == nil {
		auditSafe(ctx, audit, logger, *n, types.AuditSent, "")
		return
	}

	metrics.IncrCounter(ctx, DispatchCounter(n.Method, causeToken(err)))

	var (
		de *DispatchError
		ue *UnsupportedByUserError
	)
	switch {
	case errors.As(err, &de):
		// Retryable domain failure. The retry processor owns terminal audit
		// logging on this path, including expiry.
		if retryErr := retry.Retry(ctx, n, err); retryErr != nil {
			logger.Error("failed to schedule retry",
				"notification_id", n.ID,
				"method", string(n.Method),
				"error", retryErr.Error(),
			)
			auditSafe(ctx, audit, logger, *n, types.AuditFailed, fmt.Sprintf("retry scheduling: %v", retryErr))
		}

	case errors.As(err, &ue):
		// Terminal: this user/channel combination can never succeed.
		auditSafe(ctx, audit, logger, *n, types.AuditError, err.Error())

	default:
		// Defensive catch-all for unmodeled provider behavior.
		logger.Error("unexpected provider failure",
			"notification_id", n.ID,
			"method", string(n.Method),
			"error", err.Error(),
		)
		auditSafe(ctx, audit, logger, *n, types.AuditFailed, err.Error())
	}
}

// auditSafe writes an audit entry, degrading to a log line if the audit store
// itself is failing. Dispatch never propagates audit errors.
func auditSafe(ctx context.Context, audit AuditLog, logger types.Logger, n types.Notification, state types.AuditEventState, cause string) {
	if err := audit.Log(ctx, n, state, cause); err != nil {
		logger.Error("audit write failed",
			"notification_id", n.ID,
			"state", string(state),
			"cause", cause,
			"error", err.Error(),
		)
	}
}

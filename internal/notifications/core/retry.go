package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hubalert/internal/types"
)

// RetryManager decides whether a notification has run out of attempts. Expiry
// is evaluated lazily, at each retry attempt, not by a timer: a notification
// whose retries are never attempted again is never proactively expired.
type RetryManager struct {
	MaxAttempts int
	TTL         time.Duration
	Clock       types.Clock
}

// NewRetryManager creates a RetryManager with the given bounds.
func NewRetryManager(maxAttempts int, ttl time.Duration, clock types.Clock) *RetryManager {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RetryManager{MaxAttempts: maxAttempts, TTL: ttl, Clock: clock}
}

// HasExpired reports whether the notification is out of retries, either by
// attempt count or by age. A notification carrying its own TimeToLive expires
// by that; otherwise the manager's TTL applies.
func (m *RetryManager) HasExpired(n *types.Notification) bool {
	if n.AttemptCount >= m.MaxAttempts {
		return true
	}
	now := m.Clock.Now()
	if n.TimeToLive > 0 {
		return n.Expired(now)
	}
	if m.TTL > 0 && !n.CreatedAt.IsZero() && now.Sub(n.CreatedAt) > m.TTL {
		return true
	}
	return false
}

// QueuePublisher re-enqueues a notification message for a later dispatch
// attempt with the given delay.
type QueuePublisher interface {
	Publish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error
}

// Compile-time assertion that Processor implements RetryProcessor.
var _ RetryProcessor = (*Processor)(nil)

// Processor is the production RetryProcessor. Retries go back onto the
// notification queue with exponential backoff; expired notifications get an
// audited terminal state rather than being silently dropped.
type Processor struct {
	manager   *RetryManager
	policy    RetryPolicy
	publisher QueuePublisher
	audit     AuditLog
	metrics   MetricSink
	logger    types.Logger
	clock     types.Clock
}

// NewProcessor creates a retry Processor.
func NewProcessor(manager *RetryManager, policy RetryPolicy, publisher QueuePublisher, audit AuditLog, metrics MetricSink, logger types.Logger) *Processor {
	return &Processor{
		manager:   manager,
		policy:    policy,
		publisher: publisher,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		clock:     manager.Clock,
	}
}

// Retry re-enqueues the notification for another attempt unless it has
// expired. Expiry terminates in an audited ERROR record, never a silent drop.
func (p *Processor) Retry(ctx context.Context, n *types.Notification, cause error) error {
	if p.manager.HasExpired(n) {
		reason := "retries exhausted"
		if cause != nil {
			reason = fmt.Sprintf("retries exhausted: %v", cause)
		}
		p.logger.Warn("notification expired, no more retries",
			"notification_id", n.ID,
			"method", string(n.Method),
			"attempts", n.AttemptCount,
		)
		p.metrics.IncrCounter(ctx, DispatchCounter(n.Method, causeExpired))
		return p.audit.Log(ctx, *n, types.AuditError, reason)
	}

	n.AttemptCount++
	msg := types.NotificationMessage{
		Notification: *n,
		RetryCount:   n.AttemptCount,
		EnqueuedAt:   p.clock.Now(),
	}
	delay := CalculateNextRetry(p.policy, n.AttemptCount-1)

	if err := p.publisher.Publish(ctx, msg, delay); err != nil {
		return fmt.Errorf("retry: publish attempt %d: %w", n.AttemptCount, err)
	}

	p.logger.Info("notification retry scheduled",
		"notification_id", n.ID,
		"method", string(n.Method),
		"attempt", n.AttemptCount,
		"delay_seconds", int(delay.Seconds()),
	)
	return nil
}

// Split publishes a copy of the notification pinned to a push sub-method and
// endpoint. The child carries a deterministic derived ID so its audit trail
// correlates back to the parent, and its attempt count restarts: each split is
// an independent delivery with its own retry budget.
func (p *Processor) Split(ctx context.Context, n types.Notification, sub types.NotificationMethod, endpoint string) error {
	child := n.WithMethod(sub, endpoint)
	child.ID = fmt.Sprintf("%s_%s", n.ID, strings.ToLower(string(sub)))
	child.AttemptCount = 0

	msg := types.NotificationMessage{
		Notification: child,
		RetryCount:   0,
		EnqueuedAt:   p.clock.Now(),
	}

	if err := p.publisher.Publish(ctx, msg, 0); err != nil {
		return fmt.Errorf("split %s: %w", sub, err)
	}

	p.logger.Info("notification split issued",
		"notification_id", n.ID,
		"child_id", child.ID,
		"sub_method", string(sub),
	)
	return nil
}

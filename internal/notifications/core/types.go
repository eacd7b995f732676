// Package core provides the shared notification dispatch infrastructure used
// by every delivery method (email, push, IVR). It centralizes provider
// selection, retry policy, escalation, audit logging, and observability so
// that all channels classify and record outcomes the same way.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hubalert/internal/types"
)

// Provider is a live client capable of sending one notification over a single
// delivery method. Implementations classify their gateway's failures into the
// dispatch error taxonomy (DispatchError, UnsupportedByUserError) before
// returning.
type Provider interface {
	NotifyCustomer(ctx context.Context, n *types.Notification) error
}

// Dispatcher issues a send for one notification. It has no return value; all
// outcomes are observed through the AuditLog and MetricSink side effects.
// Dispatch must never panic past its own boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *types.Notification)
}

// AuditLog is the append-only record of delivery attempts and their terminal
// state. Implementations must be safe for concurrent use; no read-modify-write
// on audit records is ever required.
type AuditLog interface {
	Log(ctx context.Context, n types.Notification, state types.AuditEventState, cause string) error
}

// MetricSink abstracts counter and latency emission so dispatch logic never
// reaches a process-wide metrics singleton and tests can assert on counters
// directly.
type MetricSink interface {
	IncrCounter(ctx context.Context, name string)
	RecordLatency(ctx context.Context, method types.NotificationMethod, d time.Duration)
}

// RetryProcessor re-enqueues notifications for another attempt and spawns
// parallel split attempts for redundant sub-providers.
type RetryProcessor interface {
	// Retry re-enqueues the notification with an incremented attempt count
	// unless the retry manager declares it expired, in which case the
	// processor writes the terminal audit record itself.
	Retry(ctx context.Context, n *types.Notification, cause error) error

	// Split publishes a copy of the notification pinned to the given
	// sub-method and delivery endpoint. Each split attempt is tracked and
	// audited independently of the original.
	Split(ctx context.Context, n types.Notification, sub types.NotificationMethod, endpoint string) error
}

// TokenSource looks up which push sub-methods a person can receive, keyed by
// registered device token.
type TokenSource interface {
	TokensFor(ctx context.Context, personID string) (map[types.NotificationMethod]string, error)
}

// MethodForPriority is the fixed priority-to-method policy table. It is not
// configurable per place.
func MethodForPriority(p types.NotificationPriority) (types.NotificationMethod, bool) {
	switch p {
	case types.PriorityLow:
		return types.MethodEmail, true
	case types.PriorityMedium:
		return types.MethodPush, true
	case types.PriorityHigh:
		return types.MethodIVR, true
	}
	return "", false
}

// DispatchCounter builds the counter name for one classified dispatch failure
// or outcome. The naming convention notifications.dispatch.<method>.<cause>
// is a stable contract consumed by operational dashboards.
func DispatchCounter(method types.NotificationMethod, cause string) string {
	return fmt.Sprintf("notifications.dispatch.%s.%s", strings.ToLower(string(method)), cause)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is the standard backoff applied to retryable dispatch
// failures across all methods.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow.
		d = policy.MaxDelay
	}

	return d
}

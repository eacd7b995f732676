package push

import (
	"context"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// Responder receives the upstream-facing outcomes of push delivery: the
// accepted-for-delivery signal, device unregistration events, and failures
// reported outside a dispatch call (connection watchers, the expired token
// feed).
type Responder interface {
	// HandleHandOff records that the gateway accepted the notification for
	// delivery. Acceptance is not confirmation of receipt.
	HandleHandOff(ctx context.Context, n *types.Notification)

	// HandleDeviceUnregistered removes the device registration for a token
	// the gateway declared permanently invalid.
	HandleDeviceUnregistered(ctx context.Context, method types.NotificationMethod, token string)

	// HandleError records a failure reported asynchronously, after the
	// dispatch call already returned. Retryable failures are logged only;
	// the notification's own retry path owns re-attempting. Terminal
	// failures get an audit record.
	HandleError(ctx context.Context, n *types.Notification, retryable bool, reason string)
}

// TokenRemover deletes one device token registration.
type TokenRemover interface {
	RemoveToken(ctx context.Context, method types.NotificationMethod, token string) error
}

// Compile-time assertion that UpstreamResponder implements Responder.
var _ Responder = (*UpstreamResponder)(nil)

// UpstreamResponder is the production Responder, backed by the token store and
// the shared audit log.
type UpstreamResponder struct {
	tokens TokenRemover
	audit  core.AuditLog
	logger types.Logger
}

// NewUpstreamResponder creates an UpstreamResponder.
func NewUpstreamResponder(tokens TokenRemover, audit core.AuditLog, logger types.Logger) *UpstreamResponder {
	return &UpstreamResponder{
		tokens: tokens,
		audit:  audit,
		logger: logger,
	}
}

func (r *UpstreamResponder) HandleHandOff(_ context.Context, n *types.Notification) {
	r.logger.Info("push accepted by gateway",
		"notification_id", n.ID,
		"method", string(n.Method),
	)
}

func (r *UpstreamResponder) HandleDeviceUnregistered(ctx context.Context, method types.NotificationMethod, token string) {
	if r.tokens == nil {
		// Without a token store the registration cannot be deleted here; the
		// gateway will keep reporting the token until one is configured.
		r.logger.Warn("ignoring unregistered token, no token store configured",
			"method", string(method),
		)
		return
	}
	if err := r.tokens.RemoveToken(ctx, method, token); err != nil {
		r.logger.Error("failed to remove unregistered token",
			"method", string(method),
			"error", err.Error(),
		)
		return
	}
	r.logger.Info("device token unregistered",
		"method", string(method),
	)
}

func (r *UpstreamResponder) HandleError(ctx context.Context, n *types.Notification, retryable bool, reason string) {
	if retryable {
		r.logger.Warn("push delivery reported retryable failure",
			"notification_id", n.ID,
			"method", string(n.Method),
			"reason", reason,
		)
		return
	}
	r.logger.Error("push delivery reported terminal failure",
		"notification_id", n.ID,
		"method", string(n.Method),
		"reason", reason,
	)
	if err := r.audit.Log(ctx, *n, types.AuditError, reason); err != nil {
		r.logger.Error("audit write failed for push terminal failure",
			"notification_id", n.ID,
			"error", err.Error(),
		)
	}
}

package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// Gateway sends one push message to a device token and returns the gateway's
// rejection code. A nil error with CodeNone means the gateway accepted the
// message. A ConnectionError means the gateway connection itself is broken,
// not just this send.
type Gateway interface {
	Send(ctx context.Context, token string, payload []byte) (RejectionCode, error)
}

// ConnectionError is a connection-level fatal error from a gateway: a TLS
// handshake failure, a bad certificate, an unusable connection. It invalidates
// all in-flight and future sends on the gateway, not just one notification.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("push gateway connection failure: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProviderConfig holds the dependencies and tuning for one push provider.
type ProviderConfig struct {
	Method    types.NotificationMethod
	Gateway   Gateway
	Responder Responder
	Metrics   core.MetricSink
	Logger    types.Logger

	// SendTimeout bounds one gateway round trip.
	SendTimeout time.Duration

	// BreakerMaxFailures consecutive failures open the circuit.
	BreakerMaxFailures uint32

	// BreakerOpenFor is how long the circuit stays open before probing.
	BreakerOpenFor time.Duration

	// OnShutdown is invoked at most once, when a connection-level fatal error
	// makes the provider unusable. The owner decides what shutting down
	// means (typically failing the worker so the platform restarts it).
	OnShutdown func()
}

// Compile-time assertion that Provider implements core.Provider.
var _ core.Provider = (*Provider)(nil)

// Provider is the shared push provider implementation behind both APNS and
// GCM. Sends go through a circuit breaker; rejections are classified into the
// dispatch error taxonomy, with permanently invalid tokens triggering device
// unregistration through the responder.
type Provider struct {
	method    types.NotificationMethod
	gateway   Gateway
	responder Responder
	metrics   core.MetricSink
	logger    types.Logger
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker[RejectionCode]

	shutdownOnce sync.Once
	onShutdown   func()
}

// NewProvider creates a push provider for one sub-method.
func NewProvider(cfg ProviderConfig) *Provider {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	p := &Provider{
		method:     cfg.Method,
		gateway:    cfg.Gateway,
		responder:  cfg.Responder,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		timeout:    cfg.SendTimeout,
		onShutdown: cfg.OnShutdown,
	}

	p.breaker = gobreaker.NewCircuitBreaker[RejectionCode](gobreaker.Settings{
		Name:    fmt.Sprintf("push-%s", cfg.Method),
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("push breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return p
}

// NotifyCustomer sends the notification to the token pinned on it and maps the
// gateway outcome into the dispatch error taxonomy.
func (p *Provider) NotifyCustomer(ctx context.Context, n *types.Notification) error {
	token := n.DeliveryEndpoint
	if token == "" {
		return &core.UnsupportedByUserError{
			Method: p.method,
			Reason: "no device token on notification",
		}
	}

	payload, err := buildPayload(n)
	if err != nil {
		return &core.UnsupportedByUserError{
			Method: p.method,
			Reason: fmt.Sprintf("unrenderable payload: %v", err),
		}
	}

	sendCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	code, err := p.breaker.Execute(func() (RejectionCode, error) {
		return p.gateway.Send(sendCtx, token, payload)
	})
	p.metrics.RecordLatency(ctx, p.method, time.Since(start))

	if err != nil {
		return p.classifySendError(ctx, n, err)
	}

	if code == CodeNone {
		p.responder.HandleHandOff(ctx, n)
		return nil
	}

	cls := Classify(code)
	if cls.Unregister {
		p.responder.HandleDeviceUnregistered(ctx, p.method, token)
		return &core.UnsupportedByUserError{
			Method: p.method,
			Reason: fmt.Sprintf("token rejected: %s", code),
		}
	}
	if cls.Terminal() {
		return &core.UnsupportedByUserError{
			Method: p.method,
			Reason: fmt.Sprintf("gateway rejected: %s", code),
		}
	}

	return &core.DispatchError{
		Reason: fmt.Sprintf("gateway rejection %s", code),
	}
}

// classifySendError maps transport-level failures. Connection-level fatal
// errors shut the provider down; an open breaker and ordinary transport errors
// stay retryable per message.
func (p *Provider) classifySendError(ctx context.Context, n *types.Notification, err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		p.metrics.IncrCounter(ctx, core.DispatchCounter(p.method, core.CauseConnectionFailure))
		p.logger.Error("push gateway connection failure, shutting provider down",
			"method", string(p.method),
			"error", err.Error(),
		)
		p.shutdownOnce.Do(func() {
			if p.onShutdown != nil {
				p.onShutdown()
			}
		})
		return &core.DispatchError{Reason: "gateway connection failure", Err: err}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &core.DispatchError{Reason: "gateway breaker open", Err: err}
	}

	return &core.DispatchError{Reason: "gateway send failed", Err: err}
}

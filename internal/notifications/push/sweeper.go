package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hubalert/internal/types"
)

// ExpiredToken is a token the gateway reported as expired out-of-band, not
// tied to any specific send.
type ExpiredToken struct {
	Method    types.NotificationMethod
	Token     string
	ExpiredAt time.Time
}

// FeedbackGateway exposes a gateway's expired token feed.
type FeedbackGateway interface {
	ExpiredTokens(ctx context.Context) ([]ExpiredToken, error)
}

// Compile-time assertion that HTTPFeed implements FeedbackGateway.
var _ FeedbackGateway = (*HTTPFeed)(nil)

// HTTPFeed polls the platform's token feedback endpoint, which aggregates
// expired registrations reported out-of-band by the push gateways.
type HTTPFeed struct {
	client *http.Client
	url    string
}

// NewHTTPFeed creates a feed reading from the given endpoint.
func NewHTTPFeed(client *http.Client, url string) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFeed{client: client, url: url}
}

// ExpiredTokens fetches and drains the current batch of expired tokens. The
// endpoint removes returned entries from the feed, so each token is reported
// once.
func (f *HTTPFeed) ExpiredTokens(ctx context.Context) ([]ExpiredToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feedback feed: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedback feed: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feedback feed: status %d", resp.StatusCode)
	}

	var expired []ExpiredToken
	if err := json.NewDecoder(resp.Body).Decode(&expired); err != nil {
		return nil, fmt.Errorf("feedback feed: decode: %w", err)
	}
	return expired, nil
}

// TokenSweeper periodically drains the gateway feedback feed and forwards each
// expired token as a device-unregistered event, so stale registrations stop
// receiving sends even when no notification ever targets them again.
type TokenSweeper struct {
	feed      FeedbackGateway
	responder Responder
	interval  time.Duration
	logger    types.Logger
}

// NewTokenSweeper creates a sweeper polling at the given interval.
func NewTokenSweeper(feed FeedbackGateway, responder Responder, interval time.Duration, logger types.Logger) *TokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TokenSweeper{
		feed:      feed,
		responder: responder,
		interval:  interval,
		logger:    logger,
	}
}

// Run polls until the context is cancelled. One failed sweep is logged and
// retried at the next tick.
func (s *TokenSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains the feed once.
func (s *TokenSweeper) Sweep(ctx context.Context) {
	expired, err := s.feed.ExpiredTokens(ctx)
	if err != nil {
		s.logger.Error("expired token feed poll failed", "error", err.Error())
		return
	}
	for _, t := range expired {
		s.responder.HandleDeviceUnregistered(ctx, t.Method, t.Token)
	}
	if len(expired) > 0 {
		s.logger.Info("expired tokens swept", "count", len(expired))
	}
}

package push

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"hubalert/internal/types"
)

// apnsDefaultHost is the production APNS HTTP/2 endpoint. Overridable in tests
// and for the sandbox environment.
const apnsDefaultHost = "https://api.push.apple.com"

// maxGatewayResponseRead limits how much of a gateway response body is read
// for rejection reasons.
const maxGatewayResponseRead = 4096

// APNSGatewayConfig configures an APNSGateway.
type APNSGatewayConfig struct {
	Host  string // defaults to apnsDefaultHost
	Topic string // apns-topic header, the app bundle id

	// BearerToken supplies the provider authentication token for each
	// request. JWT minting and rotation live behind this function.
	BearerToken func() (string, error)

	Logger types.Logger
}

// Compile-time assertion that APNSGateway implements Gateway.
var _ Gateway = (*APNSGateway)(nil)

// APNSGateway sends over the APNS HTTP/2 provider API. TLS and certificate
// failures surface as ConnectionError so the provider shuts down instead of
// retrying per message.
type APNSGateway struct {
	client *http.Client
	host   string
	topic  string
	token  func() (string, error)
	logger types.Logger
}

// NewAPNSGateway creates an APNSGateway using the given HTTP client.
func NewAPNSGateway(client *http.Client, cfg APNSGatewayConfig) *APNSGateway {
	host := cfg.Host
	if host == "" {
		host = apnsDefaultHost
	}
	return &APNSGateway{
		client: client,
		host:   host,
		topic:  cfg.Topic,
		token:  cfg.BearerToken,
		logger: cfg.Logger,
	}
}

// Send posts one notification to the device token and returns the normalized
// rejection code.
func (g *APNSGateway) Send(ctx context.Context, token string, payload []byte) (RejectionCode, error) {
	body, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": json.RawMessage(payload),
		},
	})
	if err != nil {
		return CodeUnknown, fmt.Errorf("apns: marshal envelope: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", g.host, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CodeUnknown, fmt.Errorf("apns: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.topic != "" {
		req.Header.Set("apns-topic", g.topic)
	}

	bearer, err := g.token()
	if err != nil {
		// Cannot authenticate at all: every send on this connection fails.
		return CodeUnknown, &ConnectionError{Err: fmt.Errorf("apns auth token: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := g.client.Do(req)
	if err != nil {
		if isTLSError(err) {
			return CodeUnknown, &ConnectionError{Err: err}
		}
		return CodeUnknown, fmt.Errorf("apns: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return CodeNone, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseRead))
	var rejection struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(raw, &rejection)

	g.logger.Warn("apns rejected notification",
		"status", resp.StatusCode,
		"reason", rejection.Reason,
	)
	if rejection.Reason == "" {
		return CodeUnknown, nil
	}
	return apnsReasonToCode(rejection.Reason), nil
}

// isTLSError reports whether the transport error is a TLS or certificate
// failure rather than an ordinary network hiccup.
func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		certInvalid x509.CertificateInvalidError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr)
}

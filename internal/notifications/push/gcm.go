package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"hubalert/internal/types"
)

// gcmDefaultEndpoint is the production GCM/FCM legacy send endpoint.
const gcmDefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// GCMGatewayConfig configures a GCMGateway.
type GCMGatewayConfig struct {
	Endpoint string // defaults to gcmDefaultEndpoint
	APIKey   string
	Logger   types.Logger
}

// Compile-time assertion that GCMGateway implements Gateway.
var _ Gateway = (*GCMGateway)(nil)

// GCMGateway sends through the GCM/FCM HTTP API.
type GCMGateway struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   types.Logger
}

// NewGCMGateway creates a GCMGateway using the given HTTP client.
func NewGCMGateway(client *http.Client, cfg GCMGatewayConfig) *GCMGateway {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = gcmDefaultEndpoint
	}
	return &GCMGateway{
		client:   client,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		logger:   cfg.Logger,
	}
}

// Send posts one notification to the registration token and returns the
// normalized rejection code.
func (g *GCMGateway) Send(ctx context.Context, token string, payload []byte) (RejectionCode, error) {
	body, err := json.Marshal(map[string]any{
		"to": token,
		"data": map[string]any{
			"body": json.RawMessage(payload),
		},
	})
	if err != nil {
		return CodeUnknown, fmt.Errorf("gcm: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return CodeUnknown, fmt.Errorf("gcm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if isTLSError(err) {
			return CodeUnknown, &ConnectionError{Err: err}
		}
		return CodeUnknown, fmt.Errorf("gcm: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Bad API key: nothing on this gateway can succeed.
		return CodeUnknown, &ConnectionError{Err: fmt.Errorf("gcm rejected api key")}
	}
	if resp.StatusCode != http.StatusOK {
		return CodeProcessingError, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseRead))
	var result struct {
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return CodeUnknown, fmt.Errorf("gcm: parse response: %w", err)
	}
	if len(result.Results) == 0 {
		return CodeNone, nil
	}

	errName := result.Results[0].Error
	if errName == "" {
		return CodeNone, nil
	}
	g.logger.Warn("gcm rejected notification", "reason", errName)
	return gcmErrorToCode(errName), nil
}

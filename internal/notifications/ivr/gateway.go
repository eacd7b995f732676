package ivr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hubalert/internal/types"
)

// maxResponseBodyRead limits how much of a gateway response body is read.
const maxResponseBodyRead = 4096

// HTTPGatewayConfig configures the outbound call gateway client.
type HTTPGatewayConfig struct {
	BaseURL string
	APIKey  string
	Logger  types.Logger
}

// Compile-time assertion that HTTPGateway implements CallGateway.
var _ CallGateway = (*HTTPGateway)(nil)

// HTTPGateway places calls through the telephony vendor's REST API.
type HTTPGateway struct {
	client *http.Client
	base   string
	apiKey string
	logger types.Logger
}

// NewHTTPGateway creates an HTTPGateway with the given HTTP client.
func NewHTTPGateway(client *http.Client, cfg HTTPGatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		client: client,
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		logger: cfg.Logger,
	}
}

// PlaceCall requests one outbound call and returns the vendor's call id.
func (g *HTTPGateway) PlaceCall(ctx context.Context, phoneNumber string, script CallScript) (string, error) {
	body, err := json.Marshal(map[string]any{
		"to":         phoneNumber,
		"messageKey": script.MessageKey,
		"message":    script.Message,
		"params":     script.Params,
		"ackKey":     script.AckMsgKey,
	})
	if err != nil {
		return "", fmt.Errorf("ivr gateway: marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/calls", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ivr gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ivr gateway: call request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ivr gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("ivr gateway: parse response: %w", err)
	}
	return result.CallID, nil
}

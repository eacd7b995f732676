// Package email implements the email notification delivery channel over the
// SendGrid v3 Mail Send API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL. Overridable in tests.
const sendGridAPIBase = "https://api.sendgrid.com"

// maxResponseBodyRead limits how much of an error response body is read.
const maxResponseBodyRead = 4096

// AddressSource resolves the email address on file for a person.
type AddressSource interface {
	EmailFor(ctx context.Context, personID string) (string, error)
}

// Renderer renders a notification's message key into subject and body text.
type Renderer interface {
	Render(n *types.Notification) (subject, plainBody, htmlBody string, err error)
}

// ProviderConfig holds the dependencies and tuning for the email provider.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string // defaults to sendGridAPIBase
	SenderName  string
	SenderEmail string
	ReplyTo     string

	// FilterDomain suppresses sends to a load-testing domain so synthetic
	// traffic never reaches the mail gateway. Empty disables the filter.
	FilterDomain string

	Addresses AddressSource
	Renderer  Renderer
	Logger    types.Logger
}

// Compile-time assertion that Provider implements core.Provider.
var _ core.Provider = (*Provider)(nil)

// Provider sends email notifications through SendGrid. Missing or invalid
// recipient addresses are terminal for the user; gateway failures are
// retryable.
type Provider struct {
	client *http.Client
	cfg    ProviderConfig
	base   string
}

// NewProvider creates the email provider with the given HTTP client.
func NewProvider(client *http.Client, cfg ProviderConfig) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = sendGridAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		client: client,
		cfg:    cfg,
		base:   strings.TrimSuffix(base, "/"),
	}
}

// NotifyCustomer resolves the recipient address, renders the message, and
// sends it.
func (p *Provider) NotifyCustomer(ctx context.Context, n *types.Notification) error {
	to := n.DeliveryEndpoint
	if to == "" {
		addr, err := p.cfg.Addresses.EmailFor(ctx, n.PersonID)
		if err != nil {
			return &core.DispatchError{Reason: "email address lookup failed", Err: err}
		}
		to = addr
	}

	if !validEmail(to) {
		return &core.UnsupportedByUserError{
			Method: types.MethodEmail,
			Reason: "no valid email address on file",
		}
	}

	// Pin the resolved address so audit records name the actual destination.
	n.DeliveryEndpoint = to

	if p.cfg.FilterDomain != "" && strings.HasSuffix(to, p.cfg.FilterDomain) {
		p.cfg.Logger.Info("email suppressed by filter domain",
			"notification_id", n.ID,
		)
		return nil
	}

	subject, plainBody, htmlBody, err := p.cfg.Renderer.Render(n)
	if err != nil {
		return &core.DispatchError{Reason: "render email message", Err: err}
	}

	return p.send(ctx, to, subject, plainBody, htmlBody)
}

// send posts one message to the SendGrid mail/send endpoint. Any status above
// 202 is a gateway failure.
func (p *Provider) send(ctx context.Context, to, subject, plainBody, htmlBody string) error {
	content := []map[string]string{
		{"type": "text/plain", "value": plainBody},
	}
	if htmlBody != "" {
		content = append(content, map[string]string{"type": "text/html", "value": htmlBody})
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": to}}},
		},
		"from": map[string]string{
			"email": p.cfg.SenderEmail,
			"name":  p.cfg.SenderName,
		},
		"reply_to": map[string]string{"email": p.cfg.ReplyTo},
		"subject":  subject,
		"content":  content,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &core.DispatchError{Reason: "marshal mail payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return &core.DispatchError{Reason: "build mail request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &core.DispatchError{Reason: "mail gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode > http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
		return &core.DispatchError{
			Reason: fmt.Sprintf("mail gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	return nil
}

func validEmail(addr string) bool {
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

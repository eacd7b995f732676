package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

// fakeAddresses resolves every person to a fixed address.
type fakeAddresses struct {
	email string
	err   error
}

func (f *fakeAddresses) EmailFor(_ context.Context, _ string) (string, error) {
	return f.email, f.err
}

// staticRenderer always renders the same message.
type staticRenderer struct{}

func (staticRenderer) Render(_ *types.Notification) (string, string, string, error) {
	return "Alert at your place", "Something happened.", "", nil
}

func emailNotification() *types.Notification {
	return &types.Notification{
		ID:         "n-1",
		PersonID:   "person-1",
		Method:     types.MethodEmail,
		MessageKey: "alarm.triggered.smoke",
	}
}

func newTestProvider(baseURL string, addresses AddressSource, filterDomain string) *Provider {
	return NewProvider(http.DefaultClient, ProviderConfig{
		APIKey:       "sg-test-key",
		BaseURL:      baseURL,
		SenderName:   "HubAlert",
		SenderEmail:  "alerts@hubalert.io",
		ReplyTo:      "no-reply@hubalert.io",
		FilterDomain: filterDomain,
		Addresses:    addresses,
		Renderer:     staticRenderer{},
		Logger:       &mockLogger{},
	})
}

func TestProvider_SendsThroughGateway(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newTestProvider(server.URL, &fakeAddresses{email: "owner@example.com"}, "")
	n := emailNotification()

	if err := p.NotifyCustomer(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer sg-test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if n.DeliveryEndpoint != "owner@example.com" {
		t.Errorf("resolved address must be pinned for the audit trail, got %q", n.DeliveryEndpoint)
	}
	if gotPayload["subject"] != "Alert at your place" {
		t.Errorf("unexpected subject %v", gotPayload["subject"])
	}
}

func TestProvider_InvalidAddressIsUnsupported(t *testing.T) {
	p := newTestProvider("http://unused", &fakeAddresses{email: "not-an-email"}, "")

	err := p.NotifyCustomer(context.Background(), emailNotification())

	var ue *core.UnsupportedByUserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedByUserError, got %v", err)
	}
}

func TestProvider_MissingAddressIsUnsupported(t *testing.T) {
	p := newTestProvider("http://unused", &fakeAddresses{email: ""}, "")

	err := p.NotifyCustomer(context.Background(), emailNotification())

	var ue *core.UnsupportedByUserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedByUserError, got %v", err)
	}
}

func TestProvider_LookupFailureIsRetryable(t *testing.T) {
	p := newTestProvider("http://unused", &fakeAddresses{err: fmt.Errorf("db down")}, "")

	err := p.NotifyCustomer(context.Background(), emailNotification())

	var de *core.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
}

func TestProvider_FilterDomainSuppressesSend(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newTestProvider(server.URL, &fakeAddresses{email: "bot@loadtest.example"}, "loadtest.example")

	if err := p.NotifyCustomer(context.Background(), emailNotification()); err != nil {
		t.Fatalf("suppressed send must succeed silently: %v", err)
	}
	if requests != 0 {
		t.Errorf("filtered address must never reach the gateway, got %d requests", requests)
	}
}

func TestProvider_GatewayRejectionIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestProvider(server.URL, &fakeAddresses{email: "owner@example.com"}, "")

	err := p.NotifyCustomer(context.Background(), emailNotification())

	var de *core.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
}

func TestProvider_PinnedEndpointSkipsLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	// A retried notification arrives with the address already pinned; the
	// lookup source must not be consulted again.
	p := newTestProvider(server.URL, &fakeAddresses{err: fmt.Errorf("must not be called")}, "")
	n := emailNotification()
	n.DeliveryEndpoint = "pinned@example.com"

	if err := p.NotifyCustomer(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hubalert/internal/types"
)

// spyPublisher records published messages with their delays.
type spyPublisher struct {
	published []publishedMsg
	err       error
}

type publishedMsg struct {
	msg   types.NotificationMessage
	delay time.Duration
}

func (p *spyPublisher) Publish(_ context.Context, msg types.NotificationMessage, delay time.Duration) error {
	p.published = append(p.published, publishedMsg{msg: msg, delay: delay})
	return p.err
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func TestCalculateNextRetry_BackoffProgression(t *testing.T) {
	policy := testPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second}, // capped at MaxDelay
		{-1, 1 * time.Second},  // negative clamps to first attempt
	}
	for _, tc := range cases {
		if got := CalculateNextRetry(policy, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestProcessor_RetryIncrementsAndPublishes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(3, 5*time.Minute, clock)
	publisher := &spyPublisher{}
	audit := NewMemoryAuditLog(clock)
	metrics := NewMemoryMetricSink()
	p := NewProcessor(manager, testPolicy(), publisher, audit, metrics, &mockLogger{})

	n := &types.Notification{
		ID:        "n-1",
		PersonID:  "person-1",
		Method:    types.MethodIVR,
		CreatedAt: now.Add(-10 * time.Second),
	}

	if err := p.Retry(context.Background(), n, &DispatchError{Reason: "timeout"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n.AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", n.AttemptCount)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(publisher.published))
	}
	if publisher.published[0].delay != 1*time.Second {
		t.Errorf("expected first retry delay 1s, got %v", publisher.published[0].delay)
	}
	if publisher.published[0].msg.RetryCount != 1 {
		t.Errorf("expected retry count 1 on message, got %d", publisher.published[0].msg.RetryCount)
	}
	if len(audit.Records()) != 0 {
		t.Errorf("a scheduled retry must not write audit records")
	}
}

func TestProcessor_SecondRetryBacksOff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(3, 5*time.Minute, clock)
	publisher := &spyPublisher{}
	p := NewProcessor(manager, testPolicy(), publisher, NewMemoryAuditLog(clock), NewMemoryMetricSink(), &mockLogger{})

	n := &types.Notification{
		ID:           "n-1",
		Method:       types.MethodEmail,
		AttemptCount: 1,
		CreatedAt:    now.Add(-10 * time.Second),
	}

	if err := p.Retry(context.Background(), n, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if publisher.published[0].delay != 2*time.Second {
		t.Errorf("expected second retry delay 2s, got %v", publisher.published[0].delay)
	}
}

func TestProcessor_ExpiryByAttemptsIsAudited(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(3, 5*time.Minute, clock)
	publisher := &spyPublisher{}
	audit := NewMemoryAuditLog(clock)
	metrics := NewMemoryMetricSink()
	p := NewProcessor(manager, testPolicy(), publisher, audit, metrics, &mockLogger{})

	n := &types.Notification{
		ID:           "n-1",
		Method:       types.MethodIVR,
		AttemptCount: 3,
		CreatedAt:    now.Add(-10 * time.Second),
	}

	if err := p.Retry(context.Background(), n, &DispatchError{Reason: "timeout"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(publisher.published) != 0 {
		t.Errorf("expired notification must not be re-enqueued")
	}
	if got := metrics.Count("notifications.dispatch.ivr.expired"); got != 1 {
		t.Errorf("expected expired counter 1, got %d", got)
	}

	records := audit.RecordsFor("n-1")
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].State != types.AuditError {
		t.Errorf("expected ERROR audit state, got %s", records[0].State)
	}
	if records[0].Cause == "" {
		t.Errorf("expiry audit record must carry the last failure cause")
	}
}

func TestProcessor_ExpiryByNotificationTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(10, 0, clock)
	publisher := &spyPublisher{}
	audit := NewMemoryAuditLog(clock)
	p := NewProcessor(manager, testPolicy(), publisher, audit, NewMemoryMetricSink(), &mockLogger{})

	n := &types.Notification{
		ID:         "n-1",
		Method:     types.MethodEmail,
		CreatedAt:  now.Add(-2 * time.Minute),
		TimeToLive: 1 * time.Minute,
	}

	if err := p.Retry(context.Background(), n, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.published) != 0 {
		t.Errorf("aged-out notification must not be re-enqueued")
	}
	if records := audit.RecordsFor("n-1"); len(records) != 1 || records[0].State != types.AuditError {
		t.Fatalf("expected 1 ERROR audit record, got %+v", records)
	}
}

func TestProcessor_ManagerTTLAppliesWhenNotificationHasNone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(10, 5*time.Minute, clock)

	fresh := &types.Notification{CreatedAt: now.Add(-1 * time.Minute)}
	if manager.HasExpired(fresh) {
		t.Error("notification within manager TTL should not be expired")
	}

	stale := &types.Notification{CreatedAt: now.Add(-10 * time.Minute)}
	if !manager.HasExpired(stale) {
		t.Error("notification past manager TTL should be expired")
	}
}

func TestProcessor_PublishFailureSurfaces(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(3, 5*time.Minute, clock)
	publisher := &spyPublisher{err: fmt.Errorf("queue unreachable")}
	p := NewProcessor(manager, testPolicy(), publisher, NewMemoryAuditLog(clock), NewMemoryMetricSink(), &mockLogger{})

	n := &types.Notification{ID: "n-1", Method: types.MethodEmail, CreatedAt: now}
	if err := p.Retry(context.Background(), n, nil); err == nil {
		t.Fatal("expected publish failure to surface")
	}
}

func TestProcessor_SplitDerivesIndependentChild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &mockClock{now: now}
	manager := NewRetryManager(3, 5*time.Minute, clock)
	publisher := &spyPublisher{}
	p := NewProcessor(manager, testPolicy(), publisher, NewMemoryAuditLog(clock), NewMemoryMetricSink(), &mockLogger{})

	parent := types.Notification{
		ID:           "n-1",
		PersonID:     "person-1",
		Method:       types.MethodPush,
		AttemptCount: 2,
		MessageParams: map[string]string{
			"source": "DRIV:dev:abc",
		},
		CreatedAt: now,
	}

	if err := p.Split(context.Background(), parent, types.MethodAPNS, "apns-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(publisher.published))
	}
	pub := publisher.published[0]
	child := pub.msg.Notification

	if pub.delay != 0 {
		t.Errorf("split child must publish with no delay, got %v", pub.delay)
	}
	if child.ID != "n-1_apns" {
		t.Errorf("expected derived child id n-1_apns, got %q", child.ID)
	}
	if child.Method != types.MethodAPNS {
		t.Errorf("expected child method APNS, got %s", child.Method)
	}
	if child.DeliveryEndpoint != "apns-token" {
		t.Errorf("expected child endpoint apns-token, got %q", child.DeliveryEndpoint)
	}
	if child.AttemptCount != 0 {
		t.Errorf("split child must restart its retry budget, got attempt %d", child.AttemptCount)
	}

	// Params are copied, not shared.
	child.MessageParams["source"] = "mutated"
	if parent.MessageParams["source"] != "DRIV:dev:abc" {
		t.Errorf("child params must not alias the parent's map")
	}
}

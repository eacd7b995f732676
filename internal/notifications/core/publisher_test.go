package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"hubalert/internal/types"
)

// mockSQSSender records SendMessage calls.
type mockSQSSender struct {
	inputs    []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func testMessage() types.NotificationMessage {
	return types.NotificationMessage{
		Notification: types.Notification{
			ID:         "n-1",
			PersonID:   "person-1",
			Method:     types.MethodEmail,
			MessageKey: "alarm.triggered.smoke",
		},
		TraceID:    "trace-1",
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotificationPublisher_PlainBody(t *testing.T) {
	sender := &mockSQSSender{}
	p := NewNotificationPublisher(sender, "https://sqs/notifications", &mockLogger{})

	if err := p.Publish(context.Background(), testMessage(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.inputs) != 1 {
		t.Fatalf("expected 1 SendMessage call, got %d", len(sender.inputs))
	}
	input := sender.inputs[0]

	if *input.QueueUrl != "https://sqs/notifications" {
		t.Errorf("unexpected queue url %q", *input.QueueUrl)
	}
	if input.DelaySeconds != 0 {
		t.Errorf("expected no delay, got %d", input.DelaySeconds)
	}
	if !strings.Contains(*input.MessageBody, `"alarm.triggered.smoke"`) {
		t.Errorf("small body must stay plain JSON, got %q", *input.MessageBody)
	}
	if _, compressed := input.MessageAttributes["content_encoding"]; compressed {
		t.Errorf("small body must not carry a content_encoding attribute")
	}
	if attr, ok := input.MessageAttributes["trace_id"]; !ok || *attr.StringValue != "trace-1" {
		t.Errorf("expected trace_id attribute trace-1, got %+v", attr)
	}

	// Round trip through the consumer-side decoder.
	decoded, err := DecodeNotificationMessage(*input.MessageBody, "")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Notification.ID != "n-1" {
		t.Errorf("expected decoded notification n-1, got %q", decoded.Notification.ID)
	}
}

func TestNotificationPublisher_LargeBodyIsCompressed(t *testing.T) {
	sender := &mockSQSSender{}
	p := NewNotificationPublisher(sender, "https://sqs/notifications", &mockLogger{})

	msg := testMessage()
	msg.Notification.MessageParams = map[string]string{
		"dump": strings.Repeat("x", compressThreshold+1),
	}

	if err := p.Publish(context.Background(), msg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := sender.inputs[0]
	attr, ok := input.MessageAttributes["content_encoding"]
	if !ok || *attr.StringValue != "gzip" {
		t.Fatalf("expected content_encoding=gzip attribute, got %+v", attr)
	}
	if len(*input.MessageBody) >= compressThreshold {
		t.Errorf("compressed body should shrink well below the threshold, got %d bytes", len(*input.MessageBody))
	}

	decoded, err := DecodeNotificationMessage(*input.MessageBody, "gzip")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Notification.MessageParams["dump"]) != compressThreshold+1 {
		t.Errorf("round trip lost payload content")
	}
}

func TestNotificationPublisher_DelayClamping(t *testing.T) {
	sender := &mockSQSSender{}
	p := NewNotificationPublisher(sender, "https://sqs/notifications", &mockLogger{})

	if err := p.Publish(context.Background(), testMessage(), 2*time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.inputs[0].DelaySeconds != sqsMaxDelaySeconds {
		t.Errorf("expected delay clamped to %d, got %d", sqsMaxDelaySeconds, sender.inputs[0].DelaySeconds)
	}

	if err := p.Publish(context.Background(), testMessage(), -5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.inputs[1].DelaySeconds != 0 {
		t.Errorf("expected negative delay clamped to 0, got %d", sender.inputs[1].DelaySeconds)
	}
}

func TestNotificationPublisher_EmptyTraceIDDefaults(t *testing.T) {
	sender := &mockSQSSender{}
	p := NewNotificationPublisher(sender, "https://sqs/notifications", &mockLogger{})

	msg := testMessage()
	msg.TraceID = ""
	if err := p.Publish(context.Background(), msg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attr := sender.inputs[0].MessageAttributes["trace_id"]
	if *attr.StringValue != "unknown" {
		t.Errorf("expected trace_id to default to unknown, got %q", *attr.StringValue)
	}
}

func TestDecodeNotificationMessage_BadInput(t *testing.T) {
	if _, err := DecodeNotificationMessage("not json", ""); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := DecodeNotificationMessage("not base64!!", "gzip"); err == nil {
		t.Error("expected error for malformed base64 gzip body")
	}
}

package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/gzip"

	"hubalert/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// sqsMaxDelaySeconds is the maximum delay SQS supports (15 minutes).
const sqsMaxDelaySeconds = 900

// compressThreshold is the serialized size above which message bodies are
// gzipped before publishing. Notification payloads with large message param
// maps (incident trigger dumps) can approach the SQS body limit otherwise.
const compressThreshold = 64 * 1024

// NotificationPublisher publishes NotificationMessages to the notification
// queue for initial dispatch or retry. Bodies exceeding compressThreshold are
// gzipped and base64-encoded, flagged with a content-encoding attribute so the
// consumer knows to inflate.
type NotificationPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// Compile-time assertion that NotificationPublisher implements QueuePublisher.
var _ QueuePublisher = (*NotificationPublisher)(nil)

// NewNotificationPublisher creates a publisher targeting the given queue.
func NewNotificationPublisher(client SQSSender, queueURL string, logger types.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes the message and sends it with the specified delay,
// clamped to the SQS maximum of 900 seconds.
func (p *NotificationPublisher) Publish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification publisher: marshal message: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"trace_id": {
			DataType:    aws.String("String"),
			StringValue: aws.String(orUnknown(msg.TraceID)),
		},
	}

	encoded := string(body)
	if len(body) > compressThreshold {
		compressed, cerr := gzipBytes(body)
		if cerr != nil {
			return fmt.Errorf("notification publisher: compress body: %w", cerr)
		}
		encoded = base64.StdEncoding.EncodeToString(compressed)
		attrs["content_encoding"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String("gzip"),
		}
	}

	delaySec := int32(delay.Seconds())
	if delaySec > sqsMaxDelaySeconds {
		delaySec = sqsMaxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(encoded),
		DelaySeconds:      delaySec,
		MessageAttributes: attrs,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notification publisher: send to %s: %w", p.queueURL, err)
	}

	p.logger.Info("notification message published",
		"notification_id", msg.Notification.ID,
		"method", string(msg.Notification.Method),
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
	)

	return nil
}

// DecodeNotificationMessage reverses Publish's encoding: plain JSON, or
// base64 gzip when the content_encoding attribute says so.
func DecodeNotificationMessage(body string, contentEncoding string) (types.NotificationMessage, error) {
	var msg types.NotificationMessage
	raw := []byte(body)

	if contentEncoding == "gzip" {
		compressed, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return msg, fmt.Errorf("decode notification message: base64: %w", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return msg, fmt.Errorf("decode notification message: gzip: %w", err)
		}
		defer zr.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(zr); err != nil {
			return msg, fmt.Errorf("decode notification message: inflate: %w", err)
		}
		raw = buf.Bytes()
	}

	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("decode notification message: unmarshal: %w", err)
	}
	return msg, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

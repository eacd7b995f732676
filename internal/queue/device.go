// Package queue provides SQS-based message producers for the alerting core:
// the device command channel and the notification enqueue path the alarm
// strategies feed into.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"hubalert/internal/alarm"
	"hubalert/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Compile-time assertion that DeviceCommandQueue implements
// alarm.DeviceCommandSender.
var _ alarm.DeviceCommandSender = (*DeviceCommandQueue)(nil)

// deviceCommand is the wire format for one command to the protocol layer.
type deviceCommand struct {
	Protocol  string         `json:"protocol"`
	Message   map[string]any `json:"message"`
	TTLMillis int64          `json:"ttlMs"`
	SentAt    time.Time      `json:"sentAt"`
}

// DeviceCommandQueue forwards commands to the physical device layer over SQS.
type DeviceCommandQueue struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewDeviceCommandQueue creates a DeviceCommandQueue targeting the given queue.
func NewDeviceCommandQueue(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *DeviceCommandQueue {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &DeviceCommandQueue{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// SendToDevice enqueues one command for the protocol layer. A ttl of -1 means
// the command never expires; the protocol layer drops expired commands rather
// than delivering them late.
func (q *DeviceCommandQueue) SendToDevice(ctx context.Context, protocol string, message map[string]any, ttl time.Duration) error {
	ttlMillis := int64(-1)
	if ttl >= 0 {
		ttlMillis = ttl.Milliseconds()
	}

	body, err := json.Marshal(deviceCommand{
		Protocol:  protocol,
		Message:   message,
		TTLMillis: ttlMillis,
		SentAt:    q.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("device command queue: marshal: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"protocol": {
				DataType:    aws.String("String"),
				StringValue: aws.String(protocol),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("device command queue: send: %w", err)
	}

	q.logger.Info("device command enqueued", "protocol", protocol)
	return nil
}

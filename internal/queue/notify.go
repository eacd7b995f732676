package queue

import (
	"context"

	"hubalert/internal/alarm"
	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// Compile-time assertion that NotifyQueue implements alarm.NotificationSender.
var _ alarm.NotificationSender = (*NotifyQueue)(nil)

// NotifyQueue hands notifications from the alarm strategies to the dispatch
// pipeline by publishing them to the notification queue with no delay.
type NotifyQueue struct {
	publisher core.QueuePublisher
	clock     types.Clock
}

// NewNotifyQueue creates a NotifyQueue over the given publisher.
func NewNotifyQueue(publisher core.QueuePublisher, clock types.Clock) *NotifyQueue {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &NotifyQueue{publisher: publisher, clock: clock}
}

// Send enqueues one notification for dispatch.
func (q *NotifyQueue) Send(ctx context.Context, n types.Notification) error {
	msg := types.NotificationMessage{
		Notification: n,
		RetryCount:   0,
		EnqueuedAt:   q.clock.Now(),
	}
	return q.publisher.Publish(ctx, msg, 0)
}

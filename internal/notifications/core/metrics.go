package core

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hubalert/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetricSink implements MetricSink.
var _ MetricSink = (*CloudWatchMetricSink)(nil)

// CloudWatchMetricSink implements MetricSink by emitting metrics to AWS
// CloudWatch. Counter names follow the notifications.dispatch.<method>.<cause>
// convention built by DispatchCounter; the full counter name is the CloudWatch
// metric name so existing dashboards keyed on those names keep working.
//
// Emission is fire-and-forget: a CloudWatch failure is logged, never returned,
// and never blocks dispatch.
type CloudWatchMetricSink struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetricSink creates a sink publishing to the given namespace.
func NewCloudWatchMetricSink(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetricSink {
	return &CloudWatchMetricSink{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// IncrCounter emits a count-of-one datum under the given counter name.
func (m *CloudWatchMetricSink) IncrCounter(ctx context.Context, name string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record counter metric",
			"error", err.Error(),
			"counter", name,
		)
	}
}

// RecordLatency emits a delivery latency metric with a Method dimension.
// Duration is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchMetricSink) RecordLatency(ctx context.Context, method types.NotificationMethod, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("notifications.dispatch.latency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Method"),
						Value: aws.String(string(method)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"method", string(method),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Compile-time assertion that MemoryMetricSink implements MetricSink.
var _ MetricSink = (*MemoryMetricSink)(nil)

// MemoryMetricSink accumulates counters in memory. Used by tests to assert on
// exact counter names and by local runs without AWS credentials.
type MemoryMetricSink struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewMemoryMetricSink creates an empty in-memory sink.
func NewMemoryMetricSink() *MemoryMetricSink {
	return &MemoryMetricSink{counters: make(map[string]int)}
}

// IncrCounter bumps the named counter.
func (m *MemoryMetricSink) IncrCounter(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// RecordLatency is a no-op for the in-memory sink.
func (m *MemoryMetricSink) RecordLatency(_ context.Context, _ types.NotificationMethod, _ time.Duration) {}

// Count returns the current value of the named counter.
func (m *MemoryMetricSink) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Counters returns a snapshot of all counters.
func (m *MemoryMetricSink) Counters() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Package metrics publishes delivery pipeline telemetry. Metric emission is
// best-effort: failures are logged, never returned, because observability
// must not affect delivery outcomes.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"orderpulse/internal/types"
)

// Metric and dimension names.
const (
	MetricNoticesDelivered = "NoticesDelivered"
	MetricCycleDuration    = "CycleDuration"
	MetricFetchAttempt     = "FetchAttempt"
	MetricPushConnected    = "PushConnected"

	DimResult = "Result"
)

// FetchOutcome categorizes one poll fetch for metrics reporting.
type FetchOutcome string

const (
	FetchSuccess  FetchOutcome = "success"
	FetchFailed   FetchOutcome = "failed"
	FetchDeadline FetchOutcome = "deadline"
)

// CycleMetrics abstracts telemetry for the delivery pipeline.
type CycleMetrics interface {
	// RecordCycle emits the per-cycle summary: notices delivered and duration.
	RecordCycle(ctx context.Context, result types.CycleResult)

	// RecordFetch emits one FetchAttempt with its outcome.
	RecordFetch(ctx context.Context, outcome FetchOutcome)

	// RecordPush emits whether the push channel connected this cycle.
	RecordPush(ctx context.Context, connected bool)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchCycleMetrics implements CycleMetrics.
var _ CycleMetrics = (*CloudWatchCycleMetrics)(nil)

// CloudWatchCycleMetrics implements CycleMetrics by emitting metrics to AWS
// CloudWatch.
type CloudWatchCycleMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCycleMetrics creates a publisher targeting the given
// CloudWatch namespace.
func NewCloudWatchCycleMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCycleMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCycleMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordCycle emits NoticesDelivered and CycleDuration for one cycle.
func (m *CloudWatchCycleMetrics) RecordCycle(ctx context.Context, result types.CycleResult) {
	duration := result.FinishedAt.Sub(result.StartedAt)
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricNoticesDelivered),
			Value:      aws.Float64(float64(result.NoticesDelivered)),
			Unit:       cwtypes.StandardUnitCount,
		},
		{
			MetricName: aws.String(MetricCycleDuration),
			Value:      aws.Float64(duration.Seconds()),
			Unit:       cwtypes.StandardUnitSeconds,
		},
	})
}

// RecordFetch emits a FetchAttempt metric with a Result dimension.
func (m *CloudWatchCycleMetrics) RecordFetch(ctx context.Context, outcome FetchOutcome) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricFetchAttempt),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String(DimResult),
					Value: aws.String(string(outcome)),
				},
			},
		},
	})
}

// RecordPush emits PushConnected as 1 or 0.
func (m *CloudWatchCycleMetrics) RecordPush(ctx context.Context, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricPushConnected),
			Value:      aws.Float64(value),
			Unit:       cwtypes.StandardUnitCount,
		},
	})
}

func (m *CloudWatchCycleMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	// Metric emission during drain must survive cycle cancellation.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}

	if _, err := m.client.PutMetricData(putCtx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metrics",
			"namespace", m.namespace,
			"error", err,
		)
	}
}

// NoopMetrics discards all metrics. Used in daemon/local mode when no
// CloudWatch namespace is configured, and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordCycle(context.Context, types.CycleResult) {}
func (NoopMetrics) RecordFetch(context.Context, FetchOutcome)      {}
func (NoopMetrics) RecordPush(context.Context, bool)               {}

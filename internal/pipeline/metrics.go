package pipeline

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pushpipe/internal/types"
)

// Metric names and dimension keys emitted to CloudWatch.
const (
	metricDeliveryAttempt = "DeliveryAttempt"
	metricJobDuration     = "JobDuration"
	metricBatchJobs       = "BatchJobs"

	dimResult  = "Result"
	dimOutcome = "Outcome"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements Metrics.
var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements Metrics by emitting to AWS CloudWatch.
// Publishing failures are logged and swallowed; telemetry never affects
// pipeline behavior.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a publisher for the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits one DeliveryAttempt count with a Result dimension.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordJobDuration emits the wall time one job took to reach a terminal
// state.
func (m *CloudWatchMetrics) RecordJobDuration(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricJobDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordBatch emits job-level counters for one invocation.
func (m *CloudWatchMetrics) RecordBatch(ctx context.Context, processed, successful, failed int) {
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(metricBatchJobs),
			Value:      aws.Float64(float64(successful)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimOutcome), Value: aws.String("completed")},
			},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(metricBatchJobs),
			Value:      aws.Float64(float64(failed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimOutcome), Value: aws.String("failed")},
			},
		},
	)
	_ = processed // derivable from the two series; not emitted separately
}

// put publishes the data points, logging and swallowing any failure.
func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metrics", "error", err.Error())
	}
}

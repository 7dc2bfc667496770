// Package metrics emits dispatcher telemetry to AWS CloudWatch.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"lifesync/internal/scheduler"
	"lifesync/internal/types"
)

// Metric and dimension names published under the configured namespace.
const (
	metricTaskExecution = "TaskExecution"
	metricBatchClaimed  = "BatchClaimed"

	dimTaskType = "TaskType"
	dimResult   = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchDispatchMetrics implements
// scheduler.DispatchMetrics.
var _ scheduler.DispatchMetrics = (*CloudWatchDispatchMetrics)(nil)

// CloudWatchDispatchMetrics publishes per-task outcomes and batch sizes.
// Emission failures are logged and swallowed; telemetry never fails a
// dispatch.
type CloudWatchDispatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchDispatchMetrics creates metrics publishing to the given
// namespace.
func NewCloudWatchDispatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDispatchMetrics {
	return &CloudWatchDispatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordTask emits one TaskExecution count with TaskType and Result
// dimensions.
func (m *CloudWatchDispatchMetrics) RecordTask(ctx context.Context, taskType types.TaskType, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricTaskExecution),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(dimTaskType),
						Value: aws.String(string(taskType)),
					},
					{
						Name:  aws.String(dimResult),
						Value: aws.String(result),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record task metric",
			"error", err.Error(),
			"task_type", string(taskType),
			"result", result,
		)
	}
}

// RecordBatch emits the number of tasks claimed by one dispatch cycle.
func (m *CloudWatchDispatchMetrics) RecordBatch(ctx context.Context, claimed int) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricBatchClaimed),
				Value:      aws.Float64(float64(claimed)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record batch metric",
			"error", err.Error(),
			"claimed", claimed,
		)
	}
}

package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/types"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	putErr error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, f.putErr
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

func TestRecordTask_EmitsDimensions(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchDispatchMetrics(client, "LifeSync", nopLogger{})

	m.RecordTask(context.Background(), types.TaskDataCleanup, true)
	m.RecordTask(context.Background(), types.TaskBackup, false)

	require.Len(t, client.inputs, 2)

	first := client.inputs[0]
	assert.Equal(t, "LifeSync", *first.Namespace)
	require.Len(t, first.MetricData, 1)
	datum := first.MetricData[0]
	assert.Equal(t, "TaskExecution", *datum.MetricName)
	assert.Equal(t, 1.0, *datum.Value)
	require.Len(t, datum.Dimensions, 2)
	assert.Equal(t, "TaskType", *datum.Dimensions[0].Name)
	assert.Equal(t, "data_cleanup", *datum.Dimensions[0].Value)
	assert.Equal(t, "Result", *datum.Dimensions[1].Name)
	assert.Equal(t, "success", *datum.Dimensions[1].Value)

	second := client.inputs[1].MetricData[0]
	assert.Equal(t, "backup", *second.Dimensions[0].Value)
	assert.Equal(t, "failure", *second.Dimensions[1].Value)
}

func TestRecordBatch_EmitsClaimedCount(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchDispatchMetrics(client, "LifeSync", nopLogger{})

	m.RecordBatch(context.Background(), 7)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, "BatchClaimed", *datum.MetricName)
	assert.Equal(t, 7.0, *datum.Value)
	assert.Empty(t, datum.Dimensions)
}

func TestRecordTask_EmissionFailureIsSwallowed(t *testing.T) {
	client := &fakeCloudWatch{putErr: errors.New("throttled")}
	m := NewCloudWatchDispatchMetrics(client, "LifeSync", nopLogger{})

	// Must not panic or propagate; telemetry never fails a dispatch.
	m.RecordTask(context.Background(), types.TaskCustom, true)
	m.RecordBatch(context.Background(), 3)
}

// Package queue provides the SQS-based producer that asks the dispatch
// worker to run a batch of due tasks out of band.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"lifesync/internal/config"
	"lifesync/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DispatchMessage is the payload carried on the dispatch queue. The worker
// runs one batch of due tasks per message.
type DispatchMessage struct {
	TraceID     string    `json:"trace_id"`
	BatchSize   int       `json:"batch_size"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Compile-time assertion that DispatchPublisher implements DispatchTrigger.
var _ types.DispatchTrigger = (*DispatchPublisher)(nil)

// DispatchPublisher implements types.DispatchTrigger by publishing a
// DispatchMessage to the configured SQS queue. The API layer uses it for
// manual dispatch requests so a slow batch never blocks the HTTP response.
type DispatchPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewDispatchPublisher creates a DispatchPublisher reading the queue URL from
// the AWS configuration.
func NewDispatchPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *DispatchPublisher {
	return &DispatchPublisher{
		client:   client,
		queueURL: awsCfg.DispatchQueue,
		logger:   logger,
	}
}

// TriggerDispatch enqueues one dispatch request. The reason attribute rides
// as an SQS message attribute for queue-level observability.
func (p *DispatchPublisher) TriggerDispatch(ctx context.Context, batchSize int, reason string) error {
	msg := DispatchMessage{
		TraceID:     uuid.NewString(),
		BatchSize:   batchSize,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DispatchMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"failed to publish dispatch trigger", err)
	}

	p.logger.InfoContext(ctx, "dispatch trigger published",
		"trace_id", msg.TraceID,
		"batch_size", batchSize,
		"reason", reason,
	)
	return nil
}

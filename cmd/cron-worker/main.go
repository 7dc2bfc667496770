// Package main is the entrypoint for the dispatch worker Lambda.
//
// The worker is invoked two ways:
//   - EventBridge schedule (the recurring tick): the event detail may carry
//     a batch size override.
//   - SQS dispatch queue (manual triggers from the API): each record carries
//     one DispatchMessage.
//
// Handler flow per invocation:
//  1. Acquire a distributed job lock for the current window so overlapping
//     deliveries do not double-run a batch.
//  2. Run one batch of due tasks.
//  3. Record job history for operational visibility.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"lifesync/internal/app"
	"lifesync/internal/config"
	"lifesync/internal/queue"
	"lifesync/internal/types"
)

// jobType names the dispatcher run in job_history.
const jobType = "task_dispatch"

// Handler holds the dependencies for the worker Lambda handler.
type Handler struct {
	app      *app.App
	workerID string
	logger   types.Logger
}

// rawEvent lets one handler accept both EventBridge and SQS payloads.
// Lambda delivers both as JSON; SQS events carry a Records array.
type rawEvent struct {
	Records []events.SQSMessage `json:"Records"`
	Detail  json.RawMessage     `json:"detail"`
}

// tickDetail is the optional EventBridge event detail.
type tickDetail struct {
	BatchSize int `json:"batch_size"`
}

// Handle routes the invocation. SQS batches report partial failures so only
// failed records are redelivered.
func (h *Handler) Handle(ctx context.Context, event rawEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	if len(event.Records) == 0 {
		batchSize := h.app.BatchSize
		if len(event.Detail) > 0 {
			var detail tickDetail
			if err := json.Unmarshal(event.Detail, &detail); err == nil && detail.BatchSize > 0 {
				batchSize = detail.BatchSize
			}
		}
		return response, h.runDispatch(ctx, batchSize, "schedule")
	}

	for _, record := range event.Records {
		var msg queue.DispatchMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.Error("invalid dispatch message, dropping",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			continue
		}

		batchSize := msg.BatchSize
		if batchSize <= 0 {
			batchSize = h.app.BatchSize
		}
		if err := h.runDispatch(ctx, batchSize, msg.Reason); err != nil {
			h.logger.Error("failed to process dispatch message",
				"message_id", record.MessageId,
				"trace_id", msg.TraceID,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return response, nil
}

// runDispatch takes the dispatch lock for the current minute window, runs one
// batch, and records the outcome in job history.
func (h *Handler) runDispatch(ctx context.Context, batchSize int, reason string) error {
	lockID := fmt.Sprintf("%s:%s", jobType, time.Now().UTC().Format("2006-01-02T15:04"))
	acquired, err := h.app.JobLocks.Acquire(ctx, lockID, h.workerID, h.app.Cfg.Dispatch.LockTTL)
	if err != nil {
		return fmt.Errorf("acquiring dispatch lock: %w", err)
	}
	if !acquired {
		h.logger.Info("dispatch lock held elsewhere, skipping",
			"lock_id", lockID,
			"reason", reason,
		)
		return nil
	}

	historyID, err := h.app.History.Start(ctx, jobType)
	if err != nil {
		return fmt.Errorf("starting job history: %w", err)
	}

	report, err := h.app.Service.RunScheduledTasks(ctx, batchSize)
	if err != nil {
		if finishErr := h.app.History.Finish(ctx, historyID, "failed", 0, err); finishErr != nil {
			h.logger.Error("failed to finish job history", "error", finishErr.Error())
		}
		return fmt.Errorf("running scheduled tasks: %w", err)
	}

	if err := h.app.History.Finish(ctx, historyID, "success", report.Claimed, nil); err != nil {
		h.logger.Error("failed to finish job history", "error", err.Error())
	}

	h.logger.Info("dispatch run complete",
		"reason", reason,
		"claimed", report.Claimed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err.Error())
		os.Exit(1)
	}
	if err := a.Connect(ctx); err != nil {
		logger.Error("failed to connect notification client", "error", err.Error())
		os.Exit(1)
	}

	handler := &Handler{
		app:      a,
		workerID: fmt.Sprintf("cron-worker-%s", uuid.NewString()),
		logger:   a.Log,
	}

	lambda.Start(handler.Handle)
}

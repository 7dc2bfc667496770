package alerts

import (
	"context"
	"errors"

	"lifesync/internal/types"
)

// RetryHandler runs the scheduled alert_retry tasks created after a failed
// alert send. It satisfies the scheduler's Handler interface.
type RetryHandler struct {
	dispatcher *Dispatcher
}

// NewRetryHandler creates the alert_retry task handler.
func NewRetryHandler(dispatcher *Dispatcher) *RetryHandler {
	return &RetryHandler{dispatcher: dispatcher}
}

// Type returns the task type this handler serves.
func (h *RetryHandler) Type() types.TaskType { return types.TaskAlertRetry }

// Handle re-attempts the alert send with IsRetry set, so a second sender
// failure is recorded and surfaced as a failed task without scheduling a
// third attempt.
func (h *RetryHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	productID, _ := task.Data["product_id"].(string)
	if productID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"alert_retry task requires data.product_id", nil)
	}

	outcome, err := h.dispatcher.SendPriceAlert(ctx, productID, SendOptions{IsRetry: true})
	if err != nil {
		return nil, err
	}
	if outcome.Outcome == types.AlertFailed {
		return nil, errors.New(outcome.Error)
	}

	return types.JSONB{
		"outcome":    string(outcome.Outcome),
		"message_id": outcome.MessageID,
	}, nil
}

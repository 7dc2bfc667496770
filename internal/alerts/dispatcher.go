package alerts

import (
	"context"
	"fmt"
	"time"

	"lifesync/internal/types"
)

// retryDelay is the fixed delay before the single retry of a failed alert
// send. A second failure is not retried again: one retry 5 minutes later,
// never an immediate loop or a backoff ladder, bounding retry storms by
// construction.
const retryDelay = 5 * time.Minute

// AlertDB defines the database operations the alert dispatcher needs.
// Implemented by db.AlertRepository.
type AlertDB interface {
	// GetProduct returns a tracked product or ErrCodeNotFoundProduct.
	GetProduct(ctx context.Context, id string) (*types.TrackedProduct, error)

	// GetRecipient returns a recipient or ErrCodeNotFoundRecipient.
	GetRecipient(ctx context.Context, id string) (*types.Recipient, error)

	// GetLastSentAlert returns the most recent sent alert record for a
	// product, or nil when none exists.
	GetLastSentAlert(ctx context.Context, productID string) (*types.AlertRecord, error)

	// CountSentToday counts sent alert records for a recipient created at
	// or after dayStart.
	CountSentToday(ctx context.Context, recipientID string, dayStart time.Time) (int, error)

	// InsertAlertRecord appends one evaluation attempt to the alert log.
	InsertAlertRecord(ctx context.Context, record *types.AlertRecord) (string, error)

	// UpdateLastNotifiedPrice sets the product's duplicate-suppression
	// marker after a successful send.
	UpdateLastNotifiedPrice(ctx context.Context, productID string, price float64) error
}

// Options configures the alert dispatcher.
type Options struct {
	// BaseURL is the public dashboard URL used in unsubscribe links.
	BaseURL string
	// UnsubscribeSecret signs unsubscribe tokens.
	UnsubscribeSecret string
	// TestMode reroutes every alert to TestAddress instead of the real
	// recipient.
	TestMode    bool
	TestAddress string
}

// SendOptions controls a single SendPriceAlert call.
type SendOptions struct {
	// ForceSend bypasses the gate entirely. Must be explicit.
	ForceSend bool
	// IsRetry marks the attempt as the scheduled retry of an earlier
	// failure; a failing retry never schedules another attempt.
	IsRetry bool
}

// SendOutcome reports what one evaluation attempt did.
type SendOutcome struct {
	Outcome        types.AlertOutcome `json:"outcome"`
	SkipReason     types.SkipReason   `json:"skip_reason,omitempty"`
	MessageID      string             `json:"message_id,omitempty"`
	Discount       int                `json:"discount"`
	Error          string             `json:"error,omitempty"`
	RetryScheduled bool               `json:"retry_scheduled"`
}

// Dispatcher orchestrates a price alert end to end: gate evaluation, content
// construction, provider send, alert-log append, duplicate-marker update,
// WhatsApp fan-out, and the bounded retry on sender failure.
type Dispatcher struct {
	db     AlertDB
	sender types.NotificationSender
	tasks  types.TaskStore
	gate   *Gate
	clock  types.Clock
	logger types.Logger
	opts   Options
}

// NewDispatcher creates an alert Dispatcher.
func NewDispatcher(db AlertDB, sender types.NotificationSender, tasks types.TaskStore, clock types.Clock, logger types.Logger, opts Options) *Dispatcher {
	return &Dispatcher{
		db:     db,
		sender: sender,
		tasks:  tasks,
		gate:   NewGate(clock),
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// SendPriceAlert evaluates and (when the gate allows) sends a price-drop
// alert for a tracked product. Every attempt appends exactly one email
// AlertRecord: sent, skipped with the matched reason, or failed with the
// sender error. Sender failures do not return an error; they are recorded
// and, on a first attempt, a one-shot retry task is scheduled 5 minutes out.
func (d *Dispatcher) SendPriceAlert(ctx context.Context, productID string, opts SendOptions) (*SendOutcome, error) {
	product, err := d.db.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	recipient, err := d.db.GetRecipient(ctx, product.UserID)
	if err != nil {
		return nil, err
	}
	lastAlert, err := d.db.GetLastSentAlert(ctx, productID)
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	dayStart := now.Truncate(24 * time.Hour)
	sentToday, err := d.db.CountSentToday(ctx, recipient.ID, dayStart)
	if err != nil {
		return nil, err
	}

	discount := DiscountPercentage(product.OriginalPrice, product.CurrentPrice)

	gate := d.gate.Evaluate(GateInput{
		Product:   product,
		Recipient: recipient,
		LastAlert: lastAlert,
		SentToday: sentToday,
		ForceSend: opts.ForceSend,
	})
	if gate.Skip {
		record := d.newRecord(product, recipient, types.ChannelEmail, discount, now)
		record.Outcome = types.AlertSkipped
		record.SkipReason = gate.Reason
		if _, err := d.db.InsertAlertRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("logging skipped alert: %w", err)
		}

		d.logger.Info("price alert skipped",
			"product_id", productID,
			"reason", string(gate.Reason),
		)
		return &SendOutcome{Outcome: types.AlertSkipped, SkipReason: gate.Reason, Discount: discount}, nil
	}

	referenceID := alertReferenceID(productID, now.UnixMilli())
	content := buildEmailContent(product, recipient, discount, referenceID,
		unsubscribeURL(d.opts.BaseURL, d.opts.UnsubscribeSecret, recipient.ID))

	to := recipient.Email
	if d.opts.TestMode {
		to = d.opts.TestAddress
	}

	sendResult, sendErr := d.sender.Send(ctx, types.ChannelEmail, to, content)
	if sendErr != nil {
		return d.recordSendFailure(ctx, product, recipient, discount, now, opts, sendErr)
	}

	record := d.newRecord(product, recipient, types.ChannelEmail, discount, now)
	record.Outcome = types.AlertSent
	record.ProviderMessageID = sendResult.MessageID
	if _, err := d.db.InsertAlertRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("logging sent alert: %w", err)
	}

	if err := d.db.UpdateLastNotifiedPrice(ctx, productID, product.CurrentPrice); err != nil {
		return nil, fmt.Errorf("updating last notified price: %w", err)
	}

	d.logger.Info("price alert sent",
		"product_id", productID,
		"recipient_id", recipient.ID,
		"discount", discount,
		"message_id", sendResult.MessageID,
	)

	d.fanOutWhatsApp(ctx, product, recipient, discount, referenceID, now)

	return &SendOutcome{
		Outcome:   types.AlertSent,
		MessageID: sendResult.MessageID,
		Discount:  discount,
	}, nil
}

// recordSendFailure appends a failed AlertRecord and, for first attempts,
// schedules the single retry task.
func (d *Dispatcher) recordSendFailure(ctx context.Context, product *types.TrackedProduct, recipient *types.Recipient, discount int, now time.Time, opts SendOptions, sendErr error) (*SendOutcome, error) {
	record := d.newRecord(product, recipient, types.ChannelEmail, discount, now)
	record.Outcome = types.AlertFailed
	record.Error = sendErr.Error()
	if _, err := d.db.InsertAlertRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("logging failed alert: %w", err)
	}

	outcome := &SendOutcome{
		Outcome:  types.AlertFailed,
		Discount: discount,
		Error:    sendErr.Error(),
	}

	if opts.IsRetry {
		d.logger.Error("price alert retry failed, giving up",
			"product_id", product.ID,
			"error", sendErr.Error(),
		)
		return outcome, nil
	}

	retryAt := now.Add(retryDelay).UnixMilli()
	task := &types.ScheduledTask{
		Name:          fmt.Sprintf("price alert retry %s", product.ID),
		Type:          types.TaskAlertRetry,
		Status:        types.TaskPending,
		ScheduledTime: retryAt,
		NextRun:       retryAt,
		Data:          types.JSONB{"product_id": product.ID},
	}
	if _, err := d.tasks.Insert(ctx, task); err != nil {
		d.logger.Error("failed to schedule alert retry",
			"product_id", product.ID,
			"error", err.Error(),
		)
		return outcome, nil
	}

	outcome.RetryScheduled = true
	d.logger.Warn("price alert send failed, retry scheduled",
		"product_id", product.ID,
		"retry_at", retryAt,
		"error", sendErr.Error(),
	)
	return outcome, nil
}

// fanOutWhatsApp sends the WhatsApp variant when the recipient opted in and
// has a phone number. WhatsApp is best-effort alongside the email: failures
// are logged to the alert log but never fail the alert or schedule retries.
func (d *Dispatcher) fanOutWhatsApp(ctx context.Context, product *types.TrackedProduct, recipient *types.Recipient, discount int, referenceID string, now time.Time) {
	if !recipient.Prefs.WhatsApp {
		return
	}

	record := d.newRecord(product, recipient, types.ChannelWhatsApp, discount, now)

	if recipient.Phone == "" {
		record.Outcome = types.AlertFailed
		record.Error = "no phone number available"
		if _, err := d.db.InsertAlertRecord(ctx, record); err != nil {
			d.logger.Error("failed to log whatsapp alert", "error", err.Error())
		}
		return
	}

	content := buildWhatsAppContent(product, recipient, discount, referenceID)
	result, err := d.sender.Send(ctx, types.ChannelWhatsApp, recipient.Phone, content)
	if err != nil {
		record.Outcome = types.AlertFailed
		record.Error = err.Error()
		d.logger.Warn("whatsapp alert failed",
			"product_id", product.ID,
			"error", err.Error(),
		)
	} else {
		record.Outcome = types.AlertSent
		record.ProviderMessageID = result.MessageID
	}

	if _, err := d.db.InsertAlertRecord(ctx, record); err != nil {
		d.logger.Error("failed to log whatsapp alert", "error", err.Error())
	}
}

// newRecord builds the common fields of an alert log entry.
func (d *Dispatcher) newRecord(product *types.TrackedProduct, recipient *types.Recipient, channel types.ChannelType, discount int, now time.Time) *types.AlertRecord {
	return &types.AlertRecord{
		ProductID:   product.ID,
		RecipientID: recipient.ID,
		Channel:     channel,
		PriceAtSend: product.CurrentPrice,
		Discount:    discount,
		CreatedAt:   now,
	}
}

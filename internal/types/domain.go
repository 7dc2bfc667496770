// Package types defines the domain model shared across the LifeSync task
// runner: scheduled tasks, alert records, tracked products, recipients, and
// the narrow interfaces to external collaborators (store, sender, clock).
//
// Timestamps that travel through task scheduling are epoch milliseconds
// (int64), matching the wire format the dashboard and mobile clients already
// use. Record bookkeeping timestamps (created_at, updated_at) are time.Time.
package types

import (
	"encoding/json"
	"time"
)

// JSONB is an opaque JSON object column. Task payloads and handler results
// are stored as JSONB so handlers can evolve their payload shapes without
// schema migrations.
type JSONB map[string]any

// Clone returns a shallow copy of the map. A nil receiver yields nil.
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// String returns the compact JSON encoding, or "{}" on marshal failure.
func (j JSONB) String() string {
	b, err := json.Marshal(j)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ScheduledTask is a unit of deferred or recurring work owned by the task
// store. NextRun is always set while the task is pending; a task without an
// Interval is one-shot and terminates at completed.
type ScheduledTask struct {
	ID   string   `json:"id" db:"id"`
	Name string   `json:"name" db:"name"`
	Type TaskType `json:"type" db:"type"`

	Status TaskStatus `json:"status" db:"status"`

	// ScheduledTime is the originally requested first run (epoch millis).
	ScheduledTime int64 `json:"scheduled_time" db:"scheduled_time"`
	// NextRun is the next time the task should fire (epoch millis).
	// Initialized to ScheduledTime on creation.
	NextRun int64 `json:"next_run" db:"next_run"`
	// LastRun is the start of the most recent execution (epoch millis).
	LastRun *int64 `json:"last_run,omitempty" db:"last_run"`

	// Interval is "<integer><unit>" with unit in s/m/h/d/w. Empty means the
	// task runs once. Units are fixed durations; there is no calendar
	// awareness (a month cannot be expressed, "4w" is 28 exact days).
	Interval string `json:"interval,omitempty" db:"interval"`

	Data      JSONB  `json:"data,omitempty" db:"data"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// Version is an optimistic-concurrency token. Claiming a task is a
	// conditional patch that only succeeds when the stored version matches,
	// so overlapping dispatcher invocations cannot double-claim.
	Version int `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recurring reports whether the task re-enters pending after a successful run.
func (t *ScheduledTask) Recurring() bool { return t.Interval != "" }

// TaskPatch is a partial update applied to a single task record. Nil fields
// are left untouched. All dispatcher mutations are single-record patches;
// there are no multi-task transactions.
type TaskPatch struct {
	Status    *TaskStatus
	NextRun   *int64
	LastRun   *int64
	LastError *string
	Data      JSONB
}

// TaskOutcome is the per-task entry in a DispatchReport.
type TaskOutcome struct {
	TaskID  string   `json:"task_id"`
	Type    TaskType `json:"type"`
	Success bool     `json:"success"`
	Result  JSONB    `json:"result,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// DispatchReport summarizes one dispatcher invocation.
type DispatchReport struct {
	StartedAt time.Time     `json:"started_at"`
	Claimed   int           `json:"claimed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []TaskOutcome `json:"outcomes"`
}

// TrackedProduct is the subject of price alerts: a product a user watches
// for price drops. This is the subsystem's read/update view of the record;
// the tracking pipeline that refreshes CurrentPrice lives elsewhere.
type TrackedProduct struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`

	ProductURL string `json:"product_url" db:"product_url"`
	ImageURL   string `json:"image_url,omitempty" db:"image_url"`

	OriginalPrice float64 `json:"original_price" db:"original_price"`
	CurrentPrice  float64 `json:"current_price" db:"current_price"`

	// NotificationThreshold is the minimum discount percentage (0-100)
	// required before an alert is sent. Nil means any drop qualifies.
	NotificationThreshold *int `json:"notification_threshold,omitempty" db:"notification_threshold"`

	// LastNotifiedPrice is the price at the most recent sent alert, used for
	// duplicate suppression. Nil until the first alert is sent.
	LastNotifiedPrice *float64 `json:"last_notified_price,omitempty" db:"last_notified_price"`
}

// NotificationPreferences holds a recipient's channel opt-ins.
type NotificationPreferences struct {
	Email       bool `json:"email" db:"pref_email"`
	WhatsApp    bool `json:"whatsapp" db:"pref_whatsapp"`
	PriceAlerts bool `json:"price_alerts" db:"pref_price_alerts"`
}

// Recipient is the subsystem's view of a user receiving notifications.
type Recipient struct {
	ID       string                  `json:"id" db:"id"`
	Email    string                  `json:"email" db:"email"`
	Phone    string                  `json:"phone,omitempty" db:"phone"`
	Language string                  `json:"language" db:"language"` // "ar" or "en"
	Prefs    NotificationPreferences `json:"notification_preferences" db:"-"`
}

// AlertRecord is one row in the append-only log of alert evaluation
// attempts. Records are never mutated after creation.
type AlertRecord struct {
	ID          string      `json:"id" db:"id"`
	ProductID   string      `json:"product_id" db:"product_id"`
	RecipientID string      `json:"recipient_id" db:"recipient_id"`
	Channel     ChannelType `json:"channel" db:"channel"`

	// PriceAtSend is the product's current price at evaluation time.
	PriceAtSend float64 `json:"price_at_send" db:"price_at_send"`
	Discount    int     `json:"discount" db:"discount"`

	Outcome    AlertOutcome `json:"outcome" db:"outcome"`
	SkipReason SkipReason   `json:"skip_reason,omitempty" db:"skip_reason"`

	// ProviderMessageID is the sender's message ID for sent records.
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error             string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MessageContent is the channel-agnostic content handed to the notification
// sender. Email uses Subject+HTMLBody; WhatsApp uses Body and MediaURL.
type MessageContent struct {
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`
	MediaURL string `json:"media_url,omitempty"`

	// ReferenceID is an idempotency reference forwarded to the provider
	// (e.g. the X-Entity-Ref-ID header on Resend).
	ReferenceID string `json:"reference_id,omitempty"`
}

// SendResult is the provider acknowledgement of an accepted message.
type SendResult struct {
	MessageID string `json:"message_id"`
}

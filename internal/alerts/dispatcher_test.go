package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/types"
)

// fakeAlertDB is an in-memory AlertDB capturing inserted records and marker
// updates.
type fakeAlertDB struct {
	product   *types.TrackedProduct
	recipient *types.Recipient
	lastAlert *types.AlertRecord
	sentToday int

	records      []*types.AlertRecord
	markerPrices []float64
}

func (f *fakeAlertDB) GetProduct(ctx context.Context, id string) (*types.TrackedProduct, error) {
	if f.product == nil || f.product.ID != id {
		return nil, types.NewAppError(types.ErrCodeNotFoundProduct, "product not found", nil)
	}
	return f.product, nil
}

func (f *fakeAlertDB) GetRecipient(ctx context.Context, id string) (*types.Recipient, error) {
	if f.recipient == nil || f.recipient.ID != id {
		return nil, types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient not found", nil)
	}
	return f.recipient, nil
}

func (f *fakeAlertDB) GetLastSentAlert(ctx context.Context, productID string) (*types.AlertRecord, error) {
	return f.lastAlert, nil
}

func (f *fakeAlertDB) CountSentToday(ctx context.Context, recipientID string, dayStart time.Time) (int, error) {
	return f.sentToday, nil
}

func (f *fakeAlertDB) InsertAlertRecord(ctx context.Context, record *types.AlertRecord) (string, error) {
	f.records = append(f.records, record)
	return "alert_1", nil
}

func (f *fakeAlertDB) UpdateLastNotifiedPrice(ctx context.Context, productID string, price float64) error {
	f.markerPrices = append(f.markerPrices, price)
	return nil
}

// channelSender fails sends per channel and records what it delivered.
type channelSender struct {
	failEmail    bool
	failWhatsApp bool
	sent         []struct {
		channel   types.ChannelType
		recipient string
		content   types.MessageContent
	}
}

func (s *channelSender) Send(ctx context.Context, channel types.ChannelType, recipient string, content types.MessageContent) (types.SendResult, error) {
	if (channel == types.ChannelEmail && s.failEmail) || (channel == types.ChannelWhatsApp && s.failWhatsApp) {
		return types.SendResult{}, errors.New("provider unavailable")
	}
	s.sent = append(s.sent, struct {
		channel   types.ChannelType
		recipient string
		content   types.MessageContent
	}{channel, recipient, content})
	return types.SendResult{MessageID: "provider_msg_1"}, nil
}

// stubTaskStore records inserts; the dispatcher only ever inserts retry tasks.
type stubTaskStore struct {
	inserted  []*types.ScheduledTask
	insertErr error
}

func (s *stubTaskStore) Insert(ctx context.Context, task *types.ScheduledTask) (string, error) {
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.inserted = append(s.inserted, task)
	return "task_retry_1", nil
}

func (s *stubTaskStore) GetDueTasks(ctx context.Context, now int64, limit int) ([]types.ScheduledTask, error) {
	return nil, nil
}

func (s *stubTaskStore) Claim(ctx context.Context, id string, version int, lastRun int64) (bool, error) {
	return false, nil
}

func (s *stubTaskStore) Patch(ctx context.Context, id string, patch types.TaskPatch) error {
	return nil
}

func (s *stubTaskStore) GetByID(ctx context.Context, id string) (*types.ScheduledTask, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
}

func (s *stubTaskStore) List(ctx context.Context, limit int) ([]types.ScheduledTask, error) {
	return nil, nil
}

func newAlertFixture() (*fakeAlertDB, *channelSender, *stubTaskStore, *Dispatcher) {
	db := &fakeAlertDB{
		product: &types.TrackedProduct{
			ID:            "prod_1",
			UserID:        "user_1",
			Name:          "Espresso Machine",
			ProductURL:    "https://shop.example.com/espresso",
			OriginalPrice: 200,
			CurrentPrice:  150,
		},
		recipient: &types.Recipient{
			ID:       "user_1",
			Email:    "buyer@example.com",
			Language: "en",
			Prefs: types.NotificationPreferences{
				Email:       true,
				PriceAlerts: true,
			},
		},
	}
	sender := &channelSender{}
	tasks := &stubTaskStore{}
	dispatcher := NewDispatcher(db, sender, tasks, fixedClock{alertTestNow}, nopLogger{}, Options{
		BaseURL:           "https://app.lifesync.ai",
		UnsubscribeSecret: "secret-key-0123456789",
		TestAddress:       "delivered@resend.dev",
	})
	return db, sender, tasks, dispatcher
}

func TestSendPriceAlert_SentPath(t *testing.T) {
	db, sender, tasks, dispatcher := newAlertFixture()

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.AlertSent, outcome.Outcome)
	assert.Equal(t, "provider_msg_1", outcome.MessageID)
	assert.Equal(t, 25, outcome.Discount)
	assert.False(t, outcome.RetryScheduled)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, types.ChannelEmail, sender.sent[0].channel)
	assert.Equal(t, "buyer@example.com", sender.sent[0].recipient)

	require.Len(t, db.records, 1)
	assert.Equal(t, types.AlertSent, db.records[0].Outcome)
	assert.Equal(t, 150.0, db.records[0].PriceAtSend)
	assert.Equal(t, "provider_msg_1", db.records[0].ProviderMessageID)

	// Duplicate-suppression marker moves to the notified price.
	assert.Equal(t, []float64{150}, db.markerPrices)
	assert.Empty(t, tasks.inserted)
}

func TestSendPriceAlert_SkippedWritesRecord(t *testing.T) {
	db, sender, _, dispatcher := newAlertFixture()
	db.recipient.Prefs.PriceAlerts = false

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.AlertSkipped, outcome.Outcome)
	assert.Equal(t, types.SkipUserDisabled, outcome.SkipReason)

	require.Len(t, db.records, 1)
	assert.Equal(t, types.AlertSkipped, db.records[0].Outcome)
	assert.Equal(t, types.SkipUserDisabled, db.records[0].SkipReason)
	assert.Empty(t, sender.sent)
	assert.Empty(t, db.markerPrices)
}

func TestSendPriceAlert_ForceSendBypassesGate(t *testing.T) {
	db, _, _, dispatcher := newAlertFixture()
	db.recipient.Prefs.PriceAlerts = false
	db.sentToday = 10

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{ForceSend: true})
	require.NoError(t, err)
	assert.Equal(t, types.AlertSent, outcome.Outcome)
}

func TestSendPriceAlert_FailureSchedulesSingleRetry(t *testing.T) {
	db, sender, tasks, dispatcher := newAlertFixture()
	sender.failEmail = true

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.AlertFailed, outcome.Outcome)
	assert.True(t, outcome.RetryScheduled)
	assert.Equal(t, "provider unavailable", outcome.Error)

	require.Len(t, db.records, 1)
	assert.Equal(t, types.AlertFailed, db.records[0].Outcome)
	assert.Equal(t, "provider unavailable", db.records[0].Error)

	require.Len(t, tasks.inserted, 1)
	retry := tasks.inserted[0]
	assert.Equal(t, types.TaskAlertRetry, retry.Type)
	assert.Equal(t, types.TaskPending, retry.Status)
	assert.Equal(t, alertTestNow.Add(5*time.Minute).UnixMilli(), retry.NextRun)
	assert.Equal(t, "prod_1", retry.Data["product_id"])
	assert.Empty(t, retry.Interval) // one-shot
}

func TestSendPriceAlert_RetryFailureDoesNotScheduleAgain(t *testing.T) {
	db, sender, tasks, dispatcher := newAlertFixture()
	sender.failEmail = true

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{IsRetry: true})
	require.NoError(t, err)

	assert.Equal(t, types.AlertFailed, outcome.Outcome)
	assert.False(t, outcome.RetryScheduled)
	assert.Empty(t, tasks.inserted)
	require.Len(t, db.records, 1)
}

func TestSendPriceAlert_RetryInsertFailureStillReportsOutcome(t *testing.T) {
	_, sender, tasks, dispatcher := newAlertFixture()
	sender.failEmail = true
	tasks.insertErr = errors.New("store unavailable")

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.AlertFailed, outcome.Outcome)
	assert.False(t, outcome.RetryScheduled)
}

func TestSendPriceAlert_TestModeReroutes(t *testing.T) {
	_, sender, _, dispatcher := newAlertFixture()
	dispatcher.opts.TestMode = true

	_, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "delivered@resend.dev", sender.sent[0].recipient)
}

func TestSendPriceAlert_WhatsAppFanOut(t *testing.T) {
	db, sender, _, dispatcher := newAlertFixture()
	db.recipient.Phone = "9715551234"
	db.recipient.Prefs.WhatsApp = true

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.AlertSent, outcome.Outcome)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, types.ChannelWhatsApp, sender.sent[1].channel)
	assert.Equal(t, "9715551234", sender.sent[1].recipient)

	require.Len(t, db.records, 2)
	assert.Equal(t, types.ChannelWhatsApp, db.records[1].Channel)
	assert.Equal(t, types.AlertSent, db.records[1].Outcome)
}

func TestSendPriceAlert_WhatsAppFailureIsBestEffort(t *testing.T) {
	db, sender, tasks, dispatcher := newAlertFixture()
	db.recipient.Phone = "9715551234"
	db.recipient.Prefs.WhatsApp = true
	sender.failWhatsApp = true

	outcome, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	// Email succeeded, so the alert as a whole is sent and no retry exists.
	assert.Equal(t, types.AlertSent, outcome.Outcome)
	assert.Empty(t, tasks.inserted)

	require.Len(t, db.records, 2)
	assert.Equal(t, types.ChannelWhatsApp, db.records[1].Channel)
	assert.Equal(t, types.AlertFailed, db.records[1].Outcome)
}

func TestSendPriceAlert_WhatsAppNoPhoneRecordsFailure(t *testing.T) {
	db, sender, _, dispatcher := newAlertFixture()
	db.recipient.Prefs.WhatsApp = true // opted in but no phone on file

	_, err := dispatcher.SendPriceAlert(context.Background(), "prod_1", SendOptions{})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1) // email only
	require.Len(t, db.records, 2)
	assert.Equal(t, types.AlertFailed, db.records[1].Outcome)
	assert.Contains(t, db.records[1].Error, "no phone")
}

func TestSendPriceAlert_UnknownProduct(t *testing.T) {
	_, _, _, dispatcher := newAlertFixture()

	_, err := dispatcher.SendPriceAlert(context.Background(), "prod_missing", SendOptions{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProduct, appErr.Code)
}

func TestRetryHandler_ReattemptsWithIsRetry(t *testing.T) {
	_, sender, tasks, dispatcher := newAlertFixture()
	handler := NewRetryHandler(dispatcher)

	assert.Equal(t, types.TaskAlertRetry, handler.Type())

	result, err := handler.Handle(context.Background(), &types.ScheduledTask{
		ID:   "task_retry_1",
		Type: types.TaskAlertRetry,
		Data: types.JSONB{"product_id": "prod_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sent", result["outcome"])
	require.Len(t, sender.sent, 1)
	assert.Empty(t, tasks.inserted)
}

func TestRetryHandler_SecondFailureFailsTask(t *testing.T) {
	_, sender, tasks, dispatcher := newAlertFixture()
	sender.failEmail = true
	handler := NewRetryHandler(dispatcher)

	_, err := handler.Handle(context.Background(), &types.ScheduledTask{
		ID:   "task_retry_1",
		Data: types.JSONB{"product_id": "prod_1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider unavailable")
	assert.Empty(t, tasks.inserted) // no third attempt
}

func TestRetryHandler_MissingProductID(t *testing.T) {
	_, _, _, dispatcher := newAlertFixture()
	handler := NewRetryHandler(dispatcher)

	_, err := handler.Handle(context.Background(), &types.ScheduledTask{ID: "task_1", Data: types.JSONB{}})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

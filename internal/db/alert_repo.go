package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lifesync/internal/types"
)

// AlertRepository provides data access for tracked products, recipients, and
// the alert log. It backs the alert dispatcher's gate lookups and record
// appends.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an AlertRepository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// GetProduct returns one tracked product or ErrCodeNotFoundProduct.
func (r *AlertRepository) GetProduct(ctx context.Context, id string) (*types.TrackedProduct, error) {
	var p types.TrackedProduct
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, product_url, image_url,
		        original_price, current_price, notification_threshold, last_notified_price
		 FROM tracked_products
		 WHERE id = $1`,
		id,
	).Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.ProductURL,
		&p.ImageURL,
		&p.OriginalPrice,
		&p.CurrentPrice,
		&p.NotificationThreshold,
		&p.LastNotifiedPrice,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProduct, "product not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get product", err)
	}
	return &p, nil
}

// GetRecipient returns one recipient or ErrCodeNotFoundRecipient.
func (r *AlertRepository) GetRecipient(ctx context.Context, id string) (*types.Recipient, error) {
	var rec types.Recipient
	var phone *string
	err := r.db.QueryRow(ctx,
		`SELECT id, email, phone, language,
		        pref_email, pref_whatsapp, pref_price_alerts
		 FROM recipients
		 WHERE id = $1`,
		id,
	).Scan(
		&rec.ID,
		&rec.Email,
		&phone,
		&rec.Language,
		&rec.Prefs.Email,
		&rec.Prefs.WhatsApp,
		&rec.Prefs.PriceAlerts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get recipient", err)
	}
	if phone != nil {
		rec.Phone = *phone
	}
	return &rec, nil
}

// GetLastSentAlert returns the most recent sent email alert for a product, or
// nil when the product has never been alerted on.
func (r *AlertRepository) GetLastSentAlert(ctx context.Context, productID string) (*types.AlertRecord, error) {
	var a types.AlertRecord
	var channel, outcome, skipReason string
	err := r.db.QueryRow(ctx,
		`SELECT id, product_id, recipient_id, channel, price_at_send, discount,
		        outcome, skip_reason, provider_message_id, error, created_at
		 FROM alert_records
		 WHERE product_id = $1 AND channel = 'email' AND outcome = 'sent'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		productID,
	).Scan(
		&a.ID,
		&a.ProductID,
		&a.RecipientID,
		&channel,
		&a.PriceAtSend,
		&a.Discount,
		&outcome,
		&skipReason,
		&a.ProviderMessageID,
		&a.Error,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get last alert", err)
	}
	a.Channel = types.ChannelType(channel)
	a.Outcome = types.AlertOutcome(outcome)
	a.SkipReason = types.SkipReason(skipReason)
	return &a, nil
}

// CountSentToday counts sent alert records for a recipient created at or
// after dayStart, across channels. Feeds the daily alert cap.
func (r *AlertRepository) CountSentToday(ctx context.Context, recipientID string, dayStart time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM alert_records
		 WHERE recipient_id = $1 AND outcome = 'sent' AND created_at >= $2`,
		recipientID, dayStart,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count alerts", err)
	}
	return count, nil
}

// InsertAlertRecord appends one entry to the alert log and returns its ID.
func (r *AlertRepository) InsertAlertRecord(ctx context.Context, record *types.AlertRecord) (string, error) {
	id := record.ID
	if id == "" {
		id = "alert_" + uuid.NewString()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_records
		   (id, product_id, recipient_id, channel, price_at_send, discount,
		    outcome, skip_reason, provider_message_id, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id,
		record.ProductID,
		record.RecipientID,
		string(record.Channel),
		record.PriceAtSend,
		record.Discount,
		string(record.Outcome),
		string(record.SkipReason),
		record.ProviderMessageID,
		record.Error,
		record.CreatedAt,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert alert record", err)
	}

	record.ID = id
	return id, nil
}

// UpdateLastNotifiedPrice stamps the duplicate-suppression marker on a
// product after a successful send.
func (r *AlertRepository) UpdateLastNotifiedPrice(ctx context.Context, productID string, price float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tracked_products
		 SET last_notified_price = $2, updated_at = NOW()
		 WHERE id = $1`,
		productID, price,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last notified price", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProduct, "product not found", nil)
	}
	return nil
}

// marshalJSONB encodes report or snapshot payloads for storage.
func marshalJSONB(data types.JSONB) ([]byte, error) {
	out, err := json.Marshal(data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal payload", err)
	}
	return out, nil
}

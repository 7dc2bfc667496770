// Package alerts implements the price-alert dispatch pipeline: the gate that
// decides whether a notification attempt proceeds, the send orchestration
// across email and WhatsApp, and the single bounded retry for sender
// failures.
package alerts

import (
	"math"
	"time"

	"lifesync/internal/types"
)

// cooldownWindow is the minimum gap between sent alerts for one product.
const cooldownWindow = time.Hour

// dailyAlertCap is the maximum number of sent alerts per recipient per UTC
// day. Evaluated after the cheaper checks because it needs a count query.
const dailyAlertCap = 3

// GateInput carries everything the gate needs to decide. LastAlert is the
// most recent sent alert for the product (nil when none exists); SentToday
// is the recipient's count of sent alerts since UTC midnight.
type GateInput struct {
	Product   *types.TrackedProduct
	Recipient *types.Recipient
	LastAlert *types.AlertRecord
	SentToday int

	// ForceSend bypasses every check unconditionally. Used for test and
	// manual dispatch only; it is never a default.
	ForceSend bool
}

// GateResult is the gate's decision. Reason is set only when Skip is true.
type GateResult struct {
	Skip   bool
	Reason types.SkipReason
}

// Gate evaluates the suppression rules for a candidate alert.
type Gate struct {
	clock types.Clock
}

// NewGate creates a Gate.
func NewGate(clock types.Clock) *Gate {
	return &Gate{clock: clock}
}

// Evaluate applies the skip rules in fixed order; the first match wins.
// Order matters: later checks are more expensive or less certain.
//
//  1. Recipient disabled price alerts        -> user_disabled_alerts
//  2. Last alert was for this exact price    -> duplicate_price
//  3. Discount below configured threshold    -> below_threshold
//  4. Last alert sent less than an hour ago  -> too_soon
//  5. Recipient hit the daily sent-alert cap -> daily_cap_reached
//
// Duplicate suppression is keyed on exact price equality, not elapsed time:
// a price seen at the last sent alert never notifies again, no matter how
// long ago that alert went out.
func (g *Gate) Evaluate(in GateInput) GateResult {
	if in.ForceSend {
		return GateResult{}
	}

	if !in.Recipient.Prefs.PriceAlerts {
		return GateResult{Skip: true, Reason: types.SkipUserDisabled}
	}

	if in.LastAlert != nil && in.LastAlert.PriceAtSend == in.Product.CurrentPrice {
		return GateResult{Skip: true, Reason: types.SkipDuplicatePrice}
	}
	if in.Product.LastNotifiedPrice != nil && *in.Product.LastNotifiedPrice == in.Product.CurrentPrice {
		return GateResult{Skip: true, Reason: types.SkipDuplicatePrice}
	}

	if in.Product.NotificationThreshold != nil {
		// A zero original price makes the discount undefined; treat it as
		// below threshold rather than dividing by zero.
		if in.Product.OriginalPrice == 0 {
			return GateResult{Skip: true, Reason: types.SkipBelowThreshold}
		}
		discount := DiscountPercentage(in.Product.OriginalPrice, in.Product.CurrentPrice)
		if discount < *in.Product.NotificationThreshold {
			return GateResult{Skip: true, Reason: types.SkipBelowThreshold}
		}
	}

	if in.LastAlert != nil {
		if g.clock.Now().Sub(in.LastAlert.CreatedAt) < cooldownWindow {
			return GateResult{Skip: true, Reason: types.SkipTooSoon}
		}
	}

	if in.SentToday >= dailyAlertCap {
		return GateResult{Skip: true, Reason: types.SkipDailyCapReached}
	}

	return GateResult{}
}

// DiscountPercentage computes round(((original - current) / original) * 100)
// as an integer percentage. A zero original price yields 0; callers gate on
// that case before trusting the result.
func DiscountPercentage(original, current float64) int {
	if original == 0 {
		return 0
	}
	return int(math.Round(((original - current) / original) * 100))
}

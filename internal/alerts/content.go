package alerts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"lifesync/internal/types"
)

// defaultProductImage is used when a tracked product has no image of its own.
const defaultProductImage = "https://cdn.lifesync.ai/assets/product-placeholder.png"

// buildEmailContent renders the localized price-drop email for a product.
// The reference ID doubles as the provider idempotency header so a retried
// send of the same evaluation does not duplicate on the provider side.
func buildEmailContent(product *types.TrackedProduct, recipient *types.Recipient, discount int, referenceID, unsubscribeURL string) types.MessageContent {
	imageURL := product.ImageURL
	if imageURL == "" {
		imageURL = defaultProductImage
	}

	var subject string
	if recipient.Language == "ar" {
		subject = fmt.Sprintf("🚨 انخفاض السعر بنسبة %d%% على %s", discount, product.Name)
	} else {
		subject = fmt.Sprintf("🚨 Price dropped %d%% for %s", discount, product.Name)
	}

	html := fmt.Sprintf(
		`<div><img src=%q alt=%q/><h1>%s</h1><p><s>%.2f</s> &rarr; <strong>%.2f</strong> (-%d%%)</p>`+
			`<p><a href=%q>View product</a></p><p><a href=%q>Unsubscribe</a></p></div>`,
		imageURL, product.Name, product.Name,
		product.OriginalPrice, product.CurrentPrice, discount,
		product.ProductURL, unsubscribeURL,
	)

	return types.MessageContent{
		Subject:     subject,
		Body:        fmt.Sprintf("%s: %.2f -> %.2f (-%d%%) %s", product.Name, product.OriginalPrice, product.CurrentPrice, discount, product.ProductURL),
		HTMLBody:    html,
		ReferenceID: referenceID,
	}
}

// buildWhatsAppContent renders the WhatsApp variant of the alert. The
// product image rides along as media when available.
func buildWhatsAppContent(product *types.TrackedProduct, recipient *types.Recipient, discount int, referenceID string) types.MessageContent {
	var body string
	if recipient.Language == "ar" {
		body = fmt.Sprintf("انخفض سعر %s بنسبة %d%%: %.2f بدلاً من %.2f\n%s",
			product.Name, discount, product.CurrentPrice, product.OriginalPrice, product.ProductURL)
	} else {
		body = fmt.Sprintf("%s dropped %d%%: now %.2f (was %.2f)\n%s",
			product.Name, discount, product.CurrentPrice, product.OriginalPrice, product.ProductURL)
	}

	return types.MessageContent{
		Body:        body,
		MediaURL:    product.ImageURL,
		ReferenceID: referenceID,
	}
}

// alertReferenceID builds the idempotency reference for one alert attempt.
func alertReferenceID(productID string, nowMillis int64) string {
	return fmt.Sprintf("price_alert_%s_%d", productID, nowMillis)
}

// unsubscribeURL builds the signed opt-out link embedded in alert emails.
// The token is an HMAC-SHA256 of the recipient ID, so the link cannot be
// forged for another user without the secret.
func unsubscribeURL(baseURL, secret, recipientID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(recipientID))
	token := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("uid", recipientID)
	q.Set("token", token)
	return fmt.Sprintf("%s/unsubscribe?%s", baseURL, q.Encode())
}

package alerts

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/types"
)

func TestBuildEmailContent_English(t *testing.T) {
	product := &types.TrackedProduct{
		ID:            "prod_1",
		Name:          "Espresso Machine",
		ProductURL:    "https://shop.example.com/espresso",
		ImageURL:      "https://cdn.example.com/espresso.png",
		OriginalPrice: 200,
		CurrentPrice:  150,
	}
	recipient := &types.Recipient{ID: "user_1", Language: "en"}

	content := buildEmailContent(product, recipient, 25, "ref_1", "https://app.lifesync.ai/unsubscribe?uid=user_1")

	assert.Equal(t, "🚨 Price dropped 25% for Espresso Machine", content.Subject)
	assert.Equal(t, "ref_1", content.ReferenceID)
	assert.Contains(t, content.HTMLBody, "https://cdn.example.com/espresso.png")
	assert.Contains(t, content.HTMLBody, "https://shop.example.com/espresso")
	assert.Contains(t, content.HTMLBody, "unsubscribe")
	assert.Contains(t, content.Body, "Espresso Machine")
}

func TestBuildEmailContent_Arabic(t *testing.T) {
	product := &types.TrackedProduct{ID: "prod_1", Name: "جهاز", OriginalPrice: 100, CurrentPrice: 70}
	recipient := &types.Recipient{ID: "user_1", Language: "ar"}

	content := buildEmailContent(product, recipient, 30, "ref_1", "https://example.com/u")

	assert.Contains(t, content.Subject, "30%")
	assert.Contains(t, content.Subject, "انخفاض")
}

func TestBuildEmailContent_PlaceholderImage(t *testing.T) {
	product := &types.TrackedProduct{ID: "prod_1", Name: "Widget", OriginalPrice: 10, CurrentPrice: 8}
	recipient := &types.Recipient{ID: "user_1", Language: "en"}

	content := buildEmailContent(product, recipient, 20, "ref_1", "https://example.com/u")

	assert.Contains(t, content.HTMLBody, defaultProductImage)
}

func TestBuildWhatsAppContent_CarriesMedia(t *testing.T) {
	product := &types.TrackedProduct{
		ID:            "prod_1",
		Name:          "Widget",
		ProductURL:    "https://shop.example.com/widget",
		ImageURL:      "https://cdn.example.com/widget.png",
		OriginalPrice: 50,
		CurrentPrice:  40,
	}
	recipient := &types.Recipient{ID: "user_1", Language: "en"}

	content := buildWhatsAppContent(product, recipient, 20, "ref_1")

	assert.Empty(t, content.Subject)
	assert.Equal(t, "https://cdn.example.com/widget.png", content.MediaURL)
	assert.Contains(t, content.Body, "Widget dropped 20%")
	assert.Contains(t, content.Body, "https://shop.example.com/widget")
}

func TestAlertReferenceID(t *testing.T) {
	assert.Equal(t, "price_alert_prod_42_1700000000000", alertReferenceID("prod_42", 1_700_000_000_000))
}

func TestUnsubscribeURL_SignedAndDeterministic(t *testing.T) {
	first := unsubscribeURL("https://app.lifesync.ai", "secret-key-0123456789", "user_1")
	second := unsubscribeURL("https://app.lifesync.ai", "secret-key-0123456789", "user_1")
	assert.Equal(t, first, second)

	require.True(t, strings.HasPrefix(first, "https://app.lifesync.ai/unsubscribe?"))
	parsed, err := url.Parse(first)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "user_1", q.Get("uid"))
	assert.Len(t, q.Get("token"), 64) // hex-encoded HMAC-SHA256

	// Token is bound to the recipient and the secret.
	otherUser := unsubscribeURL("https://app.lifesync.ai", "secret-key-0123456789", "user_2")
	otherSecret := unsubscribeURL("https://app.lifesync.ai", "another-secret-value", "user_1")
	assert.NotEqual(t, q.Get("token"), mustToken(t, otherUser))
	assert.NotEqual(t, q.Get("token"), mustToken(t, otherSecret))
}

func mustToken(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

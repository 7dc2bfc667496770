package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lifesync/internal/types"
)

// resendAPIBase is the default Resend API base URL. Overridable in tests.
const resendAPIBase = "https://api.resend.com"

// ResendConfig holds the configuration for creating a ResendClient.
type ResendConfig struct {
	APIKey string
	// FromDomain is the sending domain; the From address becomes
	// "Price Alerts <alerts@domain>".
	FromDomain string
	BaseURL    string // override for testing; defaults to resendAPIBase
	Logger     *slog.Logger
}

// ResendClient sends transactional email through the Resend /emails API via
// BaseClient, inheriting circuit breaking and retry behavior.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	from    string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a ResendClient with a default BaseClient.
func NewResendClient(httpClient *http.Client, cfg ResendConfig) *ResendClient {
	base := NewBaseClient(httpClient, "resend", DefaultRetryPolicy(), "LifeSync/1.0")
	return NewResendClientWithBase(base, cfg)
}

// NewResendClientWithBase creates a ResendClient with a caller-provided
// BaseClient, used by tests to disable retries or inject a sleep func.
func NewResendClientWithBase(base *BaseClient, cfg ResendConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		from:    fmt.Sprintf("Price Alerts <alerts@%s>", cfg.FromDomain),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// resendPayload is the POST /emails request body.
type resendPayload struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []resendTag       `json:"tags,omitempty"`
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// resendResponse is the accepted-message response body.
type resendResponse struct {
	ID string `json:"id"`
}

// SendEmail transmits one message and returns the provider message ID. The
// content reference ID rides in the X-Entity-Ref-ID header so provider-side
// deduplication sees retried attempts as the same logical alert.
func (c *ResendClient) SendEmail(ctx context.Context, to string, content types.MessageContent) (string, error) {
	payload := resendPayload{
		From:    c.from,
		To:      []string{to},
		Subject: content.Subject,
		HTML:    content.HTMLBody,
		Text:    content.Body,
	}
	if content.ReferenceID != "" {
		payload.Headers = map[string]string{
			"X-Entity-Ref-ID": content.ReferenceID,
			"X-Price-Alert":   "true",
		}
		payload.Tags = []resendTag{{Name: "alert_type", Value: "price_drop"}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build resend request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("resend returned %d: %s", resp.StatusCode, string(detail)), nil)
	}

	var out resendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			"failed to decode resend response", err)
	}

	c.logger.InfoContext(ctx, "email accepted by provider",
		"message_id", out.ID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return out.ID, nil
}

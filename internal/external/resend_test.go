package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lifesync/internal/types"
)

func newTestResendClient(serverURL string) *ResendClient {
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"resend-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"LifeSync-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewResendClientWithBase(base, ResendConfig{
		APIKey:     "re_test_key",
		FromDomain: "lifesync.app",
		BaseURL:    serverURL,
	})
}

func TestResendClient_SendEmail_Success(t *testing.T) {
	var captured resendPayload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_abc123"}`))
	}))
	defer server.Close()

	client := newTestResendClient(server.URL)

	id, err := client.SendEmail(context.Background(), "buyer@example.com", types.MessageContent{
		Subject:     "Price dropped",
		Body:        "plain text",
		HTMLBody:    "<p>html</p>",
		ReferenceID: "price_alert_prod_1_1700000000000",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if id != "email_abc123" {
		t.Errorf("expected message id email_abc123, got %s", id)
	}
	if auth != "Bearer re_test_key" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if captured.From != "Price Alerts <alerts@lifesync.app>" {
		t.Errorf("unexpected from: %s", captured.From)
	}
	if len(captured.To) != 1 || captured.To[0] != "buyer@example.com" {
		t.Errorf("unexpected to: %v", captured.To)
	}
	if captured.Headers["X-Entity-Ref-ID"] != "price_alert_prod_1_1700000000000" {
		t.Errorf("missing idempotency header, got %v", captured.Headers)
	}
	if len(captured.Tags) != 1 || captured.Tags[0].Value != "price_drop" {
		t.Errorf("missing alert_type tag, got %v", captured.Tags)
	}
}

func TestResendClient_SendEmail_NoReferenceOmitsHeaders(t *testing.T) {
	var captured resendPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer server.Close()

	client := newTestResendClient(server.URL)

	_, err := client.SendEmail(context.Background(), "to@example.com", types.MessageContent{
		Subject: "Reminder",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if captured.Headers != nil {
		t.Errorf("expected no headers without reference id, got %v", captured.Headers)
	}
}

func TestResendClient_SendEmail_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid to address"}`))
	}))
	defer server.Close()

	client := newTestResendClient(server.URL)

	_, err := client.SendEmail(context.Background(), "not-an-email", types.MessageContent{Subject: "x"})
	if err == nil {
		t.Fatal("expected error for rejected email")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamEmailProvider {
		t.Errorf("expected upstream_email_provider code, got %s", appErr.Code)
	}
}

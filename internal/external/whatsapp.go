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
	"sync"

	"lifesync/internal/types"
)

// WhatsAppConfig holds the configuration for the WhatsApp gateway client.
// The gateway is a self-hosted bridge exposing a small REST surface
// (/session/start, /session/stop, /messages) over the WhatsApp session.
type WhatsAppConfig struct {
	GatewayURL string
	APIToken   string
	SessionID  string
	Logger     *slog.Logger
}

// WhatsAppClient talks to the WhatsApp gateway through BaseClient. Unlike
// the stateless email API, the gateway holds a live session, so the client
// has an explicit Connect/Close lifecycle owned by the process entrypoint.
type WhatsAppClient struct {
	base    *BaseClient
	cfg     WhatsAppConfig
	baseURL string
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewWhatsAppClient creates a WhatsAppClient with a default BaseClient.
func NewWhatsAppClient(httpClient *http.Client, cfg WhatsAppConfig) *WhatsAppClient {
	base := NewBaseClient(httpClient, "whatsapp", DefaultRetryPolicy(), "LifeSync/1.0")
	return NewWhatsAppClientWithBase(base, cfg)
}

// NewWhatsAppClientWithBase creates a WhatsAppClient with a caller-provided
// BaseClient.
func NewWhatsAppClientWithBase(base *BaseClient, cfg WhatsAppConfig) *WhatsAppClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppClient{
		base:    base,
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.GatewayURL, "/"),
		logger:  logger,
	}
}

// Connect starts (or attaches to) the gateway session. It must be called
// before SendMessage; calling it twice is a no-op.
func (c *WhatsAppClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	body, _ := json.Marshal(map[string]string{"session": c.cfg.SessionID})
	resp, err := c.do(ctx, http.MethodPost, "/session/start", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppError(types.ErrCodeUpstreamWhatsAppGateway,
			fmt.Sprintf("gateway session start returned %d", resp.StatusCode), nil)
	}

	c.connected = true
	c.logger.InfoContext(ctx, "whatsapp session started", "session", c.cfg.SessionID)
	return nil
}

// Close stops the gateway session. Safe to call on an unconnected client.
func (c *WhatsAppClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}

	body, _ := json.Marshal(map[string]string{"session": c.cfg.SessionID})
	resp, err := c.do(ctx, http.MethodPost, "/session/stop", body)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.connected = false
	c.logger.InfoContext(ctx, "whatsapp session stopped", "session", c.cfg.SessionID)
	return nil
}

// whatsAppMessage is the POST /messages request body.
type whatsAppMessage struct {
	Session  string `json:"session"`
	ChatID   string `json:"chat_id"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
	RefID    string `json:"ref_id,omitempty"`
}

// whatsAppResponse is the accepted-message response body.
type whatsAppResponse struct {
	MessageID string `json:"message_id"`
}

// SendMessage delivers one message to a phone number. Fails when the client
// is not connected.
func (c *WhatsAppClient) SendMessage(ctx context.Context, phone string, content types.MessageContent) (string, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsAppGateway,
			"whatsapp client is not connected", nil)
	}

	msg := whatsAppMessage{
		Session:  c.cfg.SessionID,
		ChatID:   fmt.Sprintf("%s@c.us", strings.TrimPrefix(phone, "+")),
		Body:     content.Body,
		MediaURL: content.MediaURL,
		RefID:    content.ReferenceID,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal whatsapp message", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsAppGateway,
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, string(detail)), nil)
	}

	var out whatsAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamWhatsAppGateway,
			"failed to decode gateway response", err)
	}
	return out.MessageID, nil
}

// do issues an authenticated request against the gateway.
func (c *WhatsAppClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build gateway request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	return c.base.Do(req)
}

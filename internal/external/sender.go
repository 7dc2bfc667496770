package external

import (
	"context"
	"fmt"

	"lifesync/internal/types"
)

// Compile-time assertion that MultiChannelSender implements NotificationClient.
var _ types.NotificationClient = (*MultiChannelSender)(nil)

// MultiChannelSender routes sends to the per-channel provider clients. It is
// the process-wide NotificationClient: created once at startup, connected,
// and injected into the dispatcher and handlers by reference. The WhatsApp
// provider may be nil when the channel is not configured; sends to it then
// fail with an upstream error rather than panicking.
type MultiChannelSender struct {
	email    *ResendClient
	whatsapp *WhatsAppClient
}

// NewMultiChannelSender creates the sender. whatsapp may be nil.
func NewMultiChannelSender(email *ResendClient, whatsapp *WhatsAppClient) *MultiChannelSender {
	return &MultiChannelSender{email: email, whatsapp: whatsapp}
}

// Connect establishes provider sessions. Email is sessionless; only the
// WhatsApp gateway needs a handshake.
func (s *MultiChannelSender) Connect(ctx context.Context) error {
	if s.whatsapp != nil {
		return s.whatsapp.Connect(ctx)
	}
	return nil
}

// Close releases provider sessions.
func (s *MultiChannelSender) Close(ctx context.Context) error {
	if s.whatsapp != nil {
		return s.whatsapp.Close(ctx)
	}
	return nil
}

// Send implements types.NotificationSender.
func (s *MultiChannelSender) Send(ctx context.Context, channel types.ChannelType, recipient string, content types.MessageContent) (types.SendResult, error) {
	switch channel {
	case types.ChannelEmail:
		id, err := s.email.SendEmail(ctx, recipient, content)
		if err != nil {
			return types.SendResult{}, err
		}
		return types.SendResult{MessageID: id}, nil

	case types.ChannelWhatsApp:
		if s.whatsapp == nil {
			return types.SendResult{}, types.NewAppError(types.ErrCodeUpstreamWhatsAppGateway,
				"whatsapp channel is not configured", nil)
		}
		id, err := s.whatsapp.SendMessage(ctx, recipient, content)
		if err != nil {
			return types.SendResult{}, err
		}
		return types.SendResult{MessageID: id}, nil

	default:
		return types.SendResult{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unsupported channel %q", channel), nil)
	}
}

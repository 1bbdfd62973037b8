package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TelegramPrefix marks a recipient as a Telegram chat id, e.g. "telegram:-100123"
const TelegramPrefix = "telegram:"

// ErrChannelNotConfigured is returned when a recipient names a channel with no sender
var ErrChannelNotConfigured = errors.New("delivery channel not configured")

// ReportSender delivers one roster artifact over one channel
type ReportSender interface {
	SendReport(ctx context.Context, recipient, courseID, artifactPath string) error
}

// Router delivers rosters to Telegram chats or e-mail addresses depending
// on the recipient's form
type Router struct {
	Email    ReportSender
	Telegram ReportSender
}

// Deliver sends the artifact to recipient
func (r *Router) Deliver(ctx context.Context, courseID, artifactLocation, recipient string) error {
	recipient = strings.TrimSpace(recipient)

	if chatID, ok := strings.CutPrefix(recipient, TelegramPrefix); ok {
		if r.Telegram == nil {
			return fmt.Errorf("telegram: %w", ErrChannelNotConfigured)
		}
		return r.Telegram.SendReport(ctx, chatID, courseID, artifactLocation)
	}

	if !strings.Contains(recipient, "@") {
		return fmt.Errorf("unrecognised recipient %q", recipient)
	}
	if r.Email == nil {
		return fmt.Errorf("email: %w", ErrChannelNotConfigured)
	}
	return r.Email.SendReport(ctx, recipient, courseID, artifactLocation)
}

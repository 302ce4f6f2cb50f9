// Package channels connects external platforms to the agent via the message
// bus. Each adapter long-polls or listens on its platform, publishes inbound
// messages, and drains its own outbound queue.
package channels

import (
	"context"
	"log/slog"

	"github.com/syne-agent/syne/internal/bus"
)

// Channel is one platform adapter.
type Channel interface {
	// Name is the platform identifier ("telegram", "whatsapp", "cli").
	Name() string

	// Start begins receiving. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the adapter down and waits for its goroutines.
	Stop(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Agent is the slice of the conversation core channels need for slash
// commands. Implemented by agent.Conversation.
type Agent interface {
	ClearSession(ctx context.Context, platform, chatID string) error
	CancelTurn(platform, chatID string) bool
}

// RunOutbound drains a channel's outbound queue until ctx is done. Send
// errors are logged and the message dropped; the platform is the source of
// truth for delivery, not the queue.
func RunOutbound(ctx context.Context, ch Channel, queue <-chan bus.OutboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-queue:
			if !ok {
				return
			}
			if err := ch.Send(ctx, msg); err != nil {
				slog.Error("outbound send failed",
					"platform", ch.Name(), "chat_id", msg.ChatID, "error", err)
			}
		}
	}
}

// Truncate shortens s for log previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package bus carries messages between channel adapters and the agent core.
// Channels publish inbound messages and subscribe for outbound ones keyed by
// platform name; the agent consumes inbound messages sequentially per chat.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// MessageBus is a small in-process pub/sub for inbound and outbound messages.
type MessageBus struct {
	inbound chan InboundMessage

	mu       sync.RWMutex
	outbound map[string]chan OutboundMessage // keyed by platform
	closed   bool
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(map[string]chan OutboundMessage),
	}
}

// PublishInbound enqueues a message from a channel adapter.
// Drops with a warning when the queue is full so a slow agent
// never blocks a channel's poll loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"platform", msg.Platform, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg, ok := <-b.inbound:
		return msg, ok
	}
}

// RegisterOutbound creates (or returns) the outbound queue for a platform.
// Each channel adapter drains its own queue.
func (b *MessageBus) RegisterOutbound(platform string) <-chan OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.outbound[platform]; ok {
		return ch
	}
	ch := make(chan OutboundMessage, defaultQueueSize)
	b.outbound[platform] = ch
	return ch
}

// PublishOutbound routes a message to the owning platform's queue.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) error {
	b.mu.RLock()
	ch, ok := b.outbound[msg.Platform]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no outbound queue for platform %q", msg.Platform)
	}
	select {
	case ch <- msg:
		return nil
	default:
		slog.Warn("outbound queue full, dropping message",
			"platform", msg.Platform, "chat_id", msg.ChatID)
		return fmt.Errorf("outbound queue for %q is full", msg.Platform)
	}
}

// Close shuts the inbound queue. Outbound queues are owned by their channels.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

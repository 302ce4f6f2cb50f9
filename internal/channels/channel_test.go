package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syne-agent/syne/internal/bus"
)

type recordChannel struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (r *recordChannel) Name() string                    { return "record" }
func (r *recordChannel) Start(context.Context) error     { return nil }
func (r *recordChannel) Stop(context.Context) error      { return nil }
func (r *recordChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestRunOutboundDrains(t *testing.T) {
	ch := &recordChannel{}
	queue := make(chan bus.OutboundMessage, 2)
	queue <- bus.OutboundMessage{ChatID: "1", Content: "a"}
	queue <- bus.OutboundMessage{ChatID: "1", Content: "b"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunOutbound(ctx, ch, queue)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ch.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("drained %d of 2 messages", ch.count())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOutbound did not return on cancel")
	}
}

func TestRunOutboundReturnsOnClosedQueue(t *testing.T) {
	queue := make(chan bus.OutboundMessage)
	close(queue)
	done := make(chan struct{})
	go func() {
		RunOutbound(context.Background(), &recordChannel{}, queue)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOutbound did not return on closed queue")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate long = %q", got)
	}
}

// Package cli is the interactive terminal channel: a readline loop feeding
// the bus, with replies printed to stdout. One fixed chat, owner-mode user.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
)

const (
	chatID   = "console"
	senderID = "local"
)

// Channel is the terminal adapter.
type Channel struct {
	bus   *bus.MessageBus
	agent channels.Agent

	rl   *readline.Instance
	done chan struct{}
}

// New builds the adapter.
func New(msgBus *bus.MessageBus, agent channels.Agent) *Channel {
	return &Channel{bus: msgBus, agent: agent}
}

func (c *Channel) Name() string { return "cli" }

// Start opens the readline loop on its own goroutine.
func (c *Channel) Start(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	c.rl = rl
	c.done = make(chan struct{})

	go c.readLoop(ctx)
	return nil
}

// Stop closes the readline instance, unblocking the read loop.
func (c *Channel) Stop(_ context.Context) error {
	if c.rl != nil {
		c.rl.Close()
	}
	if c.done != nil {
		<-c.done
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		line, err := c.rl.Readline()
		switch err {
		case nil:
		case readline.ErrInterrupt:
			// ^C on an empty line cancels the running turn.
			if c.agent.CancelTurn("cli", chatID) {
				fmt.Fprintln(c.rl.Stdout(), "cancelled")
			}
			continue
		case io.EOF:
			return
		default:
			slog.Warn("cli read failed", "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c.handleCommand(ctx, line) {
			continue
		}

		c.bus.PublishInbound(bus.InboundMessage{
			Platform:    "cli",
			ChatID:      chatID,
			SenderID:    senderID,
			DisplayName: "console",
			Content:     line,
		})
	}
}

func (c *Channel) handleCommand(ctx context.Context, line string) bool {
	switch line {
	case "/clear", "/new":
		if err := c.agent.ClearSession(ctx, "cli", chatID); err != nil {
			fmt.Fprintln(c.rl.Stdout(), "reset failed:", err)
		} else {
			fmt.Fprintln(c.rl.Stdout(), "conversation reset")
		}
	case "/cancel":
		if !c.agent.CancelTurn("cli", chatID) {
			fmt.Fprintln(c.rl.Stdout(), "nothing to cancel")
		}
	case "/exit", "/quit":
		c.rl.Close()
	default:
		return false
	}
	return true
}

// Send prints a reply under a ruled header, wrapped to the terminal width.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	width := 100
	if c.rl != nil {
		if w := readline.GetScreenWidth(); w > 26 {
			width = w
		}
	}

	var b strings.Builder
	b.WriteString("\nsyne> ")
	b.WriteString(wrap(msg.Content, width-6))
	if msg.MediaPath != "" {
		fmt.Fprintf(&b, "\n[media: %s]", msg.MediaPath)
	}
	for _, r := range msg.Reactions {
		fmt.Fprintf(&b, "\n[reaction: %s]", r)
	}
	b.WriteString("\n")

	if c.rl != nil {
		fmt.Fprint(c.rl.Stdout(), b.String())
		c.rl.Refresh()
	} else {
		fmt.Fprint(os.Stdout, b.String())
	}
	return nil
}

// wrap breaks text at display width, runewidth-aware so CJK and emoji count
// as two cells.
func wrap(text string, width int) string {
	var out strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteString("\n")
		}
		col := 0
		for _, word := range strings.Fields(line) {
			w := runewidth.StringWidth(word)
			if col > 0 && col+1+w > width {
				out.WriteString("\n")
				col = 0
			} else if col > 0 {
				out.WriteString(" ")
				col++
			}
			out.WriteString(word)
			col += w
		}
	}
	return out.String()
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.syne/cli_history"
}

package comms

import (
	"fmt"
	"strings"
	"time"

	"github.com/syne-agent/syne/internal/bus"
)

// maxQuotedLen caps reply-quote text embedded in the context prefix.
const maxQuotedLen = 500

// ContextPrefix builds the bracketed metadata line prepended to the user's
// message before it reaches the provider. The model sees who is talking,
// where, and what they replied to.
func ContextPrefix(msg *bus.InboundMessage, now time.Time) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(now.Format("2006-01-02 15:04 MST"))
	b.WriteString(" | ")
	b.WriteString(msg.Platform)
	if msg.IsGroup {
		name := msg.GroupName
		if name == "" {
			name = msg.ChatID
		}
		fmt.Fprintf(&b, " group %q", name)
	}
	b.WriteString(" | from ")
	b.WriteString(senderLabel(msg))
	b.WriteString("]")

	if msg.ReplyBody != "" {
		quoted := msg.ReplyBody
		if r := []rune(quoted); len(r) > maxQuotedLen {
			quoted = string(r[:maxQuotedLen]) + "..."
		}
		who := msg.ReplySender
		if who == "" {
			who = "someone"
		}
		fmt.Fprintf(&b, "\n[replying to %s: %q]", who, quoted)
	}
	return b.String()
}

func senderLabel(msg *bus.InboundMessage) string {
	name := msg.DisplayName
	if name == "" {
		name = msg.SenderName
	}
	if name == "" {
		name = msg.SenderID
	}
	if msg.Username != "" && msg.Username != name {
		return fmt.Sprintf("%s (@%s)", name, msg.Username)
	}
	return name
}

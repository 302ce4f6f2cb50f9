package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
)

// mediaMaxBytes caps inbound media downloads.
const mediaMaxBytes = 16 * 1024 * 1024

func (c *Channel) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		c.handleMessageEvt(evt)
	case *events.Connected:
		c.connected.Store(true)
		slog.Info("whatsapp connected")
	case *events.Disconnected:
		c.connected.Store(false)
		slog.Warn("whatsapp disconnected, auto-reconnect pending")
	case *events.StreamReplaced:
		c.connected.Store(false)
		slog.Error("whatsapp stream replaced by another device")
	case *events.LoggedOut:
		c.connected.Store(false)
		slog.Error("whatsapp session invalidated, new QR scan required")
	case *events.PairSuccess:
		slog.Info("whatsapp paired", "jid", evt.ID.String())
	}
}

func (c *Channel) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return
	}

	msg := bus.InboundMessage{
		Platform:   "whatsapp",
		ChatID:     evt.Info.Chat.String(),
		SenderID:   evt.Info.Sender.ToNonAD().String(),
		SenderName: evt.Info.PushName,
		IsGroup:    evt.Info.IsGroup,
		Metadata:   map[string]string{"message_id": string(evt.Info.ID)},
	}
	if msg.IsGroup {
		msg.GroupName = evt.Info.Chat.User
	}

	c.extractContent(evt.Message, &msg)
	c.extractQuote(evt.Message, &msg)
	if msg.IsGroup {
		msg.Mentioned = c.detectMention(evt.Message)
	}

	if msg.Content == "" && len(msg.Media) == 0 {
		return
	}

	if !msg.IsGroup && c.handleCommand(evt, msg.Content) {
		return
	}

	slog.Debug("whatsapp message received",
		"chat", msg.ChatID, "is_group", msg.IsGroup,
		"preview", channels.Truncate(msg.Content, 60))

	c.sendTyping(evt.Info.Chat)
	c.bus.PublishInbound(msg)
}

// handleCommand intercepts the slash commands shared across channels.
func (c *Channel) handleCommand(evt *events.Message, content string) bool {
	reply := func(text string) {
		ctx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
		defer cancel()
		if _, err := c.client.SendMessage(ctx, evt.Info.Chat,
			&waE2E.Message{Conversation: &text}); err != nil {
			slog.Warn("whatsapp command reply failed", "error", err)
		}
	}

	switch strings.TrimSpace(content) {
	case "/clear", "/new":
		ctx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
		defer cancel()
		if err := c.agent.ClearSession(ctx, "whatsapp", evt.Info.Chat.String()); err != nil {
			reply("Could not reset the conversation: " + err.Error())
		} else {
			reply("Conversation reset. Starting fresh.")
		}
	case "/cancel", "/stop":
		if c.agent.CancelTurn("whatsapp", evt.Info.Chat.String()) {
			reply("Cancelled.")
		} else {
			reply("Nothing to cancel.")
		}
	default:
		return false
	}
	return true
}

// extractContent pulls text and downloadable media out of the raw message.
func (c *Channel) extractContent(waMsg *waE2E.Message, msg *bus.InboundMessage) {
	if waMsg == nil {
		return
	}

	switch {
	case waMsg.Conversation != nil:
		msg.Content = waMsg.GetConversation()

	case waMsg.ExtendedTextMessage != nil:
		msg.Content = waMsg.ExtendedTextMessage.GetText()

	case waMsg.ImageMessage != nil:
		img := waMsg.ImageMessage
		msg.Content = img.GetCaption()
		attachment := bus.MediaAttachment{
			Type:     "image",
			MimeType: img.GetMimetype(),
			Caption:  img.GetCaption(),
		}
		if img.GetFileLength() <= mediaMaxBytes {
			ctx, cancel := context.WithTimeout(c.ctx, time.Minute)
			data, err := c.client.Download(ctx, img)
			cancel()
			if err != nil {
				slog.Warn("whatsapp image download failed", "error", err)
			} else {
				attachment.Data = data
			}
		}
		msg.Media = append(msg.Media, attachment)

	case waMsg.AudioMessage != nil:
		audio := waMsg.AudioMessage
		msg.Content = "[audio]"
		if audio.GetPTT() {
			msg.Content = "[voice note]"
		}
		msg.Media = append(msg.Media, bus.MediaAttachment{
			Type:     "voice",
			MimeType: audio.GetMimetype(),
		})

	case waMsg.DocumentMessage != nil:
		doc := waMsg.DocumentMessage
		msg.Content = doc.GetCaption()
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("[document: %s]", doc.GetFileName())
		}
		msg.Media = append(msg.Media, bus.MediaAttachment{
			Type:     "document",
			MimeType: doc.GetMimetype(),
			Caption:  doc.GetFileName(),
		})

	case waMsg.LocationMessage != nil:
		loc := waMsg.LocationMessage
		msg.Content = fmt.Sprintf("[location: %.6f, %.6f]",
			loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
	}
}

// extractQuote carries reply context through to the conversation prefix.
func (c *Channel) extractQuote(waMsg *waE2E.Message, msg *bus.InboundMessage) {
	ctxInfo := contextInfoOf(waMsg)
	if ctxInfo == nil {
		return
	}
	if quoted := ctxInfo.QuotedMessage; quoted != nil {
		msg.ReplyBody = quotedText(quoted)
	}
	if p := ctxInfo.GetParticipant(); p != "" {
		msg.ReplySender = p
		if c.client != nil && c.client.Store.ID != nil &&
			strings.HasPrefix(p, c.client.Store.ID.User) {
			msg.ReplySender = "you"
		}
	}
}

// detectMention reports whether the bot's own JID appears in the mention
// list, or the message replies to one of the bot's messages.
func (c *Channel) detectMention(waMsg *waE2E.Message) bool {
	if c.client == nil || c.client.Store.ID == nil {
		return false
	}
	self := c.client.Store.ID.User

	ctxInfo := contextInfoOf(waMsg)
	if ctxInfo == nil {
		return false
	}
	for _, jid := range ctxInfo.GetMentionedJID() {
		if strings.HasPrefix(jid, self) {
			return true
		}
	}
	return strings.HasPrefix(ctxInfo.GetParticipant(), self)
}

func contextInfoOf(waMsg *waE2E.Message) *waE2E.ContextInfo {
	if waMsg == nil {
		return nil
	}
	switch {
	case waMsg.ExtendedTextMessage != nil:
		return waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		return waMsg.ImageMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		return waMsg.AudioMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		return waMsg.DocumentMessage.GetContextInfo()
	}
	return nil
}

func quotedText(quoted *waE2E.Message) string {
	switch {
	case quoted.Conversation != nil:
		return quoted.GetConversation()
	case quoted.ExtendedTextMessage != nil:
		return quoted.ExtendedTextMessage.GetText()
	case quoted.ImageMessage != nil:
		return "[image] " + quoted.ImageMessage.GetCaption()
	case quoted.DocumentMessage != nil:
		return "[document: " + quoted.DocumentMessage.GetFileName() + "]"
	case quoted.AudioMessage != nil:
		if quoted.AudioMessage.GetPTT() {
			return "[voice note]"
		}
		return "[audio]"
	}
	return "[message]"
}

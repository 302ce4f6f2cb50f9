package tools

import (
	"context"
	"strconv"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/store"
)

func registerMessagingTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name: "send_message",
		Description: "Send a message to another chat. Use the current platform unless told otherwise. " +
			"The message is delivered immediately, outside this conversation.",
		Parameters: schema(obj(
			"chat_id", obj("type", "string", "description", "destination chat id"),
			"text", obj("type", "string"),
			"platform", obj("type", "string", "description", "defaults to the current platform"),
		), "chat_id", "text"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			platform := strArg(args, "platform", inv.Platform)
			text := strArg(args, "text", "")
			if err := d.Bus.PublishOutbound(bus.OutboundMessage{
				Platform: platform,
				ChatID:   strArg(args, "chat_id", ""),
				Content:  text,
			}); err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Message sent to %s chat %s.", platform, strArg(args, "chat_id", ""))
		},
	})

	r.Register(&Tool{
		Name:        "send_reaction",
		Description: "React to a message in the current chat with an emoji.",
		Parameters: schema(obj(
			"emoji", obj("type", "string"),
			"message_id", obj("type", "string", "description", "defaults to the triggering message"),
		), "emoji"),
		MinAccess: store.AccessPublic,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			out := bus.OutboundMessage{
				Platform:  inv.Platform,
				ChatID:    inv.ChatID,
				Reactions: []string{strArg(args, "emoji", "")},
			}
			// Numeric ids drive Telegram directly; string ids ride the
			// metadata channel for platforms like WhatsApp.
			if id := strArg(args, "message_id", ""); id != "" {
				if n, err := strconv.Atoi(id); err == nil {
					out.ReactToID = n
				}
				out.Metadata = map[string]string{"react_to_id": id}
			}
			if err := d.Bus.PublishOutbound(out); err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Reaction sent.")
		},
	})
}

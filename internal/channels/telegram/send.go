package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/comms"
)

// messageLimit is Telegram's per-message text cap in runes.
const messageLimit = 4096

// Send delivers one outbound message: reactions first, then media, then the
// text split into Telegram-sized parts.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.stopTyping(msg.ChatID)

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", msg.ChatID, err)
	}

	for _, emoji := range msg.Reactions {
		if msg.ReactToID == 0 {
			break
		}
		if err := c.react(ctx, chatID, msg.ReactToID, emoji); err != nil {
			slog.Warn("telegram reaction failed", "emoji", emoji, "error", err)
		}
	}

	if msg.MediaPath != "" {
		if err := c.sendMedia(ctx, chatID, msg.MediaPath, ""); err != nil {
			slog.Warn("telegram media send failed", "path", msg.MediaPath, "error", err)
		}
	}

	if msg.Content == "" {
		return nil
	}

	parts := comms.Split(msg.Content, messageLimit)
	for i, part := range parts {
		if err := c.wait(ctx, chatID); err != nil {
			return err
		}
		params := &telego.SendMessageParams{
			ChatID:    telego.ChatID{ID: chatID},
			Text:      comms.ToTelegramHTML(part),
			ParseMode: telego.ModeHTML,
		}
		// Only the first part reply-quotes; continuation parts read wrong
		// when each one quotes the same message.
		if i == 0 && msg.ReplyToID != 0 {
			params.ReplyParameters = &telego.ReplyParameters{
				MessageID:                msg.ReplyToID,
				AllowSendingWithoutReply: true,
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			// HTML conversion can trip Telegram's parser on edge cases.
			// Retry the raw text without a parse mode before giving up.
			params.Text = part
			params.ParseMode = ""
			if _, err = c.bot.SendMessage(ctx, params); err != nil {
				return fmt.Errorf("send message part %d/%d: %w", i+1, len(parts), err)
			}
		}
	}
	return nil
}

func (c *Channel) react(ctx context.Context, chatID int64, messageID int, emoji string) error {
	return c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: messageID,
		Reaction: []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		},
	})
}

// sendMedia uploads a workspace file, as a photo when the extension says
// image, otherwise as a document.
func (c *Channel) sendMedia(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media %s: %w", path, err)
	}
	defer f.Close()

	if err := c.wait(ctx, chatID); err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		_, err = c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:  telego.ChatID{ID: chatID},
			Photo:   telego.InputFile{File: f},
			Caption: caption,
		})
	default:
		_, err = c.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID:   telego.ChatID{ID: chatID},
			Document: telego.InputFile{File: f},
			Caption:  caption,
		})
	}
	return err
}

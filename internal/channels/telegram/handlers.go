package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
)

// photoMaxBytes caps inbound photo downloads (Bot API serves up to 20MB).
const photoMaxBytes int64 = 20 * 1024 * 1024

func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if isServiceMessage(message) {
		return
	}
	from := message.From
	if from == nil {
		return
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	if handled := c.handleCommand(ctx, message, chatID, content); handled {
		return
	}

	msg := bus.InboundMessage{
		Platform:    "telegram",
		ChatID:      chatID,
		SenderID:    strconv.FormatInt(from.ID, 10),
		SenderName:  from.FirstName,
		Username:    from.Username,
		Content:     content,
		IsGroup:     isGroup,
		GroupName:   message.Chat.Title,
		Mentioned:   c.detectMention(message),
		MessageID:   message.MessageID,
		Metadata:    map[string]string{"chat_type": message.Chat.Type},
	}

	if reply := message.ReplyToMessage; reply != nil {
		msg.ReplyBody = reply.Text
		if msg.ReplyBody == "" {
			msg.ReplyBody = reply.Caption
		}
		if reply.From != nil {
			msg.ReplySender = reply.From.FirstName
			if reply.From.Username == c.bot.Username() {
				msg.ReplySender = "you"
			}
		}
	}

	if len(message.Photo) > 0 {
		// Highest resolution is the last size entry.
		photo := message.Photo[len(message.Photo)-1]
		data, err := c.downloadFile(ctx, photo.FileID, photoMaxBytes)
		if err != nil {
			slog.Warn("telegram photo download failed", "file_id", photo.FileID, "error", err)
		} else {
			msg.Media = append(msg.Media, bus.MediaAttachment{
				Type:     "image",
				MimeType: "image/jpeg",
				Data:     data,
				Caption:  message.Caption,
			})
		}
	}
	if message.Voice != nil {
		msg.Media = append(msg.Media, bus.MediaAttachment{
			Type:     "voice",
			MimeType: message.Voice.MimeType,
		})
		if msg.Content == "" {
			msg.Content = "[voice message]"
		}
	}
	if message.Document != nil {
		msg.Media = append(msg.Media, bus.MediaAttachment{
			Type:     "document",
			MimeType: message.Document.MimeType,
			Caption:  message.Document.FileName,
		})
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("[document: %s]", message.Document.FileName)
		}
	}

	if msg.Content == "" && len(msg.Media) == 0 {
		return
	}

	slog.Debug("telegram message received",
		"chat_id", chatID, "is_group", isGroup,
		"preview", channels.Truncate(msg.Content, 60))

	c.startTyping(ctx, message.Chat.ID, chatID)
	c.bus.PublishInbound(msg)
}

// handleCommand intercepts slash commands before the agent sees them.
func (c *Channel) handleCommand(ctx context.Context, message *telego.Message, chatID, content string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(content), " ")
	cmd = strings.TrimSuffix(cmd, "@"+c.bot.Username())

	reply := func(text string) {
		_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: message.Chat.ID},
			Text:   text,
		})
		if err != nil {
			slog.Warn("telegram command reply failed", "error", err)
		}
	}

	switch cmd {
	case "/start":
		reply("Hi, I'm listening. Just talk to me.")
	case "/clear", "/new":
		if err := c.agent.ClearSession(ctx, "telegram", chatID); err != nil {
			reply("Could not reset the conversation: " + err.Error())
		} else {
			reply("Conversation reset. Starting fresh.")
		}
	case "/cancel", "/stop":
		if c.agent.CancelTurn("telegram", chatID) {
			reply("Cancelled.")
		} else {
			reply("Nothing to cancel.")
		}
	default:
		return false
	}
	return true
}

// detectMention reports whether the bot was addressed: @mention in text or
// caption entities, or a reply to one of the bot's messages.
func (c *Channel) detectMention(msg *telego.Message) bool {
	botUsername := c.bot.Username()
	if botUsername == "" {
		return false
	}

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		for _, entity := range pair.entities {
			if entity.Type != "mention" {
				continue
			}
			end := entity.Offset + entity.Length
			if end > len(pair.text) {
				continue
			}
			if strings.EqualFold(pair.text[entity.Offset:end], "@"+botUsername) {
				return true
			}
		}
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.Username == botUsername {
		return true
	}
	return false
}

// downloadFile fetches a file's bytes through the Bot API file endpoint.
func (c *Channel) downloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return nil, fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds max size during download")
	}
	return data, nil
}

// isServiceMessage reports a system update with no user content (member
// joins, pins, title changes).
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if len(msg.Photo) > 0 || msg.Voice != nil || msg.Audio != nil ||
		msg.Video != nil || msg.Document != nil || msg.Sticker != nil {
		return false
	}
	return true
}

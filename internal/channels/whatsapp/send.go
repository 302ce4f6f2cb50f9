package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waCommon "go.mau.fi/whatsmeow/proto/waCommon"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/syne-agent/syne/internal/bus"
)

// Send delivers one outbound message: reaction first, then media, then text.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.connected.Load() {
		return fmt.Errorf("whatsapp not connected")
	}
	jid, err := parseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("bad whatsapp chat id %q: %w", msg.ChatID, err)
	}

	if reactTo := msg.Metadata["react_to_id"]; reactTo != "" {
		for _, emoji := range msg.Reactions {
			if err := c.sendReaction(ctx, jid, reactTo, emoji); err != nil {
				return fmt.Errorf("send reaction: %w", err)
			}
		}
	}

	if msg.MediaPath != "" {
		if err := c.sendMedia(ctx, jid, msg.MediaPath); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}

	if msg.Content == "" {
		return nil
	}
	waMsg := buildTextMessage(msg.Content, msg.Metadata["reply_to_id"], jid)
	if _, err := c.client.SendMessage(ctx, jid, waMsg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// buildTextMessage wraps text, attaching quote context when replying.
func buildTextMessage(text, replyToID string, chat types.JID) *waE2E.Message {
	if replyToID == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(replyToID),
				Participant:   proto.String(chat.String()),
				QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
			},
		},
	}
}

func (c *Channel) sendReaction(ctx context.Context, chat types.JID, messageID, emoji string) error {
	_, err := c.client.SendMessage(ctx, chat, &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				RemoteJID: proto.String(chat.String()),
				FromMe:    proto.Bool(false),
				ID:        proto.String(messageID),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	})
	return err
}

// sendMedia uploads a file and sends it as an image or document.
func (c *Channel) sendMedia(ctx context.Context, chat types.JID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read media %s: %w", path, err)
	}
	mime := http.DetectContentType(data)

	if strings.HasPrefix(mime, "image/") {
		uploaded, err := c.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		_, err = c.client.SendMessage(ctx, chat, &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Mimetype:      proto.String(mime),
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uploaded.FileLength),
			},
		})
		return err
	}

	uploaded, err := c.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	_, err = c.client.SendMessage(ctx, chat, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(filepath.Base(path)),
			Mimetype:      proto.String(mime),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		},
	})
	return err
}

package bus

// InboundMessage is a message received from a channel (Telegram, WhatsApp, CLI).
type InboundMessage struct {
	Platform    string            `json:"platform"`
	ChatID      string            `json:"chat_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	Username    string            `json:"username,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Content     string            `json:"content"`
	IsGroup     bool              `json:"is_group"`
	GroupName   string            `json:"group_name,omitempty"`
	Mentioned   bool              `json:"mentioned,omitempty"`
	MessageID   int               `json:"message_id,omitempty"`
	ReplySender string            `json:"reply_sender,omitempty"`
	ReplyBody   string            `json:"reply_body,omitempty"`
	Media       []MediaAttachment `json:"media,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to deliver to a channel.
type OutboundMessage struct {
	Platform  string            `json:"platform"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	ReplyToID int               `json:"reply_to_id,omitempty"`
	Reactions []string          `json:"reactions,omitempty"`
	ReactToID int               `json:"react_to_id,omitempty"`
	MediaPath string            `json:"media_path,omitempty"`
	Thinking  string            `json:"thinking,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment carries inbound media alongside the text.
type MediaAttachment struct {
	Type     string `json:"type"`      // "image", "voice", "document", ...
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     []byte `json:"-"`         // raw bytes, never serialized
	Path     string `json:"path,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

package bus

import "strings"

const contentPreviewLimit = 240

// ChatKind classifies the conversation an inbound message arrived on.
type ChatKind string

const (
	ChatDirect    ChatKind = "direct"
	ChatGroup     ChatKind = "group"
	ChatBroadcast ChatKind = "broadcast"
)

// InboundEvent is one received message as reported by a transport.
//
// Timestamp is the sender-side send time in unix seconds; zero means the transport did not
// report one.
type InboundEvent struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatKind  ChatKind          `json:"chat_kind"`
	FromSelf  bool              `json:"from_self"`
	Timestamp int64             `json:"timestamp"`
	Text      string            `json:"text"`
	MessageID string            `json:"message_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ContentPreview returns a bounded log-safe preview of the message text.
func (e InboundEvent) ContentPreview() string {
	return Preview(e.Text)
}

// Preview trims text and bounds it for log output.
func Preview(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= contentPreviewLimit {
		return trimmed
	}

	return trimmed[:contentPreviewLimit] + "..."
}

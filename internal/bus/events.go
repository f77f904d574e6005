package bus

import (
	"fmt"
	"strings"
	"time"
)

type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	MessageID  string
	Content    string
	IsFromSelf bool
	Timestamp  time.Time
	Metadata   map[string]any
}

// ConversationID is "<channel>:<chat id>", the key used by the ledger and
// the engine.
func (m *InboundMessage) ConversationID() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]any
}

// SplitConversationID reverses InboundMessage.ConversationID.
func SplitConversationID(id string) (channel, chatID string, err error) {
	channel, chatID, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || channel == "" || chatID == "" {
		return "", "", fmt.Errorf("invalid conversation id %q", id)
	}
	return channel, chatID, nil
}

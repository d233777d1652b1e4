package transport

import (
	"context"
	"strings"
)

// Message is one inbound chat line.
type Message struct {
	ChatID int64
	Text   string
}

// BotCommand is one entry of a chat client's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// Transport moves plain text between chats and the bot. Receive closes its
// channel when ctx is done or the source is exhausted.
type Transport interface {
	Receive(ctx context.Context) (<-chan Message, error)
	Send(ctx context.Context, chatID int64, text string) error
}

// split cuts text into chunks of at most limit bytes, preferring line breaks.
func split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConsoleChatID is the chat every console line belongs to.
const ConsoleChatID int64 = 1

// Console serves a single local chat over a reader and writer.
type Console struct {
	in io.Reader

	mu  sync.Mutex
	out io.Writer
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// Receive yields one message per non-blank input line and closes at EOF.
func (c *Console) Receive(ctx context.Context) (<-chan Message, error) {
	lines := make(chan Message)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			select {
			case lines <- Message{ChatID: ConsoleChatID, Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

func (c *Console) Send(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n\n", text)
	return err
}

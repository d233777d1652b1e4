package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/ethpilot/internal/conversation"
	"github.com/ggonzalez94/ethpilot/internal/transport"
)

type recordingHandler struct {
	mu      sync.Mutex
	handled map[int64][]string
	hook    func(chatID int64, text string)
}

func (h *recordingHandler) Handle(_ context.Context, chatID int64, text string) string {
	if h.hook != nil {
		h.hook(chatID, text)
	}
	h.record(chatID, text)
	return "re: " + text
}

func (h *recordingHandler) Cancel(chatID int64) string {
	if h.hook != nil {
		h.hook(chatID, "/cancel")
	}
	h.record(chatID, "/cancel")
	return "cancelled"
}

func (h *recordingHandler) record(chatID int64, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handled == nil {
		h.handled = map[int64][]string{}
	}
	h.handled[chatID] = append(h.handled[chatID], text)
}

func (h *recordingHandler) texts(chatID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled[chatID]...)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []transport.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, transport.Message{ChatID: chatID, Text: text})
	return s.err
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Text)
	}
	return out
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feed(msgs ...transport.Message) <-chan transport.Message {
	ch := make(chan transport.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func TestDispatcherKeepsPerChatOrder(t *testing.T) {
	h := &recordingHandler{}
	s := &recordingSender{}
	d := newDispatcher(h, s, nil, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 1, Text: "/buy"},
		transport.Message{ChatID: 2, Text: "/gas"},
		transport.Message{ChatID: 1, Text: testToken},
		transport.Message{ChatID: 1, Text: "100"},
		transport.Message{ChatID: 2, Text: "/help"},
	))

	got := h.texts(1)
	want := []string{"/buy", testToken, "100"}
	if len(got) != len(want) {
		t.Fatalf("chat 1 handled %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chat 1 order %v, want %v", got, want)
		}
	}
	if got := h.texts(2); len(got) != 2 || got[0] != "/gas" || got[1] != "/help" {
		t.Fatalf("chat 2 order %v", got)
	}
	if s.count() != 5 {
		t.Fatalf("expected 5 replies, got %d", s.count())
	}
}

func TestDispatcherChatsDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	var timedOut bool
	h := &recordingHandler{hook: func(chatID int64, text string) {
		switch chatID {
		case 1:
			select {
			case <-release:
			case <-time.After(2 * time.Second):
				timedOut = true
			}
		case 2:
			close(release)
		}
	}}
	d := newDispatcher(h, &recordingSender{}, nil, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 1, Text: "/balance"},
		transport.Message{ChatID: 2, Text: "/gas"},
	))
	if timedOut {
		t.Fatalf("chat 1 waited for chat 2's lane")
	}
}

func TestDispatcherCancelSkipsQueue(t *testing.T) {
	release := make(chan struct{})
	h := &recordingHandler{hook: func(chatID int64, text string) {
		switch text {
		case "/balance":
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
		case "/cancel":
			close(release)
		}
	}}
	d := newDispatcher(h, &recordingSender{}, nil, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 1, Text: "/balance"},
		transport.Message{ChatID: 1, Text: "/portfolio"},
		transport.Message{ChatID: 1, Text: "/cancel"},
	))

	var sawCancel bool
	for _, text := range h.texts(1) {
		if text == "/portfolio" {
			t.Fatalf("queued message survived /cancel: %v", h.texts(1))
		}
		if text == "/cancel" {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Fatalf("cancel was not handled: %v", h.texts(1))
	}
}

func TestDispatcherAppliesCancelBeforeLaterMessages(t *testing.T) {
	h := &recordingHandler{}
	s := &recordingSender{}
	d := newDispatcher(h, s, nil, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 1, Text: "/cancel"},
		transport.Message{ChatID: 1, Text: "/buy"},
	))
	got := h.texts(1)
	if len(got) != 2 || got[0] != "/cancel" || got[1] != "/buy" {
		t.Fatalf("cancel must be applied before the next message, got %v", got)
	}
	sent := s.texts()
	if len(sent) != 2 || sent[0] != "cancelled" || sent[1] != "re: /buy" {
		t.Fatalf("replies out of order: %v", sent)
	}
}

func TestDispatcherCancelThenCommandWithEngine(t *testing.T) {
	engine := conversation.New(conversation.Options{Wallet: testWallet, Logger: discardLogger()})
	s := &recordingSender{}
	d := newDispatcher(engine, s, nil, discardLogger())

	msgs := make(chan transport.Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background(), msgs)
	}()

	msgs <- transport.Message{ChatID: 7, Text: "/scan"}
	deadline := time.Now().Add(5 * time.Second)
	for {
		d.mu.Lock()
		idle := len(d.lanes) == 0
		d.mu.Unlock()
		if idle && s.count() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scan prompt was not sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs <- transport.Message{ChatID: 7, Text: "/cancel"}
	msgs <- transport.Message{ChatID: 7, Text: "/buy"}
	close(msgs)
	<-done

	sent := s.texts()
	if len(sent) != 3 {
		t.Fatalf("expected 3 replies, got %q", sent)
	}
	if sent[1] != "Cancelled /scan." || !strings.HasPrefix(sent[2], "Enter the token contract address:") {
		t.Fatalf("unexpected replies %q", sent)
	}
	if state, step := engine.State(7); state != conversation.CollectingParam || step != 0 {
		t.Fatalf("expected /buy collecting its first parameter, got %s step %d", state, step)
	}
}

func TestDispatcherIgnoresDisallowedChats(t *testing.T) {
	h := &recordingHandler{}
	s := &recordingSender{}
	d := newDispatcher(h, s, []int64{1}, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 2, Text: "/balance"},
		transport.Message{ChatID: 1, Text: "/help"},
	))
	if len(h.texts(2)) != 0 {
		t.Fatalf("disallowed chat was handled")
	}
	if len(h.texts(1)) != 1 || s.count() != 1 {
		t.Fatalf("allowed chat not served: handled=%v sent=%d", h.texts(1), s.count())
	}
}

func TestDispatcherSurvivesSendFailures(t *testing.T) {
	h := &recordingHandler{}
	s := &recordingSender{err: errors.New("telegram down")}
	d := newDispatcher(h, s, nil, discardLogger())
	d.Run(context.Background(), feed(
		transport.Message{ChatID: 1, Text: "/help"},
		transport.Message{ChatID: 1, Text: "/gas"},
	))
	if len(h.texts(1)) != 2 || s.count() != 2 {
		t.Fatalf("expected both messages handled after send failure, handled=%v", h.texts(1))
	}
}

func TestCommandOf(t *testing.T) {
	if got := commandOf("  /BUY 0xabc 10"); got != "/buy" {
		t.Fatalf("commandOf = %q", got)
	}
	if got := commandOf("yes"); got != "" {
		t.Fatalf("expected no command, got %q", got)
	}
}

package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
)

type fakeBotAPI struct {
	server  *httptest.Server
	updates atomic.Int32

	mu       sync.Mutex
	sent     []sentMessage
	commands string
}

type sentMessage struct {
	chatID string
	text   string
}

func newFakeBotAPI(t *testing.T, token string) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasPrefix(r.URL.Path, "/bot"+token+"/") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_ = r.ParseForm()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Pilot","username":"ethpilot_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if f.updates.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"ok":true,"result":[
					{"update_id":10,"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"  /gas  "}},
					{"update_id":11,"edited_message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"/gas"}},
					{"update_id":12,"message":{"message_id":2,"date":1700000000,"chat":{"id":43,"type":"private"},"text":"/help"}}
				]}`))
				return
			}
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		case strings.HasSuffix(r.URL.Path, "/setMyCommands"):
			f.mu.Lock()
			f.commands = r.Form.Get("commands")
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			f.mu.Lock()
			f.sent = append(f.sent, sentMessage{chatID: r.Form.Get("chat_id"), text: r.Form.Get("text")})
			f.mu.Unlock()
			if r.Form.Get("chat_id") == "429" {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) newTelegram(t *testing.T, token string) (*Telegram, error) {
	t.Helper()
	return NewTelegram(TelegramOptions{
		Token:    token,
		Endpoint: f.server.URL + "/bot%s/%s",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestTelegramReceiveAndSend(t *testing.T) {
	api := newFakeBotAPI(t, "secret")
	tg, err := api.newTelegram(t, "secret")
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}
	if tg.Username() != "ethpilot_bot" {
		t.Fatalf("unexpected bot username %q", tg.Username())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := tg.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	var got []Message
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for updates, got %+v", got)
		}
	}
	if got[0] != (Message{ChatID: 42, Text: "/gas"}) || got[1] != (Message{ChatID: 43, Text: "/help"}) {
		t.Fatalf("unexpected messages %+v", got)
	}

	if err := tg.Send(ctx, 42, "Gas price: 12 gwei"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	api.mu.Lock()
	sent := api.sent
	api.mu.Unlock()
	if len(sent) != 1 || sent[0].chatID != "42" || sent[0].text != "Gas price: 12 gwei" {
		t.Fatalf("unexpected sent messages %+v", sent)
	}

	cancel()
	closed := make(chan struct{})
	go func() {
		for range msgs {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("receive channel not closed after cancel")
	}
}

func TestTelegramErrors(t *testing.T) {
	api := newFakeBotAPI(t, "secret")
	if _, err := api.newTelegram(t, "wrong"); clierr.CodeOf(err) != clierr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := NewTelegram(TelegramOptions{}); clierr.CodeOf(err) != clierr.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}

	tg, err := api.newTelegram(t, "secret")
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}
	if err := tg.Send(context.Background(), 429, "hi"); clierr.CodeOf(err) != clierr.CodeRateLimited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestTelegramSetCommands(t *testing.T) {
	api := newFakeBotAPI(t, "secret")
	tg, err := api.newTelegram(t, "secret")
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}
	err = tg.SetCommands([]BotCommand{{Command: "buy", Description: "Prepare a buy"}, {Command: "gas", Description: "Show gas"}})
	if err != nil {
		t.Fatalf("SetCommands failed: %v", err)
	}
	api.mu.Lock()
	got := api.commands
	api.mu.Unlock()
	if !strings.Contains(got, `"command":"buy"`) || !strings.Contains(got, `"description":"Show gas"`) {
		t.Fatalf("unexpected commands payload %s", got)
	}
}

func TestSplitLongText(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := split(text, 8)
	if len(parts) != 2 || parts[0] != "aaaaaa" || parts[1] != "bbbbbb" {
		t.Fatalf("unexpected split %q", parts)
	}
	parts = split(strings.Repeat("c", 10), 4)
	if len(parts) != 3 || parts[2] != "cc" {
		t.Fatalf("unexpected hard split %q", parts)
	}
	if parts := split("short", 100); len(parts) != 1 {
		t.Fatalf("unexpected split %q", parts)
	}
}

func TestConsoleRoundTrip(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("/help\n\n  /gas \n"), &out)
	msgs, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	var got []string
	for m := range msgs {
		if m.ChatID != ConsoleChatID {
			t.Fatalf("unexpected chat id %d", m.ChatID)
		}
		got = append(got, m.Text)
	}
	if len(got) != 2 || got[0] != "/help" || got[1] != "/gas" {
		t.Fatalf("unexpected lines %q", got)
	}
	if err := c.Send(context.Background(), ConsoleChatID, "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.String() != "hello\n\n" {
		t.Fatalf("unexpected console output %q", out.String())
	}
}

package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/ethpilot/internal/conversation"
	"github.com/ggonzalez94/ethpilot/internal/policy"
	"github.com/ggonzalez94/ethpilot/internal/transport"
)

const sendTimeout = 10 * time.Second

type messageHandler interface {
	Handle(ctx context.Context, chatID int64, text string) string
	Cancel(chatID int64) string
}

type replySender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// dispatcher fans inbound messages out to one ordered lane per chat. Chats
// never wait on each other. /cancel takes effect before the next message of
// the chat is queued and drops input that has not started yet.
type dispatcher struct {
	handler messageHandler
	sender  replySender
	allowed []int64
	log     *slog.Logger

	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

// queued is either a message to handle or a reply already computed.
type queued struct {
	text  string
	reply string
}

type lane struct {
	pending []queued
	running bool
}

func newDispatcher(handler messageHandler, sender replySender, allowed []int64, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		handler: handler,
		sender:  sender,
		allowed: allowed,
		log:     logger,
		lanes:   map[int64]*lane{},
	}
}

// Run consumes msgs until the channel closes, then waits for in-flight
// messages to be answered.
func (d *dispatcher) Run(ctx context.Context, msgs <-chan transport.Message) {
	for msg := range msgs {
		d.dispatch(ctx, msg)
	}
	d.wg.Wait()
}

func (d *dispatcher) dispatch(ctx context.Context, msg transport.Message) {
	if !policy.ChatAllowed(d.allowed, msg.ChatID) {
		d.log.Warn("message_ignored", "chat_id", msg.ChatID, "reason", "chat not allowed")
		return
	}

	item := queued{text: msg.Text}
	if conversation.IsCancel(msg.Text) {
		// Cancel only takes the engine's state lock, never a chat lane, so it
		// is applied here before anything later from this chat is queued.
		reply := d.handler.Cancel(msg.ChatID)
		d.mu.Lock()
		l, ok := d.lanes[msg.ChatID]
		if ok && len(l.pending) > 0 {
			d.log.Info("queued_messages_dropped", "chat_id", msg.ChatID, "count", len(l.pending))
			l.pending = nil
		}
		busy := ok && l.running
		d.mu.Unlock()
		if busy {
			// The running message's result is discarded, so the reply need
			// not wait for it.
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.send(ctx, msg.ChatID, reply)
			}()
			return
		}
		item = queued{reply: reply}
	}

	d.mu.Lock()
	l, ok := d.lanes[msg.ChatID]
	if !ok {
		l = &lane{}
		d.lanes[msg.ChatID] = l
	}
	l.pending = append(l.pending, item)
	start := !l.running
	l.running = true
	d.mu.Unlock()

	if start {
		d.wg.Add(1)
		go d.drain(ctx, msg.ChatID, l)
	}
}

func (d *dispatcher) drain(ctx context.Context, chatID int64, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			delete(d.lanes, chatID)
			d.mu.Unlock()
			return
		}
		item := l.pending[0]
		l.pending = l.pending[1:]
		d.mu.Unlock()

		if item.text == "" {
			d.send(ctx, chatID, item.reply)
			continue
		}
		d.handle(ctx, chatID, item.text)
	}
}

func (d *dispatcher) handle(ctx context.Context, chatID int64, text string) {
	started := time.Now()
	reply := d.handler.Handle(ctx, chatID, text)
	d.log.Debug("message_handled", "chat_id", chatID, "command", commandOf(text), "took", time.Since(started), "replied", reply != "")
	d.send(ctx, chatID, reply)
}

func (d *dispatcher) send(ctx context.Context, chatID int64, reply string) {
	if reply == "" {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, chatID, reply); err != nil {
		d.log.Warn("reply_failed", "chat_id", chatID, "err", err)
	}
}

func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	return strings.ToLower(fields[0])
}

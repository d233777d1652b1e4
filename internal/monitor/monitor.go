package monitor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/out"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultWorkers  = 4
	DefaultExpiry   = 7 * 24 * time.Hour
	noticeBuffer    = 64
)

// Source is the slice of the gateway the monitor polls.
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	Transactions(ctx context.Context, address string, sinceBlock uint64) ([]model.TransactionEvent, uint64, error)
}

type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Notice is one transaction to tell one chat about.
type Notice struct {
	ChatID  int64
	Address string
	Event   model.TransactionEvent
}

type Options struct {
	Source   Source
	Interval time.Duration
	Jitter   time.Duration
	Workers  int
	Expiry   time.Duration
	Logger   *slog.Logger
}

type subscription struct {
	chatID  int64
	address string

	// mu guards cursor and seen. Only the poll cycle writes them.
	mu     sync.Mutex
	cursor uint64
	seen   *seenSet
}

type subKey struct {
	chatID  int64
	address string
}

type Monitor struct {
	src      Source
	interval time.Duration
	jitter   time.Duration
	workers  int
	expiry   time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	subs     map[subKey]*subscription
	activity map[int64]time.Time
	cycling  sync.Mutex
}

func New(opts Options) *Monitor {
	m := &Monitor{
		src:      opts.Source,
		interval: opts.Interval,
		jitter:   opts.Jitter,
		workers:  opts.Workers,
		expiry:   opts.Expiry,
		log:      opts.Logger,
		now:      time.Now,
		subs:     map[subKey]*subscription{},
		activity: map[int64]time.Time{},
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.jitter < 0 || m.jitter >= m.interval {
		m.jitter = 0
	}
	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}
	if m.expiry <= 0 {
		m.expiry = DefaultExpiry
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

func (m *Monitor) Head(ctx context.Context) (uint64, error) {
	return m.src.LatestBlock(ctx)
}

// Subscribe starts watching address for chatID from block cursor onwards.
// It returns false when the chat already watches the address.
func (m *Monitor) Subscribe(chatID int64, address string, cursor uint64) bool {
	key := subKey{chatID: chatID, address: strings.ToLower(address)}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[chatID] = m.now()
	if _, ok := m.subs[key]; ok {
		return false
	}
	m.subs[key] = &subscription{chatID: chatID, address: key.address, cursor: cursor, seen: newSeenSet(SeenCapacity)}
	m.log.Info("subscription_added", "chat_id", chatID, "address", key.address, "cursor", cursor)
	return true
}

// Unsubscribe removes the given addresses, or all of the chat's watches when
// addresses is empty, and returns how many were removed.
func (m *Monitor) Unsubscribe(chatID int64, addresses []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	if len(addresses) == 0 {
		for key := range m.subs {
			if key.chatID == chatID {
				delete(m.subs, key)
				removed++
			}
		}
	} else {
		for _, a := range addresses {
			key := subKey{chatID: chatID, address: strings.ToLower(a)}
			if _, ok := m.subs[key]; ok {
				delete(m.subs, key)
				removed++
			}
		}
	}
	if removed > 0 {
		m.log.Info("subscription_removed", "chat_id", chatID, "count", removed)
	}
	return removed
}

func (m *Monitor) Watched(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var addrs []string
	for key := range m.subs {
		if key.chatID == chatID {
			addrs = append(addrs, key.address)
		}
	}
	sort.Strings(addrs)
	return addrs
}

// Touch records chat activity, which keeps the chat's watches alive.
func (m *Monitor) Touch(chatID int64) {
	m.mu.Lock()
	m.activity[chatID] = m.now()
	m.mu.Unlock()
}

// Snapshot returns a read-only view of every subscription.
func (m *Monitor) Snapshot() []model.SubscriptionView {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	activity := make(map[int64]time.Time, len(m.activity))
	for k, v := range m.activity {
		activity[k] = v
	}
	m.mu.Unlock()

	views := make([]model.SubscriptionView, 0, len(subs))
	for _, s := range subs {
		s.mu.Lock()
		views = append(views, model.SubscriptionView{
			ChatID:       s.chatID,
			Address:      s.address,
			Cursor:       s.cursor,
			Seen:         s.seen.Len(),
			LastActivity: activity[s.chatID],
		})
		s.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ChatID != views[j].ChatID {
			return views[i].ChatID < views[j].ChatID
		}
		return views[i].Address < views[j].Address
	})
	return views
}

// Expire drops the watches of chats idle for longer than the expiry window.
func (m *Monitor) Expire() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key := range m.subs {
		last, ok := m.activity[key.chatID]
		if ok && now.Sub(last) < m.expiry {
			continue
		}
		delete(m.subs, key)
		removed++
		m.log.Info("subscription_expired", "chat_id", key.chatID, "address", key.address)
	}
	for chatID, last := range m.activity {
		if now.Sub(last) >= m.expiry {
			delete(m.activity, chatID)
		}
	}
	return removed
}

// Cycle polls every subscription once and returns the new transactions in
// block order per subscription. A failing subscription keeps its cursor and
// is retried next cycle.
func (m *Monitor) Cycle(ctx context.Context) []Notice {
	m.cycling.Lock()
	defer m.cycling.Unlock()

	m.Expire()
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	var (
		mu      sync.Mutex
		notices []Notice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, s := range subs {
		g.Go(func() error {
			found, err := m.poll(gctx, s)
			if err != nil {
				m.log.Warn("monitor_poll_failed", "chat_id", s.chatID, "address", s.address, "err", err)
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				notices = append(notices, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return notices
}

func (m *Monitor) poll(ctx context.Context, s *subscription) ([]Notice, error) {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	events, next, err := m.src.Transactions(ctx, s.address, cursor)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var found []Notice
	for _, ev := range events {
		if ev.BlockNumber < s.cursor || !s.seen.Add(ev.Hash) {
			continue
		}
		found = append(found, Notice{ChatID: s.chatID, Address: s.address, Event: ev})
	}
	// The last block is queried again next time; the seen set absorbs repeats.
	if next > s.cursor {
		s.cursor = next
	}
	return found, nil
}

// Run polls until ctx is done and hands new transactions to sender from a
// separate stage, so a slow chat never delays polling.
func (m *Monitor) Run(ctx context.Context, sender Sender) error {
	notices := make(chan Notice, noticeBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(notices)
		m.loop(gctx, notices)
		return nil
	})
	g.Go(func() error {
		m.notify(gctx, notices, sender)
		return nil
	})
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, notices chan<- Notice) {
	timer := time.NewTimer(m.delay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		started := time.Now()
		found := m.Cycle(ctx)
		m.log.Debug("monitor_cycle_completed", "subscriptions", m.count(), "notices", len(found), "took", time.Since(started))
		for _, n := range found {
			select {
			case notices <- n:
			case <-ctx.Done():
				return
			}
		}
		timer.Reset(m.delay())
	}
}

func (m *Monitor) notify(ctx context.Context, notices <-chan Notice, sender Sender) {
	for n := range notices {
		if err := sender.Send(ctx, n.ChatID, out.Notification(n.Address, n.Event)); err != nil {
			m.log.Warn("notification_failed", "chat_id", n.ChatID, "hash", n.Event.Hash, "err", err)
			continue
		}
		m.log.Info("notification_sent", "chat_id", n.ChatID, "address", n.Address, "hash", n.Event.Hash)
	}
}

func (m *Monitor) delay() time.Duration {
	if m.jitter <= 0 {
		return m.interval
	}
	return m.interval - m.jitter + rand.N(2*m.jitter)
}

func (m *Monitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

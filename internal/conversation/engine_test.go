package conversation

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/model"
)

const (
	testChat   int64 = 42
	testWallet       = "0x1111111111111111111111111111111111111111"
	testToken        = "0x2222222222222222222222222222222222222222"
	usdcToken        = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

type fakeGateway struct {
	mu       sync.Mutex
	price    float64
	priceErr error
	block    chan struct{}
	started  chan struct{}
	queried  []string
}

func (f *fakeGateway) EthBalance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	f.queried = append(f.queried, address)
	f.mu.Unlock()
	wei, _ := new(big.Int).SetString("2000000000000000000", 10)
	return wei, nil
}

func (f *fakeGateway) TokenBalances(_ context.Context, address string) ([]model.TokenBalance, error) {
	f.mu.Lock()
	f.queried = append(f.queried, address)
	f.mu.Unlock()
	return []model.TokenBalance{{Symbol: "USDC", Balance: "12.5"}}, nil
}

func (f *fakeGateway) TokenPriceUSD(ctx context.Context, _ string) (float64, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

func (f *fakeGateway) ETHPriceUSD(context.Context) (float64, error) { return 2000, nil }

func (f *fakeGateway) setPrice(price float64, err error) {
	f.mu.Lock()
	f.price, f.priceErr = price, err
	f.mu.Unlock()
}

type fakeScanner struct {
	profile model.TokenProfile
	calls   atomic.Int32
}

func (f *fakeScanner) Scan(_ context.Context, contract string) (model.TokenProfile, error) {
	f.calls.Add(1)
	p := f.profile
	p.Contract = contract
	return p, nil
}

type fakeGas struct{}

func (fakeGas) Estimate(context.Context) (model.GasEstimate, error) {
	return model.GasEstimate{GweiPrice: 20, CostETH: 0.003, CostUSD: 6, ETHPriceUSD: 2000}, nil
}

type subscription struct {
	address string
	cursor  uint64
}

type fakeWatcher struct {
	mu      sync.Mutex
	head    uint64
	subs    map[int64][]subscription
	touched int
}

func (f *fakeWatcher) Head(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeWatcher) Subscribe(chatID int64, address string, cursor uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[int64][]subscription{}
	}
	for _, s := range f.subs[chatID] {
		if s.address == address {
			return false
		}
	}
	f.subs[chatID] = append(f.subs[chatID], subscription{address: address, cursor: cursor})
	return true
}

func (f *fakeWatcher) Unsubscribe(chatID int64, addresses []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.subs[chatID])
	if len(addresses) == 0 {
		delete(f.subs, chatID)
		return n
	}
	kept := f.subs[chatID][:0]
	for _, s := range f.subs[chatID] {
		drop := false
		for _, a := range addresses {
			if a == s.address {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	f.subs[chatID] = kept
	return n - len(kept)
}

func (f *fakeWatcher) Watched(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.subs[chatID] {
		out = append(out, s.address)
	}
	return out
}

func (f *fakeWatcher) Touch(int64) {
	f.mu.Lock()
	f.touched++
	f.mu.Unlock()
}

type harness struct {
	engine  *Engine
	gw      *fakeGateway
	scanner *fakeScanner
	watcher *fakeWatcher
}

func newHarness(t *testing.T, enabled ...string) *harness {
	t.Helper()
	h := &harness{
		gw:      &fakeGateway{price: 0.5},
		scanner: &fakeScanner{profile: model.TokenProfile{Symbol: "PEPE", Score: 15, Level: "low"}},
		watcher: &fakeWatcher{head: 100},
	}
	h.engine = New(Options{
		Gateway:         h.gw,
		Scanner:         h.scanner,
		Gas:             fakeGas{},
		Watcher:         h.watcher,
		Wallet:          testWallet,
		EnabledCommands: enabled,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) send(text string) string {
	return h.engine.Handle(context.Background(), testChat, text)
}

func expectContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Fatalf("reply missing %q:\n%s", want, got)
		}
	}
}

func expectState(t *testing.T, e *Engine, state State, step int) {
	t.Helper()
	gotState, gotStep := e.State(testChat)
	if gotState != state || gotStep != step {
		t.Fatalf("expected %s step %d, got %s step %d", state, step, gotState, gotStep)
	}
}

func TestInlineBuyConfirmsAndRecordsIntent(t *testing.T) {
	h := newHarness(t)
	reply := h.send("/buy " + testToken + " 100 2")
	expectContains(t, reply, "Buy $100.00 worth of PEPE", "Amount: 200 PEPE", "Minimum received: 196 PEPE", "Risk: 15/100", "Reply yes")
	expectState(t, h.engine, Confirming, 3)

	reply = h.send("yes")
	expectContains(t, reply, "recorded", "not been submitted")
	expectState(t, h.engine, Idle, 0)

	intents := h.engine.Intents()
	if len(intents) != 1 {
		t.Fatalf("expected 1 recorded intent, got %d", len(intents))
	}
	if intents[0].Wallet != testWallet || intents[0].Token != testToken || intents[0].Direction != model.DirectionBuy {
		t.Fatalf("unexpected intent %+v", intents[0])
	}
}

func TestStepwisePromptsInOrder(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/buy"), "token contract address")
	expectState(t, h.engine, CollectingParam, 0)
	expectContains(t, h.send(testToken), "amount in USD")
	expectState(t, h.engine, CollectingParam, 1)
	expectContains(t, h.send("100"), "slippage")
	expectState(t, h.engine, CollectingParam, 2)
	expectContains(t, h.send("2"), "Reply yes")
	expectState(t, h.engine, Confirming, 3)
}

func TestPartialInlineArgsStartAtFirstMissingStep(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/sell "+testToken), "amount in USD")
	expectState(t, h.engine, CollectingParam, 1)
}

func TestInvalidInlineArgStaysIdleWithUsage(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/buy nope 100 2"), "Invalid token", "Usage: /buy <token> <usdAmount> <slippage>")
	expectState(t, h.engine, Idle, 0)
}

func TestExponentAmountIsRejected(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/buy "+testToken+" 1e50000000 2"), "Invalid usdAmount", "without an exponent")
	expectState(t, h.engine, Idle, 0)

	h.send("/sell " + testToken + " 100")
	expectContains(t, h.send("5e-1"), "Invalid slippage")
	expectState(t, h.engine, CollectingParam, 2)
}

func TestThreeInvalidAnswersReturnToIdle(t *testing.T) {
	h := newHarness(t)
	h.send("/buy")
	expectContains(t, h.send("bad"), "Invalid token")
	expectContains(t, h.send("0x12"), "Invalid token")
	expectState(t, h.engine, CollectingParam, 0)
	expectContains(t, h.send("still bad"), "Too many invalid attempts")
	expectState(t, h.engine, Idle, 0)
}

func TestCancelFromAnyState(t *testing.T) {
	h := newHarness(t)
	if got := h.send("/cancel"); got != "Nothing to cancel." {
		t.Fatalf("unexpected idle cancel reply %q", got)
	}

	h.send("/buy " + testToken)
	if got := h.send("/cancel"); got != "Cancelled /buy." {
		t.Fatalf("unexpected cancel reply %q", got)
	}
	expectState(t, h.engine, Idle, 0)

	h.send("/sell " + testToken + " 10 1")
	expectState(t, h.engine, Confirming, 3)
	if got := h.send("/CANCEL"); got != "Cancelled /sell." {
		t.Fatalf("unexpected cancel reply %q", got)
	}
	expectState(t, h.engine, Idle, 0)
	if len(h.engine.Intents()) != 0 {
		t.Fatal("cancelled trade must not record an intent")
	}
}

func TestSessionTimeoutResetsToIdle(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return now }

	h.send("/buy")
	expectState(t, h.engine, CollectingParam, 0)

	now = now.Add(DefaultSessionTimeout + time.Second)
	expectState(t, h.engine, Idle, 0)
	expectContains(t, h.send("/gas"), "Gas price: 20 gwei")
	expectState(t, h.engine, Idle, 0)
}

func TestSweepDropsExpiredSessions(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return now }
	h.send("/watch")
	if h.engine.Sessions() != 1 {
		t.Fatalf("expected 1 session, got %d", h.engine.Sessions())
	}
	now = now.Add(time.Hour)
	if removed := h.engine.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept session, got %d", removed)
	}
	if h.engine.Sessions() != 0 {
		t.Fatal("expected no sessions after sweep")
	}
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t)
	h.send("/buy " + testToken + " 100")
	h.gw.block = make(chan struct{})
	h.gw.started = make(chan struct{})

	done := make(chan string, 1)
	go func() { done <- h.send("2") }()

	<-h.gw.started
	if got := h.engine.Handle(context.Background(), testChat, "/cancel"); got != "Cancelled /buy." {
		t.Fatalf("unexpected cancel reply %q", got)
	}
	close(h.gw.block)

	select {
	case got := <-done:
		if got != "" {
			t.Fatalf("expected discarded reply, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight message did not finish")
	}
	expectState(t, h.engine, Idle, 0)
}

func TestCancelStopsCommandStartedFromIdle(t *testing.T) {
	h := newHarness(t)
	h.gw.block = make(chan struct{})
	h.gw.started = make(chan struct{})

	done := make(chan string, 1)
	go func() { done <- h.send("/buy " + testToken + " 100 2") }()

	<-h.gw.started
	if got := h.engine.Cancel(testChat); got != "Cancelled." {
		t.Fatalf("unexpected cancel reply %q", got)
	}
	close(h.gw.block)

	select {
	case got := <-done:
		if got != "" {
			t.Fatalf("expected discarded reply, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight message did not finish")
	}
	expectState(t, h.engine, Idle, 0)
	if got := h.engine.Cancel(testChat); got != "Nothing to cancel." {
		t.Fatalf("cancel after discard should find nothing, got %q", got)
	}
}

func TestLanesAreReleasedAfterEachMessage(t *testing.T) {
	h := newHarness(t)
	h.send("/buy")
	h.send(testToken)
	h.send("/cancel")
	for chat := int64(1); chat <= 20; chat++ {
		h.engine.Handle(context.Background(), chat, "/gas")
	}

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	if len(h.engine.lanes) != 0 || len(h.engine.epochs) != 0 || len(h.engine.active) != 0 {
		t.Fatalf("per-chat bookkeeping kept: lanes=%d epochs=%d active=%d", len(h.engine.lanes), len(h.engine.epochs), len(h.engine.active))
	}
}

func TestRiskyBuyIsRefused(t *testing.T) {
	h := newHarness(t)
	h.scanner.profile = model.TokenProfile{Symbol: "SCAM", Score: 70, Level: "high", Flags: []model.RiskFlag{model.FlagSuspectedHoneypot}}
	expectContains(t, h.send("/buy "+testToken+" 100 2"), "Buy refused", "SCAM scored 70/100", "Suspected honeypot")
	expectState(t, h.engine, Idle, 0)
}

func TestHoneypotBlocksEvenWithLowScore(t *testing.T) {
	h := newHarness(t)
	h.scanner.profile = model.TokenProfile{Symbol: "HP", Score: 40, Level: "medium", Flags: []model.RiskFlag{model.FlagSuspectedHoneypot}}
	expectContains(t, h.send("/buy "+testToken+" 100 2"), "Buy refused")
}

func TestSellAndFamiliarBuySkipScan(t *testing.T) {
	h := newHarness(t)
	h.send("/sell " + testToken + " 10 1")
	h.send("/cancel")
	expectContains(t, h.send("/buy "+usdcToken+" 10 1"), "worth of USDC")
	if calls := h.scanner.calls.Load(); calls != 0 {
		t.Fatalf("expected no scans, got %d", calls)
	}
}

func TestUnknownInputInIdle(t *testing.T) {
	h := newHarness(t)
	for _, in := range []string{"hello", "/frobnicate", "   "} {
		if got := h.send(in); got != unknownCommandReply {
			t.Fatalf("%q: unexpected reply %q", in, got)
		}
	}
}

func TestDisabledCommand(t *testing.T) {
	h := newHarness(t, "help", "balance")
	if got := h.send("/buy"); got != "Command /buy is disabled." {
		t.Fatalf("unexpected reply %q", got)
	}
	expectContains(t, h.send("/balance"), "2 ETH", "$4,000.00")
}

func TestTransientFailureKeepsStep(t *testing.T) {
	h := newHarness(t)
	h.gw.setPrice(0, clierr.New(clierr.CodeUnavailable, "price source down"))
	h.send("/buy " + testToken + " 100")
	expectContains(t, h.send("2"), "Temporary failure: price source down. Please try again.")
	expectState(t, h.engine, CollectingParam, 2)

	h.gw.setPrice(0.5, nil)
	expectContains(t, h.send("2"), "Reply yes")
	expectState(t, h.engine, Confirming, 3)
}

func TestPermanentFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.gw.setPrice(0, clierr.New(clierr.CodeNotFound, "no price for token"))
	h.send("/buy")
	h.send(testToken)
	h.send("100")
	expectContains(t, h.send("2"), "Request failed: no price for token")
	expectState(t, h.engine, Idle, 0)
}

func TestExhaustedBudgetIsNotOfferedForRetry(t *testing.T) {
	h := newHarness(t)
	h.gw.setPrice(0, clierr.New(clierr.CodeQuotaExhausted, "alchemy compute-unit budget exhausted, resets 2026-11-01"))
	reply := h.send("/sell " + testToken + " 10 1")
	expectContains(t, reply, "Request failed:", "resets 2026-11-01")
	if strings.Contains(reply, "try again") {
		t.Fatalf("exhausted budget must not ask for a retry: %q", reply)
	}
	expectState(t, h.engine, Idle, 0)
}

func TestConfirmationReplies(t *testing.T) {
	h := newHarness(t)
	h.send("/sell " + testToken + " 10 1")
	if got := h.send("no"); got != "Trade cancelled." {
		t.Fatalf("unexpected reply %q", got)
	}
	expectState(t, h.engine, Idle, 0)

	h.send("/sell " + testToken + " 10 1")
	expectContains(t, h.send("maybe"), "reply yes")
	expectContains(t, h.send("later"), "reply yes")
	expectContains(t, h.send("hmm"), "Trade cancelled")
	expectState(t, h.engine, Idle, 0)
	if len(h.engine.Intents()) != 0 {
		t.Fatal("expected no recorded intents")
	}
}

func TestHighSlippageWarns(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/buy "+testToken+" 100 60"), "Warning: slippage of 60% is above 50%")
}

func TestWatchSubscribesFromNextBlock(t *testing.T) {
	h := newHarness(t)
	a := "0x3333333333333333333333333333333333333333"
	b := "0x4444444444444444444444444444444444444444"
	expectContains(t, h.send("/watch "+a+", "+b), "Watching 2 address(es)")
	subs := h.watcher.subs[testChat]
	if len(subs) != 2 || subs[0].cursor != 101 || subs[0].address != a {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}
	expectContains(t, h.send("/watch "+a), "1 already watched")
	expectContains(t, h.send("/settings"), a, b, "Session timeout: 5m0s")

	expectContains(t, h.send("/unwatch "+a), "Stopped watching 1")
	expectContains(t, h.send("/unwatch"), "Stopped watching 1")
	expectContains(t, h.send("/unwatch"), "No matching")
	if h.watcher.touched == 0 {
		t.Fatal("expected chat activity to be recorded")
	}
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/start"), "/buy <token> <usdAmount> <slippage>", "/unwatch [address,...]", "/cancel")
	expectContains(t, h.send("/help@ethpilot_bot"), "/scan <contract>")
}

func TestScanAndPortfolio(t *testing.T) {
	h := newHarness(t)
	expectContains(t, h.send("/scan "+testToken), "Risk scan: PEPE", "15/100")
	expectContains(t, h.send("/portfolio"), "USDC: 12.5")
}

func TestBalanceAndPortfolioTakeOptionalWallet(t *testing.T) {
	h := newHarness(t)
	other := "0x3333333333333333333333333333333333333333"
	expectContains(t, h.send("/balance"), "ETH balance: 2 ETH")
	expectContains(t, h.send("/balance "+other), "ETH balance: 2 ETH")
	expectContains(t, h.send("/portfolio "+other), "USDC: 12.5")
	expectContains(t, h.send("/balance nope"), "Invalid wallet", "Usage: /balance [wallet]")
	expectState(t, h.engine, Idle, 0)

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	want := []string{testWallet, other, other}
	if len(h.gw.queried) != len(want) {
		t.Fatalf("unexpected queried wallets %v", h.gw.queried)
	}
	for i := range want {
		if h.gw.queried[i] != want[i] {
			t.Fatalf("queried %v, want %v", h.gw.queried, want)
		}
	}
}

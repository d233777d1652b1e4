package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/out"
	"github.com/ggonzalez94/ethpilot/internal/policy"
)

const (
	DefaultSessionTimeout = 5 * time.Minute
	MaxFailures           = 3
	maxRecordedIntents    = 50

	unknownCommandReply = "Unknown command. Type /help to see available commands."
)

type State int

const (
	Idle State = iota
	CollectingParam
	Confirming
	Cancelled
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CollectingParam:
		return "collecting_param"
	case Confirming:
		return "confirming"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Gateway is what command execution reads from chain data providers.
type Gateway interface {
	EthBalance(ctx context.Context, address string) (*big.Int, error)
	TokenBalances(ctx context.Context, address string) ([]model.TokenBalance, error)
	TokenPriceUSD(ctx context.Context, contract string) (float64, error)
	ETHPriceUSD(ctx context.Context) (float64, error)
}

type Scanner interface {
	Scan(ctx context.Context, contract string) (model.TokenProfile, error)
}

type GasEstimator interface {
	Estimate(ctx context.Context) (model.GasEstimate, error)
}

// Watcher owns wallet subscriptions.
type Watcher interface {
	Head(ctx context.Context) (uint64, error)
	Subscribe(chatID int64, address string, cursor uint64) bool
	Unsubscribe(chatID int64, addresses []string) int
	Watched(chatID int64) []string
	Touch(chatID int64)
}

type Options struct {
	Gateway         Gateway
	Scanner         Scanner
	Gas             GasEstimator
	Watcher         Watcher
	Wallet          string
	SessionTimeout  time.Duration
	EnabledCommands []string
	Settings        out.SettingsView
	Logger          *slog.Logger
}

// session is one chat's in-progress command. A chat without a session is
// Idle.
type session struct {
	state     State
	spec      *CommandSpec
	values    []Value
	step      int
	failures  int
	pending   *pendingTrade
	createdAt time.Time
	lastSeen  time.Time
}

func (s *session) clone() *session {
	if s == nil {
		return nil
	}
	c := *s
	c.values = slices.Clone(s.values)
	return &c
}

// outcome is the result of one message. next nil means Idle. apply runs only
// when the outcome is committed and may replace the reply.
type outcome struct {
	next  *session
	reply string
	final State
	apply func() string
}

// Engine is the single entry point for chat messages. All session state
// lives here and is keyed by chat.
type Engine struct {
	gw       Gateway
	scanner  Scanner
	gas      GasEstimator
	watcher  Watcher
	wallet   string
	timeout  time.Duration
	enabled  []string
	settings out.SettingsView
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
	epochs   map[int64]uint64
	active   map[int64]bool
	lanes    map[int64]*chatLane
	intents  []model.TradeIntent
}

// chatLane serializes one chat's messages. It is dropped once no message of
// the chat holds or waits on it.
type chatLane struct {
	sync.Mutex
	refs int
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Engine{
		gw:       opts.Gateway,
		scanner:  opts.Scanner,
		gas:      opts.Gas,
		watcher:  opts.Watcher,
		wallet:   opts.Wallet,
		timeout:  timeout,
		enabled:  opts.EnabledCommands,
		settings: opts.Settings,
		log:      logger,
		now:      time.Now,
		sessions: map[int64]*session{},
		epochs:   map[int64]uint64{},
		active:   map[int64]bool{},
		lanes:    map[int64]*chatLane{},
	}
}

// Handle processes one inbound message and returns the reply. An empty reply
// means the result was discarded because the chat cancelled meanwhile.
// Messages of one chat are serialized. /cancel is not, so it can overtake a
// message whose lookups are still running.
func (e *Engine) Handle(ctx context.Context, chatID int64, text string) string {
	text = strings.TrimSpace(text)
	if IsCancel(text) {
		return e.Cancel(chatID)
	}

	lane := e.acquire(chatID)
	defer e.release(chatID, lane)

	if e.watcher != nil {
		e.watcher.Touch(chatID)
	}
	current, epoch := e.begin(chatID)
	var res outcome
	if current == nil {
		res = e.fromIdle(ctx, chatID, text)
	} else {
		switch current.state {
		case CollectingParam:
			res = e.collect(ctx, chatID, current, text)
		case Confirming:
			res = e.confirm(current, text)
		default:
			res = e.fromIdle(ctx, chatID, text)
		}
	}
	if !e.commit(chatID, epoch, res) {
		e.log.Info("message_discarded", "chat_id", chatID)
		return ""
	}
	if res.apply != nil {
		if reply := res.apply(); reply != "" {
			res.reply = reply
		}
	}
	return res.reply
}

// Cancel resets the chat to Idle and invalidates any in-flight handling.
func (e *Engine) Cancel(chatID int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[chatID]
	if s == nil {
		if !e.active[chatID] {
			return "Nothing to cancel."
		}
		// A command started from Idle is still running.
		e.epochs[chatID]++
		e.log.Info("session_transition", "chat_id", chatID, "from", Idle.String(), "to", Cancelled.String())
		return "Cancelled."
	}
	delete(e.sessions, chatID)
	e.invalidate(chatID)
	e.log.Info("session_transition", "chat_id", chatID, "from", s.state.String(), "to", Cancelled.String())
	return fmt.Sprintf("Cancelled /%s.", s.spec.Name)
}

func (e *Engine) Wallet() string { return e.wallet }

// State reports the chat's current state and step.
func (e *Engine) State(chatID int64) (State, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[chatID]
	if s == nil || e.expired(s) {
		return Idle, 0
	}
	return s.state, s.step
}

// Sessions counts non-idle chats.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.sessions {
		if !e.expired(s) {
			n++
		}
	}
	return n
}

// Sweep drops expired sessions and returns how many were removed.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for chatID, s := range e.sessions {
		if e.expired(s) {
			delete(e.sessions, chatID)
			e.invalidate(chatID)
			removed++
		}
	}
	return removed
}

// Intents returns recently confirmed trade intents, newest last.
func (e *Engine) Intents() []model.TradeIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.intents)
}

// invalidate makes in-flight results of the chat stale. The caller holds mu.
// A chat with no message in flight just forgets its epoch.
func (e *Engine) invalidate(chatID int64) {
	if _, busy := e.lanes[chatID]; busy {
		e.epochs[chatID]++
		return
	}
	delete(e.epochs, chatID)
}

func (e *Engine) acquire(chatID int64) *chatLane {
	e.mu.Lock()
	l, ok := e.lanes[chatID]
	if !ok {
		l = &chatLane{}
		e.lanes[chatID] = l
	}
	l.refs++
	e.mu.Unlock()
	l.Lock()
	return l
}

func (e *Engine) release(chatID int64, l *chatLane) {
	l.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	l.refs--
	if l.refs > 0 {
		return
	}
	delete(e.lanes, chatID)
	if e.sessions[chatID] == nil {
		delete(e.epochs, chatID)
	}
}

func (e *Engine) expired(s *session) bool {
	return e.now().Sub(s.lastSeen) >= e.timeout
}

// begin returns a private copy of the chat's session, nil when Idle, and the
// epoch the result must be committed against. Expired sessions reset silently.
func (e *Engine) begin(chatID int64) (*session, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[chatID]
	if s != nil && e.expired(s) {
		delete(e.sessions, chatID)
		e.epochs[chatID]++
		e.log.Info("session_expired", "chat_id", chatID, "command", s.spec.Name, "state", s.state.String())
		s = nil
	}
	e.active[chatID] = true
	return s.clone(), e.epochs[chatID]
}

func (e *Engine) commit(chatID int64, epoch uint64, res outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, chatID)
	if e.epochs[chatID] != epoch {
		return false
	}
	prev := Idle
	if s := e.sessions[chatID]; s != nil {
		prev = s.state
	}
	if res.next == nil || res.next.state == Idle {
		delete(e.sessions, chatID)
	} else {
		res.next.lastSeen = e.now()
		e.sessions[chatID] = res.next
	}
	to := Idle
	if res.next != nil {
		to = res.next.state
	} else if res.final != Idle {
		to = res.final
	}
	if to != prev {
		e.log.Debug("session_transition", "chat_id", chatID, "from", prev.String(), "to", to.String())
	}
	return true
}

func (e *Engine) fromIdle(ctx context.Context, chatID int64, text string) outcome {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return outcome{reply: unknownCommandReply}
	}
	spec, ok := lookup(fields[0])
	if !ok {
		return outcome{reply: unknownCommandReply}
	}
	if err := policy.CheckCommandAllowed(e.enabled, spec.Name); err != nil {
		return outcome{reply: fmt.Sprintf("Command /%s is disabled.", spec.Name)}
	}

	args := fields[1:]
	if spec.listParam() && len(args) >= len(spec.Params) {
		head := args[:len(spec.Params)-1]
		args = append(slices.Clone(head), strings.Join(args[len(spec.Params)-1:], " "))
	}
	if len(args) > len(spec.Params) {
		return outcome{reply: "Too many arguments. Usage: " + spec.Usage()}
	}
	if len(args) == 0 && spec.ArgsOptional {
		return e.finish(ctx, chatID, nil, spec, nil)
	}

	s := &session{spec: spec, createdAt: e.now()}
	for i, arg := range args {
		v, err := spec.Params[i].Type.Validate(arg)
		if err != nil {
			return outcome{reply: fmt.Sprintf("Invalid %s: %s\nUsage: %s", spec.Params[i].Name, errText(err), spec.Usage())}
		}
		s.values = append(s.values, v)
	}
	s.step = len(s.values)
	if s.step < len(spec.Params) {
		s.state = CollectingParam
		return outcome{next: s, reply: spec.Params[s.step].Prompt + "\n(/cancel to abort)"}
	}
	return e.finish(ctx, chatID, nil, spec, s.values)
}

func (e *Engine) collect(ctx context.Context, chatID int64, s *session, text string) outcome {
	param := s.spec.Params[s.step]
	v, err := param.Type.Validate(text)
	if err != nil {
		s.failures++
		if s.failures >= MaxFailures {
			return outcome{final: Cancelled, reply: fmt.Sprintf("Too many invalid attempts. /%s cancelled.", s.spec.Name)}
		}
		return outcome{next: s, reply: fmt.Sprintf("Invalid %s: %s\n%s", param.Name, errText(err), param.Prompt)}
	}
	prev := s.clone()
	s.values = append(s.values, v)
	s.step++
	s.failures = 0
	if s.step < len(s.spec.Params) {
		return outcome{next: s, reply: s.spec.Params[s.step].Prompt}
	}
	return e.finish(ctx, chatID, prev, s.spec, s.values)
}

func (e *Engine) confirm(s *session, text string) outcome {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "confirm":
		intent := s.pending.intent
		return outcome{
			final: Completed,
			apply: func() string {
				e.record(intent)
				return out.Recorded(intent)
			},
		}
	case "no", "n":
		return outcome{final: Cancelled, reply: "Trade cancelled."}
	}
	s.failures++
	if s.failures >= MaxFailures {
		return outcome{final: Cancelled, reply: "Too many invalid replies. Trade cancelled."}
	}
	return outcome{next: s, reply: "Please reply yes to confirm or no to cancel."}
}

// finish runs or stages a command whose parameters are all collected. prev
// is the state to keep when a transient failure asks the user to retry.
func (e *Engine) finish(ctx context.Context, chatID int64, prev *session, spec *CommandSpec, values []Value) outcome {
	cmd := spec.build(values)
	if spec.Confirm {
		pending, blocked, err := e.prepareTrade(ctx, cmd, values)
		if err != nil {
			return e.failure(prev, spec, err)
		}
		if blocked != "" {
			return outcome{final: Cancelled, reply: blocked}
		}
		return outcome{
			next:  &session{state: Confirming, spec: spec, values: values, step: len(values), pending: &pending, createdAt: e.now()},
			reply: pending.reply,
		}
	}
	reply, apply, err := e.execute(ctx, chatID, cmd)
	if err != nil {
		return e.failure(prev, spec, err)
	}
	return outcome{final: Completed, reply: reply, apply: apply}
}

// failure maps an execution error to a reply. Transient errors keep the
// previous state so the same step can be retried.
func (e *Engine) failure(prev *session, spec *CommandSpec, err error) outcome {
	e.log.Warn("command_failed", "command", spec.Name, "err", err)
	if clierr.IsTransient(err) {
		return outcome{next: prev, reply: fmt.Sprintf("Temporary failure: %s. Please try again.", errText(err))}
	}
	return outcome{final: Cancelled, reply: fmt.Sprintf("Request failed: %s", errText(err))}
}

func (e *Engine) record(intent model.TradeIntent) {
	e.mu.Lock()
	e.intents = append(e.intents, intent)
	if len(e.intents) > maxRecordedIntents {
		e.intents = slices.Clone(e.intents[len(e.intents)-maxRecordedIntents:])
	}
	e.mu.Unlock()
	e.log.Info("trade_intent_confirmed", "intent_id", intent.ID, "direction", string(intent.Direction), "token", intent.Token, "usd", intent.USDAmount.String())
}

func errText(err error) string {
	if cErr, ok := clierr.As(err); ok {
		return cErr.Message
	}
	return err.Error()
}

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/out"
	"github.com/ggonzalez94/ethpilot/internal/risk"
	"github.com/ggonzalez94/ethpilot/internal/trade"
)

type pendingTrade struct {
	intent model.TradeIntent
	symbol string
	reply  string
}

// prepareTrade prices a buy or sell and runs the risk gate. A non-empty
// blocked reply means the trade was refused.
func (e *Engine) prepareTrade(ctx context.Context, cmd Command, values []Value) (pendingTrade, string, error) {
	direction, token, usd, slippage, ok := tradeDirection(cmd)
	if !ok {
		return pendingTrade{}, "", clierr.New(clierr.CodeInternal, "not a trade command")
	}
	if e.wallet == "" {
		return pendingTrade{}, "", clierr.New(clierr.CodeConfig, "no wallet configured")
	}
	contract := strings.ToLower(token.Hex())
	known, familiar := id.LookupByAddress(contract)
	needsScan := direction == model.DirectionBuy && !familiar && e.scanner != nil

	var (
		price   float64
		gas     *model.GasEstimate
		profile *model.TokenProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.gw.TokenPriceUSD(gctx, contract)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if e.gas != nil {
		g.Go(func() error {
			est, err := e.gas.Estimate(gctx)
			if err != nil {
				e.log.Warn("gas_estimate_unavailable", "err", err)
				return nil
			}
			gas = &est
			return nil
		})
	}
	if needsScan {
		g.Go(func() error {
			p, err := e.scanner.Scan(gctx, contract)
			if err != nil {
				return err
			}
			profile = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pendingTrade{}, "", err
	}

	if profile != nil && risk.Blocks(*profile) {
		e.log.Info("trade_blocked", "token", contract, "score", profile.Score)
		return pendingTrade{}, out.Blocked(*profile), nil
	}

	priceUSD, err := trade.PriceFromFloat(price)
	if err != nil {
		return pendingTrade{}, "", err
	}
	intent, err := trade.BuildIntent(trade.IntentParams{
		Direction:   direction,
		Wallet:      e.wallet,
		Token:       contract,
		USDAmount:   usd,
		SlippagePct: slippage,
		PriceUSD:    priceUSD,
		At:          e.now(),
	})
	if err != nil {
		return pendingTrade{}, "", err
	}

	symbol := known.Symbol
	if profile != nil && profile.Symbol != "" {
		symbol = profile.Symbol
	}
	var warnings []string
	for _, v := range values {
		if v.Warning != "" {
			warnings = append(warnings, v.Warning)
		}
	}
	return pendingTrade{
		intent: intent,
		symbol: symbol,
		reply:  out.Confirmation(intent, symbol, gas, profile, warnings),
	}, "", nil
}

// execute runs a command that needs no confirmation. apply, when set, holds
// the side effects and runs only if the result is still wanted.
func (e *Engine) execute(ctx context.Context, chatID int64, cmd Command) (string, func() string, error) {
	switch c := cmd.(type) {
	case HelpCommand:
		return helpText(), nil, nil
	case BalanceCommand:
		wallet, err := e.walletFor(c.Wallet)
		if err != nil {
			return "", nil, err
		}
		wei, err := e.gw.EthBalance(ctx, wallet)
		if err != nil {
			return "", nil, err
		}
		var ethUSD *float64
		if p, err := e.gw.ETHPriceUSD(ctx); err == nil {
			ethUSD = &p
		} else {
			e.log.Warn("eth_price_unavailable", "err", err)
		}
		return out.Balance(wallet, wei, ethUSD), nil, nil
	case PortfolioCommand:
		wallet, err := e.walletFor(c.Wallet)
		if err != nil {
			return "", nil, err
		}
		balances, err := e.gw.TokenBalances(ctx, wallet)
		if err != nil {
			return "", nil, err
		}
		return out.Portfolio(wallet, balances), nil, nil
	case GasCommand:
		if e.gas == nil {
			return "", nil, clierr.New(clierr.CodeUnsupported, "gas estimation is not configured")
		}
		est, err := e.gas.Estimate(ctx)
		if err != nil {
			return "", nil, err
		}
		return out.Gas(est), nil, nil
	case ScanCommand:
		if e.scanner == nil {
			return "", nil, clierr.New(clierr.CodeUnsupported, "risk scanning is not configured")
		}
		profile, err := e.scanner.Scan(ctx, strings.ToLower(c.Contract.Hex()))
		if err != nil {
			return "", nil, err
		}
		return out.Profile(profile), nil, nil
	case WatchCommand:
		if e.watcher == nil {
			return "", nil, clierr.New(clierr.CodeUnsupported, "wallet monitoring is not configured")
		}
		head, err := e.watcher.Head(ctx)
		if err != nil {
			return "", nil, err
		}
		addrs := make([]string, 0, len(c.Addresses))
		for _, a := range c.Addresses {
			addrs = append(addrs, strings.ToLower(a.Hex()))
		}
		apply := func() string {
			added := 0
			for _, a := range addrs {
				if e.watcher.Subscribe(chatID, a, head+1) {
					added++
				}
			}
			e.log.Info("watch_added", "chat_id", chatID, "addresses", len(addrs), "new", added, "from_block", head+1)
			return watchReply(addrs, added)
		}
		return "", apply, nil
	case UnwatchCommand:
		if e.watcher == nil {
			return "", nil, clierr.New(clierr.CodeUnsupported, "wallet monitoring is not configured")
		}
		addrs := make([]string, 0, len(c.Addresses))
		for _, a := range c.Addresses {
			addrs = append(addrs, strings.ToLower(a.Hex()))
		}
		apply := func() string {
			removed := e.watcher.Unsubscribe(chatID, addrs)
			if removed == 0 {
				return "No matching watched addresses."
			}
			return fmt.Sprintf("Stopped watching %d address(es).", removed)
		}
		return "", apply, nil
	case SettingsCommand:
		view := e.settings
		view.Wallet = e.wallet
		view.SessionTimeout = e.timeout
		if e.watcher != nil {
			view.Watched = e.watcher.Watched(chatID)
		}
		return out.Settings(view), nil, nil
	default:
		return "", nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("unhandled command %T", cmd))
	}
}

func (e *Engine) walletFor(override *common.Address) (string, error) {
	if override != nil {
		return strings.ToLower(override.Hex()), nil
	}
	if e.wallet == "" {
		return "", clierr.New(clierr.CodeConfig, "no wallet configured")
	}
	return e.wallet, nil
}

func watchReply(addrs []string, added int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Watching %d address(es)", len(addrs))
	if already := len(addrs) - added; already > 0 {
		fmt.Fprintf(&b, " (%d already watched)", already)
	}
	b.WriteString(". You will be notified of new transactions:")
	for _, a := range addrs {
		fmt.Fprintf(&b, "\n- %s", a)
	}
	return b.String()
}

package out

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

// USD formats a dollar value with thousands separators. Sub-cent values keep
// enough digits to stay meaningful.
func USD(v float64) string {
	if v != 0 && math.Abs(v) < 0.01 {
		return "$" + humanize.FtoaWithDigits(v, 8)
	}
	sign := ""
	if v < 0 {
		sign = "-"
	}
	whole, frac, _ := strings.Cut(decimal.NewFromFloat(math.Abs(v)).StringFixed(2), ".")
	n, _ := strconv.ParseInt(whole, 10, 64)
	return sign + "$" + humanize.Comma(n) + "." + frac
}

func Tokens(d decimal.Decimal) string {
	f, _ := d.Float64()
	if f != 0 && f < 1 && f > -1 {
		return d.Round(8).String()
	}
	return humanize.CommafWithDigits(f, 4)
}

func Balance(address string, wei *big.Int, ethUSD *float64) string {
	eth := id.FormatUnits(wei, 18)
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet %s\n", id.ShortAddress(address))
	fmt.Fprintf(&b, "ETH balance: %s ETH", eth)
	if ethUSD != nil && wei != nil {
		f, _ := decimal.NewFromBigInt(wei, -18).Float64()
		fmt.Fprintf(&b, " (%s)", USD(f*(*ethUSD)))
	}
	return b.String()
}

func Portfolio(address string, balances []model.TokenBalance) string {
	if len(balances) == 0 {
		return fmt.Sprintf("No ERC-20 tokens found for %s.", id.ShortAddress(address))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio for %s\n", id.ShortAddress(address))
	total := 0.0
	for _, bal := range balances {
		fmt.Fprintf(&b, "\n%s: %s", bal.Symbol, bal.Balance)
		if bal.PriceUSD != nil {
			amount, err := decimal.NewFromString(bal.Balance)
			if err == nil {
				f, _ := amount.Float64()
				value := f * *bal.PriceUSD
				total += value
				fmt.Fprintf(&b, " (%s)", USD(value))
			}
		}
	}
	if total > 0 {
		fmt.Fprintf(&b, "\n\nTotal priced value: %s", USD(total))
	}
	return b.String()
}

func Gas(est model.GasEstimate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gas price: %s gwei\n", humanize.FtoaWithDigits(est.GweiPrice, 2))
	fmt.Fprintf(&b, "ETH price: %s\n", USD(est.ETHPriceUSD))
	for _, r := range est.Routes {
		fmt.Fprintf(&b, "\n%s swap (%s gas): %s ETH (%s)", r.Name, humanize.Comma(int64(r.Units)), humanize.FtoaWithDigits(r.CostETH, 6), USD(r.CostUSD))
	}
	b.WriteString("\n\nIncludes a 3% fee buffer.")
	return b.String()
}

func Profile(p model.TokenProfile) string {
	var b strings.Builder
	name := p.Symbol
	if p.Name != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, p.Symbol)
	}
	if strings.TrimSpace(name) == "" {
		name = id.ShortAddress(p.Contract)
	}
	fmt.Fprintf(&b, "Risk scan: %s\n", name)
	fmt.Fprintf(&b, "Contract: %s\n", p.Contract)
	fmt.Fprintf(&b, "Score: %d/100 (%s)\n", p.Score, p.Level)
	if len(p.Flags) == 0 {
		b.WriteString("Flags: none")
	} else {
		b.WriteString("Flags:")
		for _, f := range p.Flags {
			fmt.Fprintf(&b, "\n- %s", flagText(f))
		}
	}
	fmt.Fprintf(&b, "\n\nTop holders (excl. liquidity/burn): %s%%", humanize.FtoaWithDigits(p.TopHolderPercent, 2))
	if p.LiquidityUSD != nil {
		fmt.Fprintf(&b, "\nLiquidity: %s", USD(*p.LiquidityUSD))
	}
	if p.BuyTaxPct != nil && p.SellTaxPct != nil {
		fmt.Fprintf(&b, "\nTax: buy %s%% / sell %s%%", humanize.FtoaWithDigits(*p.BuyTaxPct, 2), humanize.FtoaWithDigits(*p.SellTaxPct, 2))
	}
	if p.HoneypotReason != "" {
		fmt.Fprintf(&b, "\nSimulation: %s", p.HoneypotReason)
	}
	for _, w := range p.Warnings {
		fmt.Fprintf(&b, "\nNote: %s", w)
	}
	fmt.Fprintf(&b, "\nScanned %s", p.ScannedAt.UTC().Format(time.RFC3339))
	return b.String()
}

func flagText(f model.RiskFlag) string {
	switch f {
	case model.FlagHighHolderConcentration:
		return "High holder concentration"
	case model.FlagUnverifiedContract:
		return "Contract source not verified"
	case model.FlagOwnershipNotRenounced:
		return "Ownership not renounced"
	case model.FlagMintFunctionPresent:
		return "Mint function present"
	case model.FlagBlacklistFunctionPresent:
		return "Blacklist function present"
	case model.FlagLowLiquidity:
		return "Low liquidity"
	case model.FlagSuspectedHoneypot:
		return "Suspected honeypot (sell simulation failed)"
	default:
		return string(f)
	}
}

// Confirmation describes a priced intent awaiting yes/no. gas and profile
// are optional.
func Confirmation(intent model.TradeIntent, symbol string, gas *model.GasEstimate, profile *model.TokenProfile, warnings []string) string {
	var b strings.Builder
	verb := "Buy"
	boundLabel := "Minimum received"
	if intent.Direction == model.DirectionSell {
		verb = "Sell"
		boundLabel = "Maximum sold"
	}
	if symbol == "" {
		symbol = id.ShortAddress(intent.Token)
	}
	usd, _ := intent.USDAmount.Float64()
	price, _ := intent.PriceUSD.Float64()
	fmt.Fprintf(&b, "%s %s worth of %s\n", verb, USD(usd), symbol)
	fmt.Fprintf(&b, "Token: %s\n", intent.Token)
	fmt.Fprintf(&b, "Price: %s\n", USD(price))
	fmt.Fprintf(&b, "Amount: %s %s\n", Tokens(intent.TokenAmount), symbol)
	fmt.Fprintf(&b, "%s: %s %s (slippage %s%%)\n", boundLabel, Tokens(intent.Bound), symbol, intent.SlippagePct.String())
	if gas != nil {
		fmt.Fprintf(&b, "Estimated gas: %s ETH (%s)\n", humanize.FtoaWithDigits(gas.CostETH, 6), USD(gas.CostUSD))
	} else {
		b.WriteString("Estimated gas: unavailable\n")
	}
	if profile != nil {
		fmt.Fprintf(&b, "Risk: %d/100 (%s)", profile.Score, profile.Level)
		for _, f := range profile.Flags {
			fmt.Fprintf(&b, "\n- %s", flagText(f))
		}
		b.WriteString("\n")
	}
	for _, w := range warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	b.WriteString("\nReply yes to confirm or no to cancel.")
	return b.String()
}

func Recorded(intent model.TradeIntent) string {
	return fmt.Sprintf("Trade intent %s recorded. It has not been submitted on-chain.", intent.ID)
}

// Blocked explains why a buy was refused by the risk gate.
func Blocked(p model.TokenProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Buy refused: %s scored %d/100 (%s).", orAddress(p.Symbol, p.Contract), p.Score, p.Level)
	for _, f := range p.Flags {
		fmt.Fprintf(&b, "\n- %s", flagText(f))
	}
	return b.String()
}

func Notification(watched string, ev model.TransactionEvent) string {
	direction := "in"
	counterparty := ev.From
	if strings.EqualFold(ev.From, watched) {
		direction = "out"
		counterparty = ev.To
	}
	symbol := "ETH"
	if !ev.IsNative() {
		symbol = orAddress(ev.TokenSymbol, ev.TokenContract)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "New transaction on %s (%s)\n", id.ShortAddress(watched), direction)
	fmt.Fprintf(&b, "Amount: %s %s\n", ev.Amount, symbol)
	if !ev.IsNative() {
		if ev.TokenName != "" {
			fmt.Fprintf(&b, "Token: %s\n", ev.TokenName)
		}
		fmt.Fprintf(&b, "Contract: %s\n", ev.TokenContract)
	}
	if direction == "in" {
		fmt.Fprintf(&b, "From: %s\n", counterparty)
	} else {
		fmt.Fprintf(&b, "To: %s\n", counterparty)
	}
	fmt.Fprintf(&b, "Block: %d\n", ev.BlockNumber)
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	b.WriteString(registry.EtherscanTxURL + ev.Hash)
	return b.String()
}

type SettingsView struct {
	Wallet         string
	PollInterval   time.Duration
	SessionTimeout time.Duration
	RiskTTL        time.Duration
	Watched        []string
	Keys           [][2]string
}

func Settings(v SettingsView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet: %s\n", v.Wallet)
	fmt.Fprintf(&b, "Poll interval: %s\n", v.PollInterval)
	fmt.Fprintf(&b, "Session timeout: %s\n", v.SessionTimeout)
	fmt.Fprintf(&b, "Risk cache TTL: %s\n", v.RiskTTL)
	if len(v.Watched) == 0 {
		b.WriteString("Watching: nothing")
	} else {
		b.WriteString("Watching:")
		for _, w := range v.Watched {
			fmt.Fprintf(&b, "\n- %s", w)
		}
	}
	if len(v.Keys) > 0 {
		b.WriteString("\n\nAPI keys:")
		for _, kv := range v.Keys {
			fmt.Fprintf(&b, "\n- %s: %s", kv[0], kv[1])
		}
	}
	return b.String()
}

func orAddress(label, address string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	return id.ShortAddress(address)
}

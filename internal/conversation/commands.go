package conversation

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/ethpilot/internal/model"
)

// Command is the closed set of parsed user commands.
type Command interface {
	isCommand()
}

type HelpCommand struct{}

type BuyCommand struct {
	Token       common.Address
	USDAmount   decimal.Decimal
	SlippagePct decimal.Decimal
}

type SellCommand struct {
	Token       common.Address
	USDAmount   decimal.Decimal
	SlippagePct decimal.Decimal
}

// BalanceCommand and PortfolioCommand read the configured wallet unless
// Wallet is set.
type BalanceCommand struct {
	Wallet *common.Address
}

type PortfolioCommand struct {
	Wallet *common.Address
}

type GasCommand struct{}

type WatchCommand struct {
	Addresses []common.Address
}

// UnwatchCommand with no addresses removes every watch of the chat.
type UnwatchCommand struct {
	Addresses []common.Address
}

type ScanCommand struct {
	Contract common.Address
}

type SettingsCommand struct{}

func (HelpCommand) isCommand()      {}
func (BuyCommand) isCommand()       {}
func (SellCommand) isCommand()      {}
func (BalanceCommand) isCommand()   {}
func (PortfolioCommand) isCommand() {}
func (GasCommand) isCommand()       {}
func (WatchCommand) isCommand()     {}
func (UnwatchCommand) isCommand()   {}
func (ScanCommand) isCommand()      {}
func (SettingsCommand) isCommand()  {}

// CommandSpec describes a command's parameters. Specs are immutable.
type CommandSpec struct {
	Name    string
	Aliases []string
	Summary string
	Params  []Param

	// Confirm commands stop in Confirming before they take effect.
	Confirm bool

	// ArgsOptional commands run with no arguments instead of prompting.
	ArgsOptional bool

	build func(values []Value) Command
}

func (s *CommandSpec) Usage() string {
	parts := []string{"/" + s.Name}
	for _, p := range s.Params {
		name := "<" + p.Name + ">"
		if s.ArgsOptional {
			name = "[" + p.Name + "]"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " ")
}

// listParam reports whether the last parameter swallows remaining arguments.
func (s *CommandSpec) listParam() bool {
	return len(s.Params) > 0 && s.Params[len(s.Params)-1].Type == AddressList
}

var (
	tokenParam = Param{Name: "token", Type: ContractAddress, Prompt: "Enter the token contract address:"}
	usdParam   = Param{Name: "usdAmount", Type: UsdAmount, Prompt: "Enter the amount in USD:"}
	slipParam  = Param{Name: "slippage", Type: SlippagePercent, Prompt: "Enter the slippage tolerance in percent (e.g. 1.5):"}
	walletArg  = Param{Name: "wallet", Type: WalletAddress}
)

func walletOverride(v []Value) *common.Address {
	if len(v) == 0 {
		return nil
	}
	addr := v[0].Address
	return &addr
}

var specs = []*CommandSpec{
	{
		Name:    "help",
		Aliases: []string{"start"},
		Summary: "Show available commands",
		build:   func([]Value) Command { return HelpCommand{} },
	},
	{
		Name:    "buy",
		Summary: "Prepare a buy of a token for a USD amount",
		Params:  []Param{tokenParam, usdParam, slipParam},
		Confirm: true,
		build: func(v []Value) Command {
			return BuyCommand{Token: v[0].Address, USDAmount: v[1].Decimal, SlippagePct: v[2].Decimal}
		},
	},
	{
		Name:    "sell",
		Summary: "Prepare a sell of a token for a USD amount",
		Params:  []Param{tokenParam, usdParam, slipParam},
		Confirm: true,
		build: func(v []Value) Command {
			return SellCommand{Token: v[0].Address, USDAmount: v[1].Decimal, SlippagePct: v[2].Decimal}
		},
	},
	{
		Name:         "balance",
		Summary:      "Show the ETH balance of your wallet or another one",
		Params:       []Param{walletArg},
		ArgsOptional: true,
		build:        func(v []Value) Command { return BalanceCommand{Wallet: walletOverride(v)} },
	},
	{
		Name:         "portfolio",
		Summary:      "List the ERC-20 tokens of your wallet or another one",
		Params:       []Param{walletArg},
		ArgsOptional: true,
		build:        func(v []Value) Command { return PortfolioCommand{Wallet: walletOverride(v)} },
	},
	{
		Name:    "gas",
		Summary: "Show current gas price and swap costs",
		build:   func([]Value) Command { return GasCommand{} },
	},
	{
		Name:    "watch",
		Summary: "Notify on new transactions of one or more addresses",
		Params:  []Param{{Name: "address,...", Type: AddressList, Prompt: "Enter the address(es) to watch, separated by commas:"}},
		build:   func(v []Value) Command { return WatchCommand{Addresses: v[0].Addresses} },
	},
	{
		Name:         "unwatch",
		Summary:      "Stop watching addresses (all when none given)",
		Params:       []Param{{Name: "address,...", Type: AddressList}},
		ArgsOptional: true,
		build: func(v []Value) Command {
			if len(v) == 0 {
				return UnwatchCommand{}
			}
			return UnwatchCommand{Addresses: v[0].Addresses}
		},
	},
	{
		Name:    "scan",
		Summary: "Scan a token contract for risk signals",
		Params:  []Param{{Name: "contract", Type: ContractAddress, Prompt: "Enter the token contract address to scan:"}},
		build:   func(v []Value) Command { return ScanCommand{Contract: v[0].Address} },
	},
	{
		Name:    "settings",
		Summary: "Show current settings",
		build:   func([]Value) Command { return SettingsCommand{} },
	},
}

const cancelCommand = "cancel"

// Specs returns the command catalog in help order, /cancel excluded.
func Specs() []CommandSpec {
	out := make([]CommandSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, *s)
	}
	return out
}

// lookup resolves "/name" or "/name@bot" to a spec.
func lookup(token string) (*CommandSpec, bool) {
	name, ok := commandName(token)
	if !ok {
		return nil, false
	}
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
		for _, alias := range s.Aliases {
			if alias == name {
				return s, true
			}
		}
	}
	return nil, false
}

func commandName(token string) (string, bool) {
	if !strings.HasPrefix(token, "/") {
		return "", false
	}
	name := strings.ToLower(strings.TrimPrefix(token, "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return name, name != ""
}

// IsCancel reports whether text is the /cancel command.
func IsCancel(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	name, ok := commandName(fields[0])
	return ok && name == cancelCommand
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, s := range specs {
		fmt.Fprintf(&b, "\n%s - %s", s.Usage(), s.Summary)
	}
	b.WriteString("\n/cancel - Abort the current command")
	return b.String()
}

func tradeDirection(cmd Command) (model.TradeDirection, common.Address, decimal.Decimal, decimal.Decimal, bool) {
	switch c := cmd.(type) {
	case BuyCommand:
		return model.DirectionBuy, c.Token, c.USDAmount, c.SlippagePct, true
	case SellCommand:
		return model.DirectionSell, c.Token, c.USDAmount, c.SlippagePct, true
	default:
		return "", common.Address{}, decimal.Zero, decimal.Zero, false
	}
}

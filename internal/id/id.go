package id

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
)

type Token struct {
	Symbol   string
	Name     string
	Address  string
	Decimals int
}

// Ethereum mainnet tokens treated as familiar: buying them skips the risk gate.
var tokenRegistry = []Token{
	{Symbol: "USDC", Name: "USD Coin", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
	{Symbol: "USDT", Name: "Tether USD", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
	{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
	{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	{Symbol: "WBTC", Name: "Wrapped BTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	{Symbol: "LINK", Name: "ChainLink Token", Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18},
	{Symbol: "UNI", Name: "Uniswap", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Decimals: 18},
}

// ParseAddress accepts a 20-byte hex address with or without 0x, in any
// letter case. Checksums are not enforced.
func ParseAddress(input string) (common.Address, error) {
	v := strings.TrimSpace(input)
	if v == "" {
		return common.Address{}, clierr.New(clierr.CodeValidation, "address is required")
	}
	if !strings.HasPrefix(v, "0x") && !strings.HasPrefix(v, "0X") {
		v = "0x" + v
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, clierr.New(clierr.CodeValidation, fmt.Sprintf("%q is not a valid address (expected 0x followed by 40 hex characters)", strings.TrimSpace(input)))
	}
	return common.HexToAddress(v), nil
}

// ParseAddressList splits on commas and whitespace, rejects the whole list
// on the first invalid entry and drops duplicates while keeping order.
func ParseAddressList(input string) ([]common.Address, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == ';'
	})
	if len(fields) == 0 {
		return nil, clierr.New(clierr.CodeValidation, "at least one address is required")
	}
	seen := make(map[common.Address]struct{}, len(fields))
	out := make([]common.Address, 0, len(fields))
	for _, field := range fields {
		addr, err := ParseAddress(field)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func LookupByAddress(address string) (Token, bool) {
	for _, t := range tokenRegistry {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return t, true
		}
	}
	return Token{}, false
}

func KnownToken(symbol string) (Token, bool) {
	for _, t := range tokenRegistry {
		if strings.EqualFold(t.Symbol, strings.TrimSpace(symbol)) {
			return t, true
		}
	}
	return Token{}, false
}

// ShortAddress renders 0x1234…abcd for chat replies.
func ShortAddress(address string) string {
	if len(address) < 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

package id

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/shopspring/decimal"
)

const (
	SlippageWarnAbove = 50
	MaxFractionDigits = 18
)

var (
	hundred      = decimal.NewFromInt(100)
	maxUSDAmount = decimal.New(1, 12)
)

// parsePlainDecimal rejects exponent notation, which would let "1e50000000"
// expand into a huge number.
func parsePlainDecimal(v, input string) (decimal.Decimal, error) {
	if strings.ContainsAny(v, "eE") {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("%q must be written without an exponent", strings.TrimSpace(input)))
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("%q is not a number", strings.TrimSpace(input)))
	}
	if d.Exponent() < -MaxFractionDigits {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("at most %d decimal places are allowed", MaxFractionDigits))
	}
	return d, nil
}

// ParseUSDAmount accepts "50", "$1,250.5" and similar positive amounts up
// to one trillion.
func ParseUSDAmount(input string) (decimal.Decimal, error) {
	v := strings.TrimSpace(input)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return decimal.Zero, clierr.New(clierr.CodeValidation, "USD amount is required")
	}
	amount, err := parsePlainDecimal(v, input)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeValidation, "USD amount must be greater than zero")
	}
	if amount.GreaterThan(maxUSDAmount) {
		return decimal.Zero, clierr.New(clierr.CodeValidation, "USD amount must be at most 1,000,000,000,000")
	}
	return amount, nil
}

// ParseSlippage accepts 0 < v <= 100 with an optional trailing %. The
// returned flag is set when v is above SlippageWarnAbove.
func ParseSlippage(input string) (decimal.Decimal, bool, error) {
	v := strings.TrimSuffix(strings.TrimSpace(input), "%")
	if v == "" {
		return decimal.Zero, false, clierr.New(clierr.CodeValidation, "slippage is required")
	}
	pct, err := parsePlainDecimal(v, input)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return decimal.Zero, false, clierr.New(clierr.CodeValidation, "slippage must be greater than 0 and at most 100")
	}
	return pct, pct.GreaterThan(decimal.NewFromInt(SlippageWarnAbove)), nil
}

// ParseHexQuantity decodes a JSON-RPC quantity like "0x1bc16d674ec80000".
func ParseHexQuantity(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "0x" {
		return new(big.Int), nil
	}
	// Token balance results are zero-padded 32-byte words, which hexutil
	// rejects as quantities.
	trimmed := strings.TrimLeft(strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X"), "0")
	if trimmed == "" {
		return new(big.Int), nil
	}
	n, err := hexutil.DecodeBig("0x" + trimmed)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode hex quantity %q", v), err)
	}
	return n, nil
}

// FormatUnits renders base units as a decimal string with trailing zeros trimmed.
func FormatUnits(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	return formatDecimal(baseUnits.String(), decimals)
}

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals <= 0 {
		return n.String()
	}

	neg := n.Sign() < 0
	s := new(big.Int).Abs(n).String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg {
		return "-" + out
	}
	return out
}

// WeiToGwei converts a wei amount to gwei as a float for display math.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}

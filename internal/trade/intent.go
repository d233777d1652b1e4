package trade

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/model"
)

var hundred = decimal.NewFromInt(100)

type IntentParams struct {
	Direction   model.TradeDirection
	Wallet      string
	Token       string
	USDAmount   decimal.Decimal
	SlippagePct decimal.Decimal
	PriceUSD    decimal.Decimal
	At          time.Time
}

// BuildIntent prices a trade. A buy is bounded by the minimum tokens out,
// a sell by the maximum tokens in. Nothing is sent anywhere.
func BuildIntent(p IntentParams) (model.TradeIntent, error) {
	if p.Direction != model.DirectionBuy && p.Direction != model.DirectionSell {
		return model.TradeIntent{}, clierr.New(clierr.CodeValidation, fmt.Sprintf("unknown trade direction %q", p.Direction))
	}
	if !p.PriceUSD.IsPositive() {
		return model.TradeIntent{}, clierr.New(clierr.CodeValidation, "token price must be greater than zero")
	}
	if !p.USDAmount.IsPositive() {
		return model.TradeIntent{}, clierr.New(clierr.CodeValidation, "usd amount must be greater than zero")
	}
	if !p.SlippagePct.IsPositive() || p.SlippagePct.GreaterThan(hundred) {
		return model.TradeIntent{}, clierr.New(clierr.CodeValidation, "slippage must be greater than 0 and at most 100")
	}

	tokens := p.USDAmount.Div(p.PriceUSD)
	tolerance := p.SlippagePct.Div(hundred)
	var bound decimal.Decimal
	if p.Direction == model.DirectionBuy {
		bound = tokens.Mul(decimal.NewFromInt(1).Sub(tolerance))
	} else {
		bound = tokens.Mul(decimal.NewFromInt(1).Add(tolerance))
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	return model.TradeIntent{
		ID:          uuid.NewString(),
		Direction:   p.Direction,
		Wallet:      p.Wallet,
		Token:       p.Token,
		USDAmount:   p.USDAmount,
		SlippagePct: p.SlippagePct,
		TokenAmount: tokens,
		Bound:       bound,
		PriceUSD:    p.PriceUSD,
		CreatedAt:   at.UTC(),
	}, nil
}

// PriceFromFloat converts a provider quote, rejecting NaN and infinities.
func PriceFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, clierr.New(clierr.CodeValidation, "token price is not a finite number")
	}
	return decimal.NewFromFloat(v), nil
}

package risk

import (
	"strings"

	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

const (
	TopHolderCount         = 10
	ConcentrationThreshold = 50.0
	LiquidityFloorUSD      = 10_000.0
	MaxScore               = 100
	MediumScore            = 30
	HighScore              = 60
)

const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Signals is everything a rule may look at.
type Signals struct {
	Metadata     model.ContractMetadata
	Holders      []model.Holder
	HoldersKnown bool
}

// Rule yields at most one flag. Rules are independent of each other.
type Rule struct {
	Flag   model.RiskFlag
	Weight int
	Match  func(Signals) bool
}

// DefaultRules is ordered the way flags are reported.
var DefaultRules = []Rule{
	{Flag: model.FlagSuspectedHoneypot, Weight: 40, Match: suspectedHoneypot},
	{Flag: model.FlagHighHolderConcentration, Weight: 20, Match: highConcentration},
	{Flag: model.FlagUnverifiedContract, Weight: 15, Match: unverified},
	{Flag: model.FlagMintFunctionPresent, Weight: 15, Match: func(s Signals) bool { return s.Metadata.HasMintFunction }},
	{Flag: model.FlagBlacklistFunctionPresent, Weight: 15, Match: func(s Signals) bool { return s.Metadata.HasBlacklistFunction }},
	{Flag: model.FlagLowLiquidity, Weight: 15, Match: lowLiquidity},
	{Flag: model.FlagOwnershipNotRenounced, Weight: 10, Match: ownershipKept},
}

// Evaluate runs rules in order and returns the matched flags with the
// clamped weighted score.
func Evaluate(rules []Rule, s Signals) ([]model.RiskFlag, int) {
	flags := []model.RiskFlag{}
	score := 0
	for _, rule := range rules {
		if rule.Match(s) {
			flags = append(flags, rule.Flag)
			score += rule.Weight
		}
	}
	return flags, clamp(score, 0, MaxScore)
}

func Level(score int) string {
	switch {
	case score >= HighScore:
		return LevelHigh
	case score >= MediumScore:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Blocks reports whether a buy of the profiled token must be refused.
func Blocks(p model.TokenProfile) bool {
	return p.Score >= HighScore || p.HasFlag(model.FlagSuspectedHoneypot)
}

// ConcentratedShare sums the supply share of the top holders that are not
// burn addresses, known liquidity contracts or the token's own pair.
func ConcentratedShare(holders []model.Holder, pairAddress string) float64 {
	total := 0.0
	n := 0
	for _, h := range holders {
		if n == TopHolderCount {
			break
		}
		n++
		if excludedHolder(h, pairAddress) {
			continue
		}
		total += h.Percent
	}
	return total
}

func excludedHolder(h model.Holder, pairAddress string) bool {
	if registry.IsBurnAddress(h.Address) || registry.IsLiquidityAddress(h.Address) {
		return true
	}
	if pairAddress != "" && strings.EqualFold(h.Address, pairAddress) {
		return true
	}
	label := strings.ToLower(h.Label)
	for _, marker := range []string{"pool", "router", "pair", "uniswap", "sushiswap", "locker"} {
		if strings.Contains(label, marker) {
			return true
		}
	}
	return false
}

func highConcentration(s Signals) bool {
	return s.HoldersKnown && ConcentratedShare(s.Holders, s.Metadata.PairAddress) > ConcentrationThreshold
}

func unverified(s Signals) bool {
	return s.Metadata.Verified != nil && !*s.Metadata.Verified
}

func ownershipKept(s Signals) bool {
	return s.Metadata.OwnershipRenounced != nil && !*s.Metadata.OwnershipRenounced
}

func lowLiquidity(s Signals) bool {
	return s.Metadata.LiquidityUSD != nil && *s.Metadata.LiquidityUSD < LiquidityFloorUSD
}

// suspectedHoneypot needs an explicit failed sell simulation. No simulation
// means no flag.
func suspectedHoneypot(s Signals) bool {
	sim := s.Metadata.SellSimulation
	return sim != nil && sim.IsHoneypot
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

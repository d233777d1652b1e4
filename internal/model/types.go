package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

// TransactionEvent is a transaction touching a watched address. An empty
// TokenContract means native ETH.
type TransactionEvent struct {
	Hash          string    `json:"hash"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	TokenContract string    `json:"token_contract,omitempty"`
	TokenSymbol   string    `json:"token_symbol,omitempty"`
	TokenName     string    `json:"token_name,omitempty"`
	Amount        string    `json:"amount"`
	BlockNumber   uint64    `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e TransactionEvent) IsNative() bool { return e.TokenContract == "" }

type TokenBalance struct {
	Contract         string   `json:"contract"`
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name"`
	Decimals         int      `json:"decimals"`
	BalanceBaseUnits string   `json:"balance_base_units"`
	Balance          string   `json:"balance"`
	PriceUSD         *float64 `json:"price_usd,omitempty"`
}

type Holder struct {
	Address    string  `json:"address"`
	Percent    float64 `json:"percent"`
	IsContract bool    `json:"is_contract"`
	Label      string  `json:"label,omitempty"`
	BaseUnits  string  `json:"base_units,omitempty"`
}

type SimulationResult struct {
	Success    bool    `json:"success"`
	IsHoneypot bool    `json:"is_honeypot"`
	Reason     string  `json:"reason,omitempty"`
	BuyTaxPct  float64 `json:"buy_tax_pct"`
	SellTaxPct float64 `json:"sell_tax_pct"`
}

// ContractMetadata merges what the data providers report about a token
// contract. Nil pointers mean the signal was not available.
type ContractMetadata struct {
	Address              string            `json:"address"`
	Name                 string            `json:"name"`
	Symbol               string            `json:"symbol"`
	Decimals             int               `json:"decimals"`
	Verified             *bool             `json:"verified,omitempty"`
	Owner                string            `json:"owner,omitempty"`
	OwnershipRenounced   *bool             `json:"ownership_renounced,omitempty"`
	HasMintFunction      bool              `json:"has_mint_function"`
	HasBlacklistFunction bool              `json:"has_blacklist_function"`
	LiquidityUSD         *float64          `json:"liquidity_usd,omitempty"`
	PairAddress          string            `json:"pair_address,omitempty"`
	SellSimulation       *SimulationResult `json:"sell_simulation,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
}

type RiskFlag string

const (
	FlagHighHolderConcentration  RiskFlag = "HighHolderConcentration"
	FlagUnverifiedContract       RiskFlag = "UnverifiedContract"
	FlagOwnershipNotRenounced    RiskFlag = "OwnershipNotRenounced"
	FlagMintFunctionPresent      RiskFlag = "MintFunctionPresent"
	FlagBlacklistFunctionPresent RiskFlag = "BlacklistFunctionPresent"
	FlagLowLiquidity             RiskFlag = "LowLiquidity"
	FlagSuspectedHoneypot        RiskFlag = "SuspectedHoneypot"
)

type TokenProfile struct {
	Contract         string     `json:"contract"`
	Name             string     `json:"name"`
	Symbol           string     `json:"symbol"`
	Decimals         int        `json:"decimals"`
	Score            int        `json:"score"`
	Level            string     `json:"level"`
	Flags            []RiskFlag `json:"flags"`
	TopHolderPercent float64    `json:"top_holder_percent"`
	LiquidityUSD     *float64   `json:"liquidity_usd,omitempty"`
	BuyTaxPct        *float64   `json:"buy_tax_pct,omitempty"`
	SellTaxPct       *float64   `json:"sell_tax_pct,omitempty"`
	HoneypotReason   string     `json:"honeypot_reason,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
	ScannedAt        time.Time  `json:"scanned_at"`
}

func (p TokenProfile) HasFlag(flag RiskFlag) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TradeIntent is an unexecuted, priced trade. Bound is the minimum tokens
// out for a buy and the maximum tokens in for a sell.
type TradeIntent struct {
	ID          string          `json:"id"`
	Direction   TradeDirection  `json:"direction"`
	Wallet      string          `json:"wallet"`
	Token       string          `json:"token"`
	USDAmount   decimal.Decimal `json:"usd_amount"`
	SlippagePct decimal.Decimal `json:"slippage_pct"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	Bound       decimal.Decimal `json:"bound"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RouteCost struct {
	Name    string  `json:"name"`
	Units   uint64  `json:"units"`
	CostETH float64 `json:"cost_eth"`
	CostUSD float64 `json:"cost_usd"`
}

type GasEstimate struct {
	GweiPrice          float64     `json:"gwei_price"`
	EstimatedSwapUnits uint64      `json:"estimated_swap_units"`
	CostETH            float64     `json:"cost_eth"`
	CostUSD            float64     `json:"cost_usd"`
	ETHPriceUSD        float64     `json:"eth_price_usd"`
	Routes             []RouteCost `json:"routes"`
}

type SubscriptionView struct {
	ChatID       int64     `json:"chat_id"`
	Address      string    `json:"address"`
	Cursor       uint64    `json:"cursor"`
	Seen         int       `json:"seen"`
	LastActivity time.Time `json:"last_activity"`
}

type BudgetUsage struct {
	Used   uint64    `json:"used"`
	Limit  uint64    `json:"limit"`
	Period time.Time `json:"period_start"`
}

type StatusReport struct {
	Sessions      int                `json:"sessions"`
	Subscriptions []SubscriptionView `json:"subscriptions"`
	Budget        *BudgetUsage       `json:"compute_units,omitempty"`
	Providers     []ProviderInfo     `json:"providers"`
}

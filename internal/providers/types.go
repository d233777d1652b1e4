package providers

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/ethpilot/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// NodeProvider answers questions a JSON-RPC node can answer directly.
type NodeProvider interface {
	Provider
	EthBalance(ctx context.Context, address string) (*big.Int, error)
	GasPriceWei(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TokenBalances(ctx context.Context, address string) ([]model.TokenBalance, error)
	ContractSignals(ctx context.Context, contract string) (ContractSignals, error)
	TotalSupply(ctx context.Context, contract string) (*big.Int, error)
}

// HistoryProvider indexes account activity.
type HistoryProvider interface {
	Provider
	Transactions(ctx context.Context, address string, sinceBlock uint64) ([]model.TransactionEvent, uint64, error)
	ETHPriceUSD(ctx context.Context) (float64, error)
	IsVerified(ctx context.Context, contract string) (bool, error)
}

type HolderProvider interface {
	Provider
	TopHolders(ctx context.Context, contract string, limit int) ([]model.Holder, error)
}

type PriceProvider interface {
	Provider
	TokenPriceUSD(ctx context.Context, contract string) (float64, error)
}

// SimulationProvider runs a buy/sell simulation against the token's main pair.
type SimulationProvider interface {
	Provider
	Simulate(ctx context.Context, contract string) (SimulationReport, error)
}

// ContractSignals is what can be read from the contract itself.
type ContractSignals struct {
	Name                 string
	Symbol               string
	Decimals             int
	Owner                string
	HasOwner             bool
	HasMintFunction      bool
	HasBlacklistFunction bool
}

type SimulationReport struct {
	Name         string
	Symbol       string
	Decimals     int
	Simulation   *model.SimulationResult
	LiquidityUSD *float64
	PairAddress  string
	OpenSource   *bool
}

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/ethpilot/internal/cache"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/providers"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

const priceLookupWorkers = 4

type Options struct {
	Node       providers.NodeProvider
	History    providers.HistoryProvider
	Holders    []providers.HolderProvider
	Price      providers.PriceProvider
	Simulation providers.SimulationProvider
	Cache      *cache.Store
	PriceTTL   time.Duration
	MaxStale   time.Duration
	Logger     *slog.Logger
}

// Gateway is the single entry point to chain data. It hides which provider
// answers each question.
type Gateway struct {
	node       providers.NodeProvider
	history    providers.HistoryProvider
	holders    []providers.HolderProvider
	price      providers.PriceProvider
	simulation providers.SimulationProvider
	cache      *cache.Store
	priceTTL   time.Duration
	maxStale   time.Duration
	log        *slog.Logger
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		node:       opts.Node,
		history:    opts.History,
		holders:    opts.Holders,
		price:      opts.Price,
		simulation: opts.Simulation,
		cache:      opts.Cache,
		priceTTL:   opts.PriceTTL,
		maxStale:   opts.MaxStale,
		log:        logger,
	}
}

// Providers lists every configured provider once, even when it serves
// several roles.
func (g *Gateway) Providers() []model.ProviderInfo {
	var out []model.ProviderInfo
	seen := map[string]bool{}
	add := func(p providers.Provider) {
		if p == nil {
			return
		}
		info := p.Info()
		if seen[info.Name] {
			return
		}
		seen[info.Name] = true
		out = append(out, info)
	}
	add(g.node)
	add(g.history)
	for _, h := range g.holders {
		add(h)
	}
	add(g.price)
	add(g.simulation)
	return out
}

// BudgetUsage reports node compute-unit usage when the node meters it.
func (g *Gateway) BudgetUsage() *model.BudgetUsage {
	metered, ok := g.node.(interface {
		BudgetUsage() (model.BudgetUsage, bool)
	})
	if !ok {
		return nil
	}
	usage, ok := metered.BudgetUsage()
	if !ok {
		return nil
	}
	return &usage
}

func (g *Gateway) EthBalance(ctx context.Context, address string) (*big.Int, error) {
	return g.node.EthBalance(ctx, address)
}

func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	return g.node.BlockNumber(ctx)
}

func (g *Gateway) GasPriceGwei(ctx context.Context) (float64, error) {
	wei, err := g.node.GasPriceWei(ctx)
	if err != nil {
		return 0, err
	}
	return id.WeiToGwei(wei), nil
}

func (g *Gateway) Transactions(ctx context.Context, address string, sinceBlock uint64) ([]model.TransactionEvent, uint64, error) {
	if g.history == nil {
		return nil, sinceBlock, clierr.New(clierr.CodeUnsupported, "no transaction history provider configured")
	}
	return g.history.Transactions(ctx, address, sinceBlock)
}

// TokenBalances lists non-zero ERC-20 balances and attaches a USD price where
// one is available. Missing prices never fail the listing.
func (g *Gateway) TokenBalances(ctx context.Context, address string) ([]model.TokenBalance, error) {
	balances, err := g.node.TokenBalances(ctx, address)
	if err != nil {
		return nil, err
	}
	if g.price == nil {
		return balances, nil
	}
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(priceLookupWorkers)
	for i := range balances {
		grp.Go(func() error {
			price, err := g.TokenPriceUSD(gctx, balances[i].Contract)
			if err != nil {
				g.log.Debug("token_price_unavailable", "contract", balances[i].Contract, "err", err)
				return nil
			}
			balances[i].PriceUSD = &price
			return nil
		})
	}
	_ = grp.Wait()
	if err := ctx.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "token balances cancelled", err)
	}
	return balances, nil
}

func (g *Gateway) TokenPriceUSD(ctx context.Context, contract string) (float64, error) {
	if g.price == nil {
		return 0, clierr.New(clierr.CodeUnsupported, "no token price provider configured (set ETHPILOT_MORALIS_API_KEY)")
	}
	contract = strings.ToLower(contract)
	return g.cachedPrice(ctx, "price:token:"+contract, func(ctx context.Context) (float64, error) {
		return g.price.TokenPriceUSD(ctx, contract)
	})
}

func (g *Gateway) ETHPriceUSD(ctx context.Context) (float64, error) {
	if g.history == nil {
		return 0, clierr.New(clierr.CodeUnsupported, "no ETH price provider configured (set ETHPILOT_ETHERSCAN_API_KEY)")
	}
	return g.cachedPrice(ctx, "price:eth", g.history.ETHPriceUSD)
}

// cachedPrice serves fresh cache hits, refreshes expired entries and falls
// back to a stale entry within the max-stale window on transient failures.
func (g *Gateway) cachedPrice(ctx context.Context, key string, fetch func(context.Context) (float64, error)) (float64, error) {
	var cached float64
	staleAvailable := false
	if g.cache != nil {
		res, err := g.cache.GetJSON(key, g.maxStale, &cached)
		if err == nil && res.Hit {
			if !res.Stale {
				return cached, nil
			}
			staleAvailable = !res.TooStale
		}
	}

	price, err := fetch(ctx)
	if err != nil {
		if staleAvailable && (clierr.IsTransient(err) || clierr.CodeOf(err) == clierr.CodeQuotaExhausted) {
			g.log.Warn("price_stale_fallback", "key", key, "err", err)
			return cached, nil
		}
		return 0, err
	}
	if g.cache != nil {
		if err := g.cache.SetJSON(key, price, g.priceTTL); err != nil {
			g.log.Debug("price_cache_write_failed", "key", key, "err", err)
		}
	}
	return price, nil
}

// TopHolders asks each holder provider in turn. Holders reported without a
// supply share get one derived from the token's total supply.
func (g *Gateway) TopHolders(ctx context.Context, contract string, limit int) ([]model.Holder, error) {
	if len(g.holders) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "no holder provider configured (set ETHPILOT_MORALIS_API_KEY or ETHPILOT_CHAINBASE_API_KEY)")
	}
	var lastErr error
	for _, p := range g.holders {
		holders, err := p.TopHolders(ctx, contract, limit)
		if err != nil {
			lastErr = err
			if !shouldFallback(err) {
				return nil, err
			}
			g.log.Debug("holder_provider_failed", "provider", p.Info().Name, "err", err)
			continue
		}
		if err := g.fillPercent(ctx, contract, holders); err != nil {
			lastErr = err
			if !shouldFallback(err) {
				return nil, err
			}
			continue
		}
		return holders, nil
	}
	return nil, lastErr
}

func (g *Gateway) fillPercent(ctx context.Context, contract string, holders []model.Holder) error {
	var supply *big.Float
	for i := range holders {
		if holders[i].Percent != 0 || holders[i].BaseUnits == "" {
			continue
		}
		units, ok := new(big.Float).SetString(holders[i].BaseUnits)
		if !ok {
			continue
		}
		if supply == nil {
			total, err := g.node.TotalSupply(ctx, contract)
			if err != nil {
				return err
			}
			if total.Sign() == 0 {
				return nil
			}
			supply = new(big.Float).SetInt(total)
		}
		pct, _ := new(big.Float).Quo(new(big.Float).Mul(units, big.NewFloat(100)), supply).Float64()
		holders[i].Percent = pct
	}
	return nil
}

// ContractMetadata merges node, explorer and simulation signals. Only the
// node read is required. The others degrade to warnings.
func (g *Gateway) ContractMetadata(ctx context.Context, contract string) (model.ContractMetadata, error) {
	var (
		signals   providers.ContractSignals
		report    *providers.SimulationReport
		verified  *bool
		simErr    error
		verifyErr error
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		v, err := g.node.ContractSignals(gctx, contract)
		signals = v
		return err
	})
	if g.simulation != nil {
		grp.Go(func() error {
			v, err := g.simulation.Simulate(gctx, contract)
			if err != nil {
				simErr = err
				return nil
			}
			report = &v
			return nil
		})
	}
	if g.history != nil {
		grp.Go(func() error {
			ok, err := g.history.IsVerified(gctx, contract)
			if err != nil {
				verifyErr = err
				return nil
			}
			verified = &ok
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return model.ContractMetadata{}, err
	}

	meta := model.ContractMetadata{
		Address:              strings.ToLower(contract),
		Name:                 signals.Name,
		Symbol:               signals.Symbol,
		Decimals:             signals.Decimals,
		HasMintFunction:      signals.HasMintFunction,
		HasBlacklistFunction: signals.HasBlacklistFunction,
		Verified:             verified,
	}
	if signals.HasOwner {
		meta.Owner = signals.Owner
		renounced := isRenouncedOwner(signals.Owner)
		meta.OwnershipRenounced = &renounced
	}
	if report != nil {
		if meta.Name == "" {
			meta.Name = report.Name
		}
		if meta.Symbol == "" {
			meta.Symbol = report.Symbol
		}
		if meta.Decimals == 0 {
			meta.Decimals = report.Decimals
		}
		meta.LiquidityUSD = report.LiquidityUSD
		meta.PairAddress = report.PairAddress
		meta.SellSimulation = report.Simulation
		if meta.Verified == nil {
			meta.Verified = report.OpenSource
		}
	}
	if simErr != nil {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("sell simulation unavailable: %s", errMessage(simErr)))
	}
	if verifyErr != nil && meta.Verified == nil {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("verification status unavailable: %s", errMessage(verifyErr)))
	}
	return meta, nil
}

func isRenouncedOwner(owner string) bool {
	if registry.IsBurnAddress(owner) {
		return true
	}
	return common.HexToAddress(owner) == (common.Address{})
}

func shouldFallback(err error) bool {
	switch clierr.CodeOf(err) {
	case clierr.CodeUnavailable, clierr.CodeRateLimited, clierr.CodeUnsupported, clierr.CodeAuth, clierr.CodeQuotaExhausted:
		return true
	default:
		return false
	}
}

func errMessage(err error) string {
	if cErr, ok := clierr.As(err); ok {
		return cErr.Message
	}
	return err.Error()
}

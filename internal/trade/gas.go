package trade

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/ethpilot/internal/model"
)

// Typical gas used by a single-hop swap on each router.
const (
	UniswapV2SwapUnits uint64 = 152_809
	UniswapV3SwapUnits uint64 = 184_523

	feeBuffer = 1.03
)

type GasSource interface {
	GasPriceGwei(ctx context.Context) (float64, error)
	ETHPriceUSD(ctx context.Context) (float64, error)
}

type GasEstimator struct {
	src GasSource
}

func NewGasEstimator(src GasSource) *GasEstimator {
	return &GasEstimator{src: src}
}

// Estimate prices a swap at the current gas price. The headline cost is the
// Uniswap V2 route.
func (e *GasEstimator) Estimate(ctx context.Context) (model.GasEstimate, error) {
	var gwei, ethUSD float64
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		v, err := e.src.GasPriceGwei(gctx)
		gwei = v
		return err
	})
	grp.Go(func() error {
		v, err := e.src.ETHPriceUSD(gctx)
		ethUSD = v
		return err
	})
	if err := grp.Wait(); err != nil {
		return model.GasEstimate{}, err
	}

	routes := []model.RouteCost{
		routeCost("Uniswap V2", UniswapV2SwapUnits, gwei, ethUSD),
		routeCost("Uniswap V3", UniswapV3SwapUnits, gwei, ethUSD),
	}
	return model.GasEstimate{
		GweiPrice:          gwei,
		EstimatedSwapUnits: UniswapV2SwapUnits,
		CostETH:            routes[0].CostETH,
		CostUSD:            routes[0].CostUSD,
		ETHPriceUSD:        ethUSD,
		Routes:             routes,
	}, nil
}

func routeCost(name string, units uint64, gwei, ethUSD float64) model.RouteCost {
	costETH := gwei * 1e-9 * float64(units) * feeBuffer
	return model.RouteCost{
		Name:    name,
		Units:   units,
		CostETH: costETH,
		CostUSD: costETH * ethUSD,
	}
}

package app

import (
	"context"
	"log/slog"

	"github.com/ggonzalez94/ethpilot/internal/cache"
	"github.com/ggonzalez94/ethpilot/internal/config"
	"github.com/ggonzalez94/ethpilot/internal/conversation"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/gateway"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
	"github.com/ggonzalez94/ethpilot/internal/monitor"
	"github.com/ggonzalez94/ethpilot/internal/out"
	"github.com/ggonzalez94/ethpilot/internal/providers"
	"github.com/ggonzalez94/ethpilot/internal/providers/alchemy"
	"github.com/ggonzalez94/ethpilot/internal/providers/chainbase"
	"github.com/ggonzalez94/ethpilot/internal/providers/etherscan"
	"github.com/ggonzalez94/ethpilot/internal/providers/honeypot"
	"github.com/ggonzalez94/ethpilot/internal/providers/moralis"
	"github.com/ggonzalez94/ethpilot/internal/risk"
	"github.com/ggonzalez94/ethpilot/internal/trade"
)

// services is everything a running bot needs, built once from settings.
type services struct {
	cache   *cache.Store
	node    *alchemy.Client
	gateway *gateway.Gateway
	scanner *risk.Scanner
	gas     *trade.GasEstimator
	monitor *monitor.Monitor
	engine  *conversation.Engine
}

func buildServices(ctx context.Context, settings config.Settings, logger *slog.Logger) (*services, error) {
	store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	node, err := alchemy.Dial(ctx, settings.RPCURL, httpClient.Policy(), alchemy.NewBudget(settings.AlchemyComputeUnits))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	history := etherscan.New(httpClient.WithRateLimit(settings.EtherscanRPS, 1), settings.EtherscanAPIKey)
	market := moralis.New(httpClient, settings.MoralisAPIKey)
	holders := []providers.HolderProvider{market}
	if settings.ChainbaseAPIKey != "" {
		holders = append(holders, chainbase.New(httpClient, settings.ChainbaseAPIKey))
	}

	gw := gateway.New(gateway.Options{
		Node:       node,
		History:    history,
		Holders:    holders,
		Price:      market,
		Simulation: honeypot.New(httpClient, settings.HoneypotAPIKey),
		Cache:      store,
		PriceTTL:   settings.PriceTTL,
		MaxStale:   settings.MaxStale,
		Logger:     logger,
	})
	scanner := risk.NewScanner(gw, settings.RiskTTL, logger)
	gas := trade.NewGasEstimator(gw)
	mon := monitor.New(monitor.Options{
		Source:   gw,
		Interval: settings.PollInterval,
		Jitter:   settings.PollJitter,
		Workers:  settings.MonitorWorkers,
		Expiry:   settings.WatchExpiry,
		Logger:   logger,
	})
	engine := conversation.New(conversation.Options{
		Gateway:         gw,
		Scanner:         scanner,
		Gas:             gas,
		Watcher:         mon,
		Wallet:          settings.WalletAddress,
		SessionTimeout:  settings.SessionTimeout,
		EnabledCommands: settings.EnableCommands,
		Settings:        settingsView(settings),
		Logger:          logger,
	})
	return &services{
		cache:   store,
		node:    node,
		gateway: gw,
		scanner: scanner,
		gas:     gas,
		monitor: mon,
		engine:  engine,
	}, nil
}

func (s *services) Close() {
	if s == nil {
		return
	}
	s.node.Close()
	_ = s.cache.Close()
}

func settingsView(settings config.Settings) out.SettingsView {
	return out.SettingsView{
		Wallet:         settings.WalletAddress,
		PollInterval:   settings.PollInterval,
		SessionTimeout: settings.SessionTimeout,
		RiskTTL:        settings.RiskTTL,
		Keys: [][2]string{
			{"telegram", config.MaskSecret(settings.TelegramToken)},
			{"alchemy", config.MaskSecret(settings.AlchemyAPIKey)},
			{"etherscan", config.MaskSecret(settings.EtherscanAPIKey)},
			{"moralis", config.MaskSecret(settings.MoralisAPIKey)},
			{"chainbase", config.MaskSecret(settings.ChainbaseAPIKey)},
			{"honeypot", config.MaskSecret(settings.HoneypotAPIKey)},
		},
	}
}

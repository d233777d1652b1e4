package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/status"
	"github.com/ggonzalez94/ethpilot/internal/transport"
)

const janitorInterval = time.Minute

// runBot serves chats on tr until ctx is done or the transport runs dry.
// The monitor, janitor and status server stop with it.
func runBot(ctx context.Context, svc *services, tr transport.Transport, allowed []int64, statusAddr string, logger *slog.Logger) error {
	msgs, err := tr.Receive(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		newDispatcher(svc.engine, tr, allowed, logger).Run(ctx, msgs)
		logger.Info("transport_closed")
		return nil
	})
	g.Go(func() error {
		return svc.monitor.Run(gctx, tr)
	})
	g.Go(func() error {
		janitor(gctx, svc, logger)
		return nil
	})
	if statusAddr != "" {
		g.Go(func() error {
			return status.Serve(gctx, statusAddr, status.NewRouter(statusSource{svc}, logger), logger)
		})
	}
	logger.Info("bot_started", "wallet", svc.engine.Wallet(), "status_listen", statusAddr)
	return g.Wait()
}

func janitor(ctx context.Context, svc *services, logger *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sessions := svc.engine.Sweep()
		profiles := svc.scanner.Prune()
		if err := svc.cache.Prune(); err != nil {
			logger.Warn("cache_prune_failed", "err", err)
		}
		if sessions > 0 || profiles > 0 {
			logger.Debug("janitor_swept", "sessions", sessions, "profiles", profiles)
		}
	}
}

type statusSource struct {
	svc *services
}

func (s statusSource) Status() model.StatusReport {
	return model.StatusReport{
		Sessions:      s.svc.engine.Sessions(),
		Subscriptions: s.svc.monitor.Snapshot(),
		Budget:        s.svc.gateway.BudgetUsage(),
		Providers:     s.svc.gateway.Providers(),
	}
}

package risk

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/model"
)

// Gateway is the slice of the data gateway the scanner reads.
type Gateway interface {
	TopHolders(ctx context.Context, contract string, limit int) ([]model.Holder, error)
	ContractMetadata(ctx context.Context, contract string) (model.ContractMetadata, error)
}

// Scanner computes token profiles and keeps them for ttl. Profiles are
// replaced whole under the lock, so readers never see a partial update.
type Scanner struct {
	gw    Gateway
	rules []Rule
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time

	mu       sync.RWMutex
	profiles map[string]model.TokenProfile
	inflight singleflight.Group
}

func NewScanner(gw Gateway, ttl time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		gw:       gw,
		rules:    DefaultRules,
		ttl:      ttl,
		log:      logger,
		now:      time.Now,
		profiles: map[string]model.TokenProfile{},
	}
}

// Scan returns a cached profile within ttl or computes a fresh one.
// Concurrent scans of one contract share a single computation.
func (s *Scanner) Scan(ctx context.Context, contract string) (model.TokenProfile, error) {
	key := strings.ToLower(strings.TrimSpace(contract))
	if p, ok := s.Cached(key); ok {
		return p, nil
	}
	v, err, shared := s.inflight.Do(key, func() (any, error) {
		if p, ok := s.Cached(key); ok {
			return p, nil
		}
		p, err := s.compute(ctx, key)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.profiles[key] = p
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return model.TokenProfile{}, err
	}
	if shared {
		s.log.Debug("risk_scan_shared", "contract", key)
	}
	return cloneProfile(v.(model.TokenProfile)), nil
}

// Cached returns a profile that is still within ttl.
func (s *Scanner) Cached(contract string) (model.TokenProfile, bool) {
	key := strings.ToLower(strings.TrimSpace(contract))
	s.mu.RLock()
	p, ok := s.profiles[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(p.ScannedAt) >= s.ttl {
		return model.TokenProfile{}, false
	}
	return cloneProfile(p), true
}

// Prune drops expired profiles.
func (s *Scanner) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, p := range s.profiles {
		if s.now().Sub(p.ScannedAt) >= s.ttl {
			delete(s.profiles, key)
			removed++
		}
	}
	return removed
}

func (s *Scanner) compute(ctx context.Context, contract string) (model.TokenProfile, error) {
	var (
		meta      model.ContractMetadata
		holders   []model.Holder
		holderErr error
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		v, err := s.gw.ContractMetadata(gctx, contract)
		meta = v
		return err
	})
	grp.Go(func() error {
		v, err := s.gw.TopHolders(gctx, contract, TopHolderCount)
		if err != nil {
			switch clierr.CodeOf(err) {
			case clierr.CodeAuth, clierr.CodeUnsupported:
				holderErr = err
				return nil
			}
			return err
		}
		holders = v
		return nil
	})
	if err := grp.Wait(); err != nil {
		return model.TokenProfile{}, err
	}

	signals := Signals{Metadata: meta, Holders: holders, HoldersKnown: holderErr == nil}
	flags, score := Evaluate(s.rules, signals)
	profile := model.TokenProfile{
		Contract:     contract,
		Name:         meta.Name,
		Symbol:       meta.Symbol,
		Decimals:     meta.Decimals,
		Score:        score,
		Level:        Level(score),
		Flags:        flags,
		LiquidityUSD: meta.LiquidityUSD,
		Warnings:     slices.Clone(meta.Warnings),
		ScannedAt:    s.now(),
	}
	if signals.HoldersKnown {
		profile.TopHolderPercent = ConcentratedShare(holders, meta.PairAddress)
	} else {
		profile.Warnings = append(profile.Warnings, "holder distribution unavailable: "+holderMessage(holderErr))
	}
	if sim := meta.SellSimulation; sim != nil {
		buy, sell := sim.BuyTaxPct, sim.SellTaxPct
		profile.BuyTaxPct = &buy
		profile.SellTaxPct = &sell
		profile.HoneypotReason = sim.Reason
	}
	s.log.Info("risk_scan_completed", "contract", contract, "score", score, "flags", len(flags))
	return profile, nil
}

func holderMessage(err error) string {
	if cErr, ok := clierr.As(err); ok {
		return cErr.Message
	}
	return err.Error()
}

func cloneProfile(p model.TokenProfile) model.TokenProfile {
	p.Flags = slices.Clone(p.Flags)
	p.Warnings = slices.Clone(p.Warnings)
	return p
}

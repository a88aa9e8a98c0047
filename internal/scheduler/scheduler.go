// Package scheduler drives the hourly cycle: profit distribution every
// cycle, the paper trade journal, and the refinement tournament every N
// cycles or on demand. A failing cycle is logged and abandoned; the loop
// itself never dies.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/logger"
	"oracle-traderv1/internal/model"
	"oracle-traderv1/internal/refiner"
	"oracle-traderv1/internal/strategy"
)

// Key/value keys owned by the scheduler.
const (
	KeyRefinementInterval = "refinement_interval_setting"
	KeyForceRefinement    = "force_refinement"
	KeyHeldAsset          = "current_held_asset"
)

// FinanceRunner is one profit-distribution pass.
type FinanceRunner interface {
	RunCycle(ctx context.Context, now time.Time) error
}

// Champion runs one tournament round.
type Champion interface {
	FindNewChampion(ctx context.Context, full, recent *model.PriceSeries) (model.RuleSet, refiner.Candidate, error)
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
	LoadPriceSeries(ctx context.Context) (*model.PriceSeries, error)
	SaveLiveRules(ctx context.Context, r model.RuleSet) error
	LoadLiveRules(ctx context.Context) (model.RuleSet, bool, error)
}

// Config holds the cycle cadence.
type Config struct {
	Interval     time.Duration // wall time between cycles
	RefineEvery  int           // cycles between tournaments (kv can override)
	RecentWindow int           // trailing periods for the recent window
	RefSymbol    string        // regime reference asset
	StableAsset  string        // out-of-market holding
	DefaultRules model.RuleSet // live rules before the first promotion
}

// Scheduler owns the cycle loop.
type Scheduler struct {
	cfg     Config
	store   Store
	finance FinanceRunner
	refiner Champion
	events  *eventlog.Log
	logger  *slog.Logger
	now     func() time.Time

	cycles int
	live   model.RuleSet

	// Metrics hooks.
	OnCycle      func(err error)
	OnRefinement func(winnerID string)
	// OnPromotion fires after the live rules are persisted (notifications).
	OnPromotion func(rules model.RuleSet, winner refiner.Candidate)
}

// New creates a Scheduler. The live rule set is read once here; afterwards
// it only changes through promotion.
func New(ctx context.Context, cfg Config, store Store, finance FinanceRunner, champion Champion, events *eventlog.Log, logger *slog.Logger) (*Scheduler, error) {
	live, ok, err := store.LoadLiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load live rules: %w", err)
	}
	if !ok {
		live = cfg.DefaultRules
	}
	logger.Info("live rules loaded", "trend_window", live.TrendWindow, "momentum_window", live.MomentumWindow)

	return &Scheduler{
		cfg:     cfg,
		store:   store,
		finance: finance,
		refiner: champion,
		events:  events,
		logger:  logger,
		now:     time.Now,
		live:    live,
	}, nil
}

// LiveRules returns the currently promoted rule set.
func (s *Scheduler) LiveRules() model.RuleSet { return s.live }

// Run executes one cycle immediately, then one per interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.events.Emit(ctx, eventlog.StatusPayload{Status: "Scheduler started."})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle runs one full cycle with a per-cycle catch-all: any error becomes an
// ERROR event and the loop carries on next interval.
func (s *Scheduler) Cycle(ctx context.Context) {
	s.cycles++
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(s.cycles, s.now()))
	err := s.cycle(ctx)
	if err != nil {
		s.logger.Error("cycle failed", append([]any{"cycle", s.cycles, "err", err}, logger.LogWithCycle(ctx)...)...)
		if emitErr := s.events.Emit(ctx, eventlog.ErrorPayload{
			Component: "scheduler",
			Error:     err.Error(),
		}); emitErr != nil {
			s.logger.Error("error event emit failed", "err", emitErr)
		}
	}
	if s.OnCycle != nil {
		s.OnCycle(err)
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	now := s.now()
	s.logger.Info("cycle started", append([]any{"cycle", s.cycles}, logger.LogWithCycle(ctx)...)...)

	if err := s.finance.RunCycle(ctx, now); err != nil {
		return fmt.Errorf("finance: %w", err)
	}

	series, err := s.store.LoadPriceSeries(ctx)
	if err != nil {
		return fmt.Errorf("load price history: %w", err)
	}

	if err := s.journalTrade(ctx, series); err != nil {
		return err
	}

	refine, err := s.shouldRefine(ctx)
	if err != nil {
		return err
	}
	if refine {
		if err := s.runRefinement(ctx, series); err != nil {
			return fmt.Errorf("refinement: %w", err)
		}
	}
	return nil
}

// journalTrade evaluates the live rules on the latest period and records a
// TRADE event when the desired holding changes. Paper bookkeeping only —
// order placement belongs to the excluded exchange collaborator.
func (s *Scheduler) journalTrade(ctx context.Context, series *model.PriceSeries) error {
	if series.Len() == 0 {
		return nil
	}

	signals, err := strategy.Generate(series, s.live, s.cfg.RefSymbol)
	if err != nil {
		return fmt.Errorf("signal generation: %w", err)
	}

	last := signals[series.Len()-1]
	desired := s.cfg.StableAsset
	if last.Valid && last.Asset != "" {
		desired = last.Asset
	}

	held := s.cfg.StableAsset
	if v, ok, err := s.store.GetValue(ctx, KeyHeldAsset); err != nil {
		return err
	} else if ok {
		held = v
	}

	if desired == held {
		return nil
	}

	// Realized leg P/L approximated by the sold asset's last period return.
	pct := 0.0
	if held != s.cfg.StableAsset && series.HasSymbol(held) && series.Len() > 1 {
		pct = series.Return(held, series.Len()-1) * 100
	}

	if err := s.events.Emit(ctx, eventlog.TradePayload{
		AssetBought:    desired,
		AssetSold:      held,
		ProfitLossPct:  pct,
		TrendWindow:    s.live.TrendWindow,
		MomentumWindow: s.live.MomentumWindow,
	}); err != nil {
		return err
	}
	s.logger.Info("paper trade journaled", "bought", desired, "sold", held, "pl_pct", pct)

	return s.store.SetValue(ctx, KeyHeldAsset, desired)
}

// shouldRefine checks the cycle counter against the configured interval and
// the force_refinement flag. The flag is consumed when honored.
func (s *Scheduler) shouldRefine(ctx context.Context) (bool, error) {
	if v, ok, err := s.store.GetValue(ctx, KeyForceRefinement); err != nil {
		return false, err
	} else if ok && v == "true" {
		if err := s.store.DeleteValue(ctx, KeyForceRefinement); err != nil {
			return false, err
		}
		s.logger.Info("refinement forced via store flag")
		return true, nil
	}

	every := s.cfg.RefineEvery
	if v, ok, err := s.store.GetValue(ctx, KeyRefinementInterval); err != nil {
		return false, err
	} else if ok {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 {
			every = n
		}
	}
	return every > 0 && s.cycles%every == 0, nil
}

func (s *Scheduler) runRefinement(ctx context.Context, series *model.PriceSeries) error {
	recent := series.Tail(s.cfg.RecentWindow)

	rules, winner, err := s.refiner.FindNewChampion(ctx, series, recent)
	if err != nil {
		return err
	}

	if err := s.store.SaveLiveRules(ctx, rules); err != nil {
		return err
	}
	s.live = rules
	s.logger.Info("rules promoted",
		"winner", winner.DisplayID(),
		"trend_window", rules.TrendWindow,
		"momentum_window", rules.MomentumWindow,
		"latest_performance", winner.LatestPerformance)

	if s.OnRefinement != nil {
		s.OnRefinement(winner.DisplayID())
	}
	if s.OnPromotion != nil {
		s.OnPromotion(rules, winner)
	}
	return nil
}

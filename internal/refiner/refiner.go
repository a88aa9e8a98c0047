// Package refiner runs the champion/challenger tournament: it draws one
// random challenger rule set, re-scores the Shadow Council of historically
// promising configurations against recent data, and promotes the best
// performer's parameters as the new live rule set.
package refiner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"

	"oracle-traderv1/internal/backtest"
	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/model"
)

// ChallengerID is the sentinel id of the per-round random candidate. Hall of
// Fame ids are positive integers, so it can never collide with a stored one.
const ChallengerID = "challenger"

// Store is the Hall of Fame persistence surface the refiner needs.
type Store interface {
	Nominate(ctx context.Context, k int) ([]model.Configuration, error)
	UpdateShadowScore(ctx context.Context, id int64, score float64) error
	InsertConfiguration(ctx context.Context, c *model.Configuration) error
}

// Config bounds the tournament.
type Config struct {
	CouncilSize int // members nominated per round

	// Challenger sampling ranges, inclusive.
	TrendMin, TrendMax       int
	MomentumMin, MomentumMax int
}

// Candidate is one tournament participant with its score on the recent
// window.
type Candidate struct {
	Configuration     model.Configuration
	Challenger        bool
	LatestPerformance float64
}

// DisplayID renders the candidate id for events and logs.
func (c Candidate) DisplayID() string {
	if c.Challenger {
		return ChallengerID
	}
	return strconv.FormatInt(c.Configuration.ID, 10)
}

// Refiner orchestrates tournaments. The random source is injected so rounds
// are reproducible under test; every call draws a fresh challenger, so the
// operation is deliberately not idempotent.
type Refiner struct {
	store  Store
	engine *backtest.Engine
	events *eventlog.Log
	rng    *rand.Rand
	cfg    Config
	logger *slog.Logger
}

// New creates a Refiner.
func New(store Store, engine *backtest.Engine, events *eventlog.Log, rng *rand.Rand, cfg Config, logger *slog.Logger) *Refiner {
	return &Refiner{
		store:  store,
		engine: engine,
		events: events,
		rng:    rng,
		cfg:    cfg,
		logger: logger,
	}
}

// FindNewChampion runs one full tournament round and returns the winner's
// rule set, which becomes live regardless of whether the winner is the fresh
// challenger or a sitting council member.
//
// full is the complete price history (lifetime backtest score), recent the
// trailing window (latest performance, the promotion criterion). With an
// empty Hall of Fame the challenger is the only candidate and always wins.
func (r *Refiner) FindNewChampion(ctx context.Context, full, recent *model.PriceSeries) (model.RuleSet, Candidate, error) {
	if err := r.events.Emit(ctx, eventlog.RefinerStatusPayload{Status: "Refinement process started."}); err != nil {
		return model.RuleSet{}, Candidate{}, err
	}

	challenger, err := r.drawChallenger(ctx, full, recent)
	if err != nil {
		return model.RuleSet{}, Candidate{}, err
	}
	r.logger.Info("challenger drawn",
		"trend_window", challenger.Configuration.TrendWindow,
		"momentum_window", challenger.Configuration.MomentumWindow,
		"latest_performance", challenger.LatestPerformance)

	council, err := r.store.Nominate(ctx, r.cfg.CouncilSize)
	if err != nil {
		return model.RuleSet{}, Candidate{}, fmt.Errorf("nominate council: %w", err)
	}
	r.logger.Info("shadow council nominated", "members", len(council))

	candidates := r.runShadowSimulation(ctx, council, recent)

	// Council members are evaluated before the challenger, and strict
	// comparison keeps the first-encountered candidate on ties.
	candidates = append(candidates, challenger)
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.LatestPerformance > winner.LatestPerformance {
			winner = c
		}
	}

	if winner.Challenger {
		cfg := winner.Configuration
		cfg.ShadowScore = 0
		if err := r.store.InsertConfiguration(ctx, &cfg); err != nil {
			return model.RuleSet{}, Candidate{}, fmt.Errorf("induct challenger: %w", err)
		}
		winner.Configuration = cfg
		r.logger.Info("challenger inducted into hall of fame", "id", cfg.ID)
	}

	rules := winner.Configuration.Rules()
	if err := r.events.Emit(ctx, eventlog.RefinerStatusPayload{
		Status:      "Refinement process finished.",
		WinnerID:    winner.DisplayID(),
		Performance: winner.LatestPerformance,
	}); err != nil {
		return model.RuleSet{}, Candidate{}, err
	}
	return rules, winner, nil
}

// drawChallenger samples one rule set uniformly from the configured bounds
// and scores it on both windows.
func (r *Refiner) drawChallenger(ctx context.Context, full, recent *model.PriceSeries) (Candidate, error) {
	rules := model.RuleSet{
		TrendWindow:    r.cfg.TrendMin + r.rng.Intn(r.cfg.TrendMax-r.cfg.TrendMin+1),
		MomentumWindow: r.cfg.MomentumMin + r.rng.Intn(r.cfg.MomentumMax-r.cfg.MomentumMin+1),
	}

	latest, err := r.engine.Score(recent, rules)
	if err != nil {
		return Candidate{}, fmt.Errorf("score challenger on recent window: %w", err)
	}
	lifetime, err := r.engine.Score(full, rules)
	if err != nil {
		return Candidate{}, fmt.Errorf("score challenger on full history: %w", err)
	}

	return Candidate{
		Configuration: model.Configuration{
			TrendWindow:    rules.TrendWindow,
			MomentumWindow: rules.MomentumWindow,
			BacktestScore:  lifetime,
		},
		Challenger:        true,
		LatestPerformance: latest,
	}, nil
}

// runShadowSimulation re-scores each council member on the recent window and
// folds the result into its lifetime shadow score. Members fail
// independently: a scoring error drops that member from the round without
// touching the others, and a persistence error only costs the member this
// pass's cumulative update.
func (r *Refiner) runShadowSimulation(ctx context.Context, council []model.Configuration, recent *model.PriceSeries) []Candidate {
	candidates := make([]Candidate, 0, len(council))
	for _, member := range council {
		perf, err := r.engine.Score(recent, member.Rules())
		if err != nil {
			r.logger.Warn("shadow member scoring failed", "id", member.ID, "err", err)
			continue
		}

		member.ShadowScore += perf
		if err := r.store.UpdateShadowScore(ctx, member.ID, member.ShadowScore); err != nil {
			// Member stays in the round; only its cumulative score
			// missed this pass.
			r.logger.Warn("shadow score persist failed", "id", member.ID, "err", err)
		}

		candidates = append(candidates, Candidate{
			Configuration:     member,
			LatestPerformance: perf,
		})
	}
	return candidates
}

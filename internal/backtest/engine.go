// Package backtest replays a signal sequence against price history and
// scores the resulting portfolio.
package backtest

import (
	"time"

	"oracle-traderv1/internal/model"
	"oracle-traderv1/internal/strategy"
)

// Config holds the fixed backtest parameters shared by every run.
type Config struct {
	// RefSymbol is the reference asset for the regime filter (e.g. "btc").
	RefSymbol string
	// StableAsset is the out-of-market holding (e.g. "usdt"). Holding it
	// earns no return and a signal naming it is treated as going flat.
	StableAsset string
	// FeeRate is the fraction charged once per asset switch (e.g. 0.001).
	FeeRate float64
}

// Engine scores rule sets against price series.
type Engine struct {
	cfg Config

	// OnScore, when set, receives the wall time of each completed run.
	OnScore func(d time.Duration)
}

// New creates a backtest engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Score replays the rule set over the series and returns the final value of a
// 1.0 starting portfolio. 1.0 is break-even net of fees.
//
// Execution is strictly look-back by one period: the decision made at t is
// executed at t+1, so the engine never trades on a period's own signal.
// Switching assets costs FeeRate once; holding a non-stable asset applies
// that asset's period return. Undefined (warm-up) signals keep the portfolio
// in the stable asset.
//
// A nil or empty series scores 0.0 — the sentinel for "no data", strictly
// dominated by any real run in tournament comparisons. Invalid windows
// propagate as an error.
func (e *Engine) Score(series *model.PriceSeries, rules model.RuleSet) (float64, error) {
	if series.Len() == 0 {
		return 0, nil
	}
	if e.OnScore != nil {
		start := time.Now()
		defer func() { e.OnScore(time.Since(start)) }()
	}

	signals, err := strategy.Generate(series, rules, e.cfg.RefSymbol)
	if err != nil {
		return 0, err
	}

	value := 1.0
	held := e.cfg.StableAsset

	for t := 1; t < series.Len(); t++ {
		want := e.desiredAsset(signals[t-1])

		if want != held {
			value *= 1 - e.cfg.FeeRate
			held = want
		}

		if held != e.cfg.StableAsset {
			value *= 1 + series.Return(held, t)
		}
	}

	return value, nil
}

// desiredAsset maps a signal to the asset to hold next period.
func (e *Engine) desiredAsset(sig strategy.Signal) string {
	if !sig.Valid || sig.Asset == "" {
		return e.cfg.StableAsset
	}
	return sig.Asset
}

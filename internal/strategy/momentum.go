// Package strategy implements the ranked momentum rotation signal generator.
//
// The strategy combines a market-regime filter with cross-asset momentum
// ranking: a trailing SMA of the reference asset decides whether to be in the
// market at all, and relative momentum decides which asset to hold while in.
package strategy

import (
	"errors"
	"fmt"

	"oracle-traderv1/internal/model"
)

// ErrInvalidWindow is returned when a window parameter is zero or negative.
var ErrInvalidWindow = errors.New("strategy: window must be positive")

// Signal is the per-period holding decision.
// Asset == "" means hold the stable asset (out of market or regime off).
// Valid == false means the indicators were still warming up for that period;
// an invalid signal must never be interpreted as a position.
type Signal struct {
	Asset string
	Valid bool
}

// Generate produces one Signal per period of the series, aligned to its index.
//
// Per period t:
//   - regime flag: series.Price(ref, t) > SMA(ref price, rules.TrendWindow),
//     undefined (treated as out-of-market) for the first TrendWindow-1 periods
//   - momentum per symbol: price[t]/price[t-MomentumWindow] - 1, undefined for
//     the first MomentumWindow periods
//   - signal: best-momentum asset while the regime flag is on, stable asset
//     otherwise; ties break to the first symbol in series.Symbols
//
// Periods where either indicator is undefined yield Valid == false. A window
// of length >= the series produces an all-invalid signal rather than an
// error; that score is then dominated by any configuration that trades.
// Pure function, no I/O.
func Generate(series *model.PriceSeries, rules model.RuleSet, refSymbol string) ([]Signal, error) {
	if !rules.Valid() {
		return nil, fmt.Errorf("%w: got trend=%d momentum=%d",
			ErrInvalidWindow, rules.TrendWindow, rules.MomentumWindow)
	}
	if series.Len() == 0 {
		return nil, nil
	}
	if !series.HasSymbol(refSymbol) {
		return nil, fmt.Errorf("strategy: reference symbol %q not in series", refSymbol)
	}

	n := series.Len()
	signals := make([]Signal, n)

	ref := series.Prices[refSymbol]

	// Rolling SMA of the reference price, same circular-sum scheme as the
	// live indicator engine but vectorized over the whole series.
	var sum float64
	w := rules.TrendWindow
	mavg := make([]float64, n)
	ready := make([]bool, n)
	for t := 0; t < n; t++ {
		sum += ref[t]
		if t >= w {
			sum -= ref[t-w]
		}
		if t >= w-1 {
			mavg[t] = sum / float64(w)
			ready[t] = true
		}
	}

	m := rules.MomentumWindow
	for t := 0; t < n; t++ {
		if !ready[t] || t < m {
			// Warm-up: signal undefined, never defaulted to an asset.
			continue
		}

		best := ""
		bestMom := 0.0
		for _, sym := range series.Symbols {
			col := series.Prices[sym]
			mom := col[t]/col[t-m] - 1
			if best == "" || mom > bestMom {
				best = sym
				bestMom = mom
			}
		}

		sig := Signal{Valid: true}
		if ref[t] > mavg[t] {
			sig.Asset = best
		}
		signals[t] = sig
	}

	return signals, nil
}

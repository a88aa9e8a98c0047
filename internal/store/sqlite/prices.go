package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"oracle-traderv1/internal/model"
)

// InsertPriceRow records one period of prices, one row per symbol.
// Re-inserting a (ts, symbol) pair overwrites the prior price.
func (s *Store) InsertPriceRow(ctx context.Context, ts time.Time, prices map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("price insert begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO price_history (ts, symbol, price) VALUES (?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("price insert prepare: %w", err)
	}
	defer stmt.Close()

	for sym, p := range prices {
		if _, err := stmt.Exec(ts.Unix(), sym, p); err != nil {
			tx.Rollback()
			return fmt.Errorf("price insert %q: %w", sym, err)
		}
	}
	return tx.Commit()
}

// LoadPriceSeries pivots the price_history table into a PriceSeries.
// Column order is alphabetical by symbol, which keeps the momentum tie-break
// deterministic across runs. Only timestamps carrying a price for every
// symbol are kept; partial rows are skipped.
func (s *Store) LoadPriceSeries(ctx context.Context) (*model.PriceSeries, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, symbol, price FROM price_history ORDER BY ts ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	defer rows.Close()

	type period struct {
		ts     int64
		prices map[string]float64
	}
	var periods []period
	symbols := map[string]bool{}

	for rows.Next() {
		var ts int64
		var sym string
		var p float64
		if err := rows.Scan(&ts, &sym, &p); err != nil {
			return nil, fmt.Errorf("load prices scan: %w", err)
		}
		symbols[sym] = true
		if n := len(periods); n > 0 && periods[n-1].ts == ts {
			periods[n-1].prices[sym] = p
		} else {
			periods = append(periods, period{ts: ts, prices: map[string]float64{sym: p}})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}

	cols := make([]string, 0, len(symbols))
	for sym := range symbols {
		cols = append(cols, sym)
	}
	sort.Strings(cols)

	series := model.NewPriceSeries(cols)
	for _, per := range periods {
		if len(per.prices) != len(cols) {
			continue
		}
		if err := series.AppendRow(time.Unix(per.ts, 0).UTC(), per.prices); err != nil {
			return nil, fmt.Errorf("load prices: %w", err)
		}
	}
	return series, nil
}

// LatestPrice returns the most recent stored price for one symbol.
// The boolean is false when the symbol has no history.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	var p float64
	err := s.db.QueryRowContext(ctx,
		`SELECT price FROM price_history WHERE symbol = ? ORDER BY ts DESC LIMIT 1`,
		symbol,
	).Scan(&p)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest price %q: %w", symbol, err)
	}
	return p, true, nil
}

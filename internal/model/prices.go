package model

import (
	"fmt"
	"time"
)

// PriceSeries is an in-memory, chronologically ordered table of asset prices.
// Rows are keyed by timestamp; one price column per tradable symbol plus the
// stable asset. The series is built once by the data loader and treated as
// read-only by everything downstream.
//
// Symbols carries the fixed column order. That order is load-bearing: the
// signal generator breaks momentum ties by picking the first symbol in this
// slice, so it must be deterministic across runs.
type PriceSeries struct {
	Times   []time.Time
	Symbols []string
	Prices  map[string][]float64 // per symbol, aligned to Times
}

// NewPriceSeries creates an empty series with a fixed symbol column order.
func NewPriceSeries(symbols []string) *PriceSeries {
	prices := make(map[string][]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = nil
	}
	return &PriceSeries{
		Symbols: symbols,
		Prices:  prices,
	}
}

// AppendRow appends one period of prices. Rows must arrive in chronological
// order with strictly increasing timestamps and a price for every symbol.
func (ps *PriceSeries) AppendRow(ts time.Time, row map[string]float64) error {
	if n := len(ps.Times); n > 0 && !ts.After(ps.Times[n-1]) {
		return fmt.Errorf("price row %s not after previous row %s", ts, ps.Times[n-1])
	}
	for _, sym := range ps.Symbols {
		p, ok := row[sym]
		if !ok {
			return fmt.Errorf("price row %s missing symbol %q", ts, sym)
		}
		if p <= 0 {
			return fmt.Errorf("price row %s has non-positive price %v for %q", ts, p, sym)
		}
	}
	ps.Times = append(ps.Times, ts)
	for _, sym := range ps.Symbols {
		ps.Prices[sym] = append(ps.Prices[sym], row[sym])
	}
	return nil
}

// Len returns the number of periods in the series.
func (ps *PriceSeries) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.Times)
}

// Price returns the price of sym at period i.
func (ps *PriceSeries) Price(sym string, i int) float64 {
	return ps.Prices[sym][i]
}

// Return computes the single-period return of sym at period i
// (price[i]/price[i-1] - 1). i must be >= 1.
func (ps *PriceSeries) Return(sym string, i int) float64 {
	col := ps.Prices[sym]
	return col[i]/col[i-1] - 1
}

// Tail returns a view over the last n periods (the whole series if n >= Len).
// The returned series shares backing arrays with the receiver.
func (ps *PriceSeries) Tail(n int) *PriceSeries {
	if ps == nil {
		return nil
	}
	if n >= ps.Len() {
		return ps
	}
	start := ps.Len() - n
	prices := make(map[string][]float64, len(ps.Symbols))
	for _, sym := range ps.Symbols {
		prices[sym] = ps.Prices[sym][start:]
	}
	return &PriceSeries{
		Times:   ps.Times[start:],
		Symbols: ps.Symbols,
		Prices:  prices,
	}
}

// HasSymbol reports whether sym is one of the series' columns.
func (ps *PriceSeries) HasSymbol(sym string) bool {
	_, ok := ps.Prices[sym]
	return ok
}

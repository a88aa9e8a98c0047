package model

import "time"

// RuleSet is the pair of window parameters that fully describes one trading
// rule configuration. Immutable value type; the "live" instance is whatever
// the last tournament promoted.
type RuleSet struct {
	TrendWindow    int `json:"trend_window"`
	MomentumWindow int `json:"momentum_window"`
}

// Valid reports whether both windows are positive.
func (r RuleSet) Valid() bool {
	return r.TrendWindow > 0 && r.MomentumWindow > 0
}

// Configuration is one Hall of Fame entry: a rule set plus its cumulative
// scores. Created only when a challenger wins a tournament; ShadowScore is
// bumped in place by every shadow simulation pass and entries are never
// deleted.
type Configuration struct {
	ID             int64     `json:"id"`
	TrendWindow    int       `json:"trend_window"`
	MomentumWindow int       `json:"momentum_window"`
	BacktestScore  float64   `json:"backtest_score"`
	ShadowScore    float64   `json:"shadow_score"`
	CreatedAt      time.Time `json:"created_at"`
}

// Rules returns the configuration's window pair as a RuleSet.
func (c Configuration) Rules() RuleSet {
	return RuleSet{TrendWindow: c.TrendWindow, MomentumWindow: c.MomentumWindow}
}

// CombinedScore is the nomination ordering key: lifetime backtest score plus
// accumulated shadow score.
func (c Configuration) CombinedScore() float64 {
	return c.BacktestScore + c.ShadowScore
}

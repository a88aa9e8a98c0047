package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"oracle-traderv1/internal/model"
)

// SaveLiveRules overwrites the single live rule record. Called on every
// tournament promotion.
func (s *Store) SaveLiveRules(ctx context.Context, r model.RuleSet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO live_rules (id, trend_window, momentum_window, updated_at)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			trend_window = excluded.trend_window,
			momentum_window = excluded.momentum_window,
			updated_at = excluded.updated_at`,
		r.TrendWindow, r.MomentumWindow, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save live rules: %w", err)
	}
	return nil
}

// LoadLiveRules reads the promoted rule set. The boolean is false when no
// promotion has happened yet.
func (s *Store) LoadLiveRules(ctx context.Context) (model.RuleSet, bool, error) {
	var r model.RuleSet
	err := s.db.QueryRowContext(ctx,
		`SELECT trend_window, momentum_window FROM live_rules WHERE id = 1`,
	).Scan(&r.TrendWindow, &r.MomentumWindow)
	if err == sql.ErrNoRows {
		return model.RuleSet{}, false, nil
	}
	if err != nil {
		return model.RuleSet{}, false, fmt.Errorf("load live rules: %w", err)
	}
	return r, true, nil
}

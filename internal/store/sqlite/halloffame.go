package sqlite

import (
	"context"
	"fmt"
	"time"

	"oracle-traderv1/internal/model"
)

// InsertConfiguration appends a new Hall of Fame entry and fills in its
// assigned ID and creation time.
func (s *Store) InsertConfiguration(ctx context.Context, c *model.Configuration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO configurations (trend_window, momentum_window, backtest_score, shadow_score, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.TrendWindow, c.MomentumWindow, c.BacktestScore, c.ShadowScore, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert configuration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert configuration id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// UpdateShadowScore sets the cumulative shadow score for one configuration.
func (s *Store) UpdateShadowScore(ctx context.Context, id int64, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE configurations SET shadow_score = ? WHERE id = ?`,
		score, id,
	)
	if err != nil {
		return fmt.Errorf("update shadow score id=%d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update shadow score: configuration %d not found", id)
	}
	return nil
}

// Nominate returns up to k configurations ranked by combined score
// (backtest + shadow) descending. Ties resolve to the earlier insertion, so
// the ordering is stable across calls. An empty table yields an empty slice.
func (s *Store) Nominate(ctx context.Context, k int) ([]model.Configuration, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trend_window, momentum_window, backtest_score, shadow_score, created_at
		 FROM configurations
		 ORDER BY (backtest_score + shadow_score) DESC, id ASC
		 LIMIT ?`, k,
	)
	if err != nil {
		return nil, fmt.Errorf("nominate: %w", err)
	}
	defer rows.Close()

	var out []model.Configuration
	for rows.Next() {
		var c model.Configuration
		var created int64
		if err := rows.Scan(&c.ID, &c.TrendWindow, &c.MomentumWindow, &c.BacktestScore, &c.ShadowScore, &created); err != nil {
			return nil, fmt.Errorf("nominate scan: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"fmt"
	"time"
)

// AppendEvent appends one record to the append-only event log. The content
// is already-marshaled JSON; the event layer owns payload validation.
func (s *Store) AppendEvent(ctx context.Context, ts time.Time, typ string, content []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, type, content) VALUES (?, ?, ?)`,
		ts.Unix(), typ, string(content),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", typ, err)
	}
	return nil
}

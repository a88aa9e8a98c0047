package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Appender is the durable sink for events (the SQLite events table).
type Appender interface {
	AppendEvent(ctx context.Context, ts time.Time, typ string, content []byte) error
}

// Publisher fans a committed event out to a live consumer (Redis channel,
// WebSocket hub). Publishing is best-effort: a slow or down consumer must
// never fail the emit.
type Publisher interface {
	PublishEvent(typ string, envelope []byte)
}

// Envelope is the wire format handed to publishers.
type Envelope struct {
	TS      string          `json:"ts"`
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Log validates, persists and fans out events.
type Log struct {
	appender Appender
	pubs     []Publisher
	logger   *slog.Logger
	now      func() time.Time

	// OnEmit, when set, is called once per successfully appended event
	// (metrics hook).
	OnEmit func(typ string)
}

// New creates an event log writing through the given appender.
func New(appender Appender, logger *slog.Logger, pubs ...Publisher) *Log {
	return &Log{
		appender: appender,
		pubs:     pubs,
		logger:   logger,
		now:      time.Now,
	}
}

// Emit appends one event. The payload's own type tag decides the event type,
// so callers cannot mislabel a record. Append failures are returned to the
// caller (the enclosing cycle is abandoned on persistence errors); fan-out
// failures are swallowed.
func (l *Log) Emit(ctx context.Context, p Payload) error {
	if p == nil {
		return fmt.Errorf("eventlog: nil payload")
	}
	content, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s payload: %w", p.EventType(), err)
	}

	ts := l.now().UTC()
	typ := p.EventType()

	if err := l.appender.AppendEvent(ctx, ts, string(typ), content); err != nil {
		l.logger.Error("event append failed", "type", typ, "err", err)
		return err
	}
	if l.OnEmit != nil {
		l.OnEmit(string(typ))
	}

	if len(l.pubs) > 0 {
		envelope, err := json.Marshal(Envelope{
			TS:      ts.Format(time.RFC3339Nano),
			Type:    typ,
			Content: content,
		})
		if err == nil {
			for _, pub := range l.pubs {
				pub.PublishEvent(string(typ), envelope)
			}
		}
	}
	return nil
}

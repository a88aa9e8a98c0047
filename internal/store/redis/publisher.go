// Package redis fans committed events out to a Redis channel for the
// external dashboard. Publishing runs through a circuit breaker with local
// buffering, so a Redis outage never blocks or fails a trading cycle.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const defaultMaxBuffer = 10000

// PublisherConfig configures the event publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string // pub/sub channel events are published to
}

// Publisher publishes event envelopes to a Redis channel.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	channel string

	mu     sync.Mutex
	buffer [][]byte
	maxBuf int

	// Callbacks (metrics hooks).
	OnBuffer func()          // a publish was buffered during open state
	OnFlush  func(count int) // buffered publishes were flushed
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher connects to Redis and wires the circuit breaker. Buffered
// envelopes are flushed automatically when the breaker closes again.
func NewPublisher(cfg PublisherConfig, cb *CircuitBreaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &Publisher{
		client:  client,
		cb:      cb,
		channel: cfg.Channel,
		buffer:  make([][]byte, 0, 256),
		maxBuf:  defaultMaxBuffer,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}

	log.Printf("[redis] connected to %s, publishing on %q", cfg.Addr, cfg.Channel)
	return p, nil
}

// PublishEvent publishes one envelope through the circuit breaker. With the
// breaker open the envelope is buffered locally (oldest dropped past maxBuf)
// and replayed once Redis comes back. Never returns an error to the caller;
// the event log treats fan-out as best-effort.
func (p *Publisher) PublishEvent(typ string, envelope []byte) {
	err := p.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return p.client.Publish(ctx, p.channel, envelope).Err()
	})
	if err == nil {
		return
	}
	if err == ErrCircuitOpen {
		p.bufferPublish(envelope)
		return
	}
	log.Printf("[redis] publish %s failed: %v", typ, err)
}

func (p *Publisher) bufferPublish(envelope []byte) {
	cp := make([]byte, len(envelope))
	copy(cp, envelope)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, cp)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays all buffered envelopes.
func (p *Publisher) flush() {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = make([][]byte, 0, 256)
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent := 0
	for _, envelope := range pending {
		if err := p.client.Publish(ctx, p.channel, envelope).Err(); err != nil {
			log.Printf("[redis] flush aborted after %d envelopes: %v", sent, err)
			break
		}
		sent++
	}

	log.Printf("[redis] flushed %d buffered envelopes", sent)
	if p.OnFlush != nil {
		p.OnFlush(sent)
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error { return p.client.Close() }

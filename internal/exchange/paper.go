package exchange

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// PriceSource supplies current prices for paper valuation — in practice the
// latest row of the stored price history.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, bool, error)
}

// PaperClient simulates an exchange account without broker calls. Used
// whenever API keys are absent; withdrawals are logged, never sent.
type PaperClient struct {
	prices PriceSource

	mu    sync.Mutex
	value float64
}

// NewPaperClient creates a paper account with the given starting USD value.
func NewPaperClient(startValue float64, prices PriceSource) *PaperClient {
	return &PaperClient{
		prices: prices,
		value:  startValue,
	}
}

func (p *PaperClient) AccountValue(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, nil
}

// SetAccountValue overrides the simulated account value (tests, manual
// paper-mode adjustments).
func (p *PaperClient) SetAccountValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
}

func (p *PaperClient) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	price, ok, err := p.prices.LatestPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: paper spot price: %v", ErrExecutionFailed, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no stored price for %q", ErrExecutionFailed, symbol)
	}
	return price, nil
}

// Withdraw simulates a withdrawal by deducting its USD value from the paper
// account and logging it.
func (p *PaperClient) Withdraw(ctx context.Context, amount float64, currency, address string) error {
	price, err := p.SpotPrice(ctx, currency)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.value -= amount * price
	p.mu.Unlock()

	log.Printf("[exchange] PAPER withdrawal of %.8f %s to %s (%.2f USD)",
		amount, currency, address, amount*price)
	return nil
}

// Package exchange is the boundary to the real exchange. The core only
// decides what to do; order placement, connectivity and authentication live
// behind this interface and are stubbed out here.
package exchange

import (
	"context"
	"errors"
)

// ErrExecutionFailed wraps any failure reported by the exchange collaborator.
// Withdrawal call sites must catch it and leave pending state in place so the
// next cycle retries.
var ErrExecutionFailed = errors.New("exchange: execution failed")

// Client is the surface the finance manager needs from an exchange.
type Client interface {
	// AccountValue returns the total account value in USD.
	AccountValue(ctx context.Context) (float64, error)

	// SpotPrice returns the current USD price of one unit of symbol.
	SpotPrice(ctx context.Context, symbol string) (float64, error)

	// Withdraw sends amount units of currency to address.
	Withdraw(ctx context.Context, amount float64, currency, address string) error
}

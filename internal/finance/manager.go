// Package finance implements the profit distribution state machine: a
// monotonic high-water mark over account value, scheduled profit recognition
// with a tax-provision split, and pending-withdrawal recovery when no payout
// address is configured or a payout fails.
package finance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/exchange"
)

// Persisted key/value store keys.
const (
	KeyHighWaterMark     = "high_water_mark"
	KeyTotalTaxProvision = "total_tax_provision"
	KeyPendingAmountUSD  = "pending_withdrawal_amount_usd"
	KeyPendingCurrency   = "pending_withdrawal_currency"
	KeyLastCheck         = "last_withdrawal_check"
	KeyWithdrawalAddress = "user_withdrawal_address"
	KeyWithdrawalCcy     = "user_withdrawal_currency"
	KeyTaxPercentage     = "tax_provision_percentage"
)

const dateLayout = "2006-01-02"

// KV is the persisted key/value surface the manager mutates. Values are
// string-encoded; numbers round-trip through standard decimal text.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// Config holds the fixed distribution policy.
type Config struct {
	// DistributionFraction of profit above the high-water mark that gets
	// distributed at all (the rest stays compounding).
	DistributionFraction float64
	// WithdrawalDays are the calendar days-of-month on which the
	// scheduled check runs.
	WithdrawalDays []int
	// DefaultCurrency is used when the user has not chosen one.
	DefaultCurrency string
	// DefaultTaxPct applies when tax_provision_percentage is unset.
	DefaultTaxPct float64
}

// Manager runs one profit-distribution pass per scheduler cycle.
type Manager struct {
	kv     KV
	ex     exchange.Client
	events *eventlog.Log
	cfg    Config
	logger *slog.Logger

	// OnState, when set, receives the persisted state after each cycle
	// (metrics hook): high-water mark, total tax provision, pending USD.
	OnState func(hwm, taxTotal, pendingUSD float64)
	// OnWithdrawal fires after an executed withdrawal (metrics, alerts).
	OnWithdrawal func(amountUSD float64, currency string)
}

// New creates a Manager.
func New(kv KV, ex exchange.Client, events *eventlog.Log, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{kv: kv, ex: ex, events: events, cfg: cfg, logger: logger}
}

// RunCycle executes one pass of the state machine:
//
//  1. Pending-withdrawal drain, unconditionally, before any day gating.
//  2. Scheduled check, only on configured calendar days and at most once per
//     day (last_withdrawal_check compared as a literal date string).
//  3. Above the high-water mark, profit is recognized, split into tax
//     provision and user share, and the mark is raised to the account value
//     BEFORE the payout attempt — a failed payout must never re-recognize
//     the same profit next cycle.
//  4. The user share is paid out immediately when an address exists,
//     otherwise persisted as the pending withdrawal.
//
// Every step persists independently, so an interrupted cycle resumes from
// whatever was last committed.
func (m *Manager) RunCycle(ctx context.Context, now time.Time) error {
	if err := m.drainPending(ctx); err != nil {
		return err
	}
	if err := m.scheduledCheck(ctx, now); err != nil {
		return err
	}
	m.reportState(ctx)
	return nil
}

// drainPending retries a previously parked withdrawal once an address exists.
// Without an address the pending state is left exactly as is.
func (m *Manager) drainPending(ctx context.Context) error {
	amountStr, ok, err := m.kv.GetValue(ctx, KeyPendingAmountUSD)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	address, ok, err := m.kv.GetValue(ctx, KeyWithdrawalAddress)
	if err != nil {
		return err
	}
	if !ok || address == "" {
		return nil
	}

	amountUSD, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return fmt.Errorf("finance: corrupt pending amount %q: %w", amountStr, err)
	}

	currency := m.cfg.DefaultCurrency
	if v, ok, err := m.kv.GetValue(ctx, KeyPendingCurrency); err != nil {
		return err
	} else if ok {
		currency = v
	}

	if err := m.payOut(ctx, amountUSD, currency, address, "Pending withdrawal executed."); err != nil {
		// Recoverable: keys stay in place, next cycle retries.
		m.logger.Warn("pending withdrawal retry failed", "err", err)
		return nil
	}

	if err := m.kv.DeleteValue(ctx, KeyPendingAmountUSD); err != nil {
		return err
	}
	return m.kv.DeleteValue(ctx, KeyPendingCurrency)
}

func (m *Manager) scheduledCheck(ctx context.Context, now time.Time) error {
	if !m.isWithdrawalDay(now) {
		return nil
	}

	today := now.UTC().Format(dateLayout)
	last, ok, err := m.kv.GetValue(ctx, KeyLastCheck)
	if err != nil {
		return err
	}
	if ok && last == today {
		// Idempotent within the day.
		return nil
	}

	accountValue, err := m.ex.AccountValue(ctx)
	if err != nil {
		return fmt.Errorf("finance: account value: %w", err)
	}

	hwmStr, ok, err := m.kv.GetValue(ctx, KeyHighWaterMark)
	if err != nil {
		return err
	}
	if !ok {
		// First ever check: record the baseline, no profit to recognize.
		if err := m.setFloat(ctx, KeyHighWaterMark, accountValue); err != nil {
			return err
		}
		if err := m.events.Emit(ctx, eventlog.FinancePayload{
			Status:        "High-water mark initialized.",
			AccountValue:  accountValue,
			HighWaterMark: accountValue,
		}); err != nil {
			return err
		}
		return m.kv.SetValue(ctx, KeyLastCheck, today)
	}

	hwm, err := strconv.ParseFloat(hwmStr, 64)
	if err != nil {
		return fmt.Errorf("finance: corrupt high-water mark %q: %w", hwmStr, err)
	}

	if accountValue > hwm {
		if err := m.recognizeProfit(ctx, accountValue, hwm); err != nil {
			return err
		}
	} else {
		if err := m.events.Emit(ctx, eventlog.FinancePayload{
			Status:        "No new profit above high-water mark.",
			AccountValue:  accountValue,
			HighWaterMark: hwm,
		}); err != nil {
			return err
		}
	}

	return m.kv.SetValue(ctx, KeyLastCheck, today)
}

// recognizeProfit splits the distributable slice of the surplus and raises
// the high-water mark before attempting the payout.
func (m *Manager) recognizeProfit(ctx context.Context, accountValue, hwm float64) error {
	surplus := accountValue - hwm
	distributable := surplus * m.cfg.DistributionFraction

	taxRate := m.taxRate(ctx)
	taxProvision := distributable * taxRate
	userShare := distributable - taxProvision

	taxTotal, err := m.getFloat(ctx, KeyTotalTaxProvision, 0)
	if err != nil {
		return err
	}
	if err := m.setFloat(ctx, KeyTotalTaxProvision, taxTotal+taxProvision); err != nil {
		return err
	}

	// Mark first. If everything after this fails, the profit is never
	// recognized twice; the payout survives only through the pending path.
	if err := m.setFloat(ctx, KeyHighWaterMark, accountValue); err != nil {
		return err
	}

	m.logger.Info("profit recognized",
		"account_value", accountValue,
		"previous_hwm", hwm,
		"distributable", distributable,
		"tax_provision", taxProvision,
		"user_share", userShare)

	if err := m.events.Emit(ctx, eventlog.FinancePayload{
		Status:        "Profit recognized above high-water mark.",
		AmountUSD:     userShare,
		AccountValue:  accountValue,
		HighWaterMark: accountValue,
		TaxProvision:  taxProvision,
	}); err != nil {
		return err
	}

	currency := m.withdrawalCurrency(ctx)
	address, hasAddr, err := m.kv.GetValue(ctx, KeyWithdrawalAddress)
	if err != nil {
		return err
	}

	if hasAddr && address != "" {
		if err := m.payOut(ctx, userShare, currency, address, "Scheduled withdrawal executed."); err == nil {
			return nil
		}
		// Fall through to pend the share so the drain path retries it.
		m.logger.Warn("scheduled withdrawal failed, parking as pending")
	}

	if err := m.setFloat(ctx, KeyPendingAmountUSD, userShare); err != nil {
		return err
	}
	if err := m.kv.SetValue(ctx, KeyPendingCurrency, currency); err != nil {
		return err
	}
	return m.events.Emit(ctx, eventlog.FinancePayload{
		Status:    "Withdrawal pending until an address is configured.",
		AmountUSD: userShare,
		Currency:  currency,
	})
}

// payOut converts a USD amount at the current spot price and executes the
// withdrawal. Exchange failures are logged and returned for the caller to
// park or retry.
func (m *Manager) payOut(ctx context.Context, amountUSD float64, currency, address, status string) error {
	price, err := m.ex.SpotPrice(ctx, currency)
	if err != nil || price <= 0 {
		if err == nil {
			err = fmt.Errorf("%w: non-positive price for %q", exchange.ErrExecutionFailed, currency)
		}
		m.emitError(ctx, err)
		return err
	}

	amountCrypto := amountUSD / price
	if err := m.ex.Withdraw(ctx, amountCrypto, currency, address); err != nil {
		m.emitError(ctx, err)
		return err
	}
	if m.OnWithdrawal != nil {
		m.OnWithdrawal(amountUSD, currency)
	}

	return m.events.Emit(ctx, eventlog.FinancePayload{
		Status:       status,
		AmountUSD:    amountUSD,
		AmountCrypto: amountCrypto,
		Currency:     currency,
		Address:      address,
	})
}

func (m *Manager) emitError(ctx context.Context, cause error) {
	if err := m.events.Emit(ctx, eventlog.ErrorPayload{
		Component: "finance",
		Error:     cause.Error(),
	}); err != nil {
		m.logger.Error("error event emit failed", "err", err)
	}
}

func (m *Manager) isWithdrawalDay(now time.Time) bool {
	day := now.UTC().Day()
	for _, d := range m.cfg.WithdrawalDays {
		if d == day {
			return true
		}
	}
	return false
}

// taxRate reads the user-configured tax percentage, falling back to the
// policy default. Corrupt values also fall back rather than halting payouts.
func (m *Manager) taxRate(ctx context.Context) float64 {
	pct := m.cfg.DefaultTaxPct
	if v, ok, err := m.kv.GetValue(ctx, KeyTaxPercentage); err == nil && ok {
		if parsed, perr := strconv.ParseFloat(v, 64); perr == nil && parsed >= 0 && parsed <= 100 {
			pct = parsed
		}
	}
	return pct / 100
}

func (m *Manager) withdrawalCurrency(ctx context.Context) string {
	if v, ok, err := m.kv.GetValue(ctx, KeyWithdrawalCcy); err == nil && ok && v != "" {
		return v
	}
	return m.cfg.DefaultCurrency
}

func (m *Manager) getFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	v, ok, err := m.kv.GetValue(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("finance: corrupt value %q for %s: %w", v, key, err)
	}
	return f, nil
}

func (m *Manager) setFloat(ctx context.Context, key string, v float64) error {
	return m.kv.SetValue(ctx, key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (m *Manager) reportState(ctx context.Context) {
	if m.OnState == nil {
		return
	}
	hwm, _ := m.getFloat(ctx, KeyHighWaterMark, 0)
	tax, _ := m.getFloat(ctx, KeyTotalTaxProvision, 0)
	pending, _ := m.getFloat(ctx, KeyPendingAmountUSD, 0)
	m.OnState(hwm, tax, pending)
}

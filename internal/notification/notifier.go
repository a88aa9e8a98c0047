// Package notification delivers alerts about promotions and withdrawals to
// external channels (Telegram, webhooks).
package notification

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Event kinds carried by alerts. Backends use these to pick formatting and
// downstream consumers use them for routing.
const (
	EventPromotion  = "strategy_promotion"
	EventWithdrawal = "profit_withdrawal"
)

// Alert represents a notification to be sent. Fields carries the structured
// detail (windows, amounts) so webhook consumers don't have to parse Message.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Event   string            `json:"event,omitempty"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// fieldKeys returns the field names in stable order.
func (a Alert) fieldKeys() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s %s: %s", alert.Level, alert.Event, alert.Title, alert.Message)
	return nil
}

// Multi fans one alert out to several backends. Delivery is best-effort per
// backend; the first error is returned after all sends were attempted.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m.backends {
		if err := n.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PromotionAlert builds the alert sent when a tournament promotes new rules.
func PromotionAlert(winnerID string, trendWindow, momentumWindow int, performance float64) Alert {
	return Alert{
		Level: AlertInfo,
		Event: EventPromotion,
		Title: "New strategy promoted",
		Message: fmt.Sprintf("Winner %s is now live (trend=%d, momentum=%d, recent score %.4f)",
			winnerID, trendWindow, momentumWindow, performance),
		Fields: map[string]string{
			"winner":          winnerID,
			"trend_window":    strconv.Itoa(trendWindow),
			"momentum_window": strconv.Itoa(momentumWindow),
			"recent_score":    strconv.FormatFloat(performance, 'f', 4, 64),
		},
	}
}

// WithdrawalAlert builds the alert sent after a withdrawal was handed to the
// exchange.
func WithdrawalAlert(amountUSD float64, currency string) Alert {
	return Alert{
		Level:   AlertInfo,
		Event:   EventWithdrawal,
		Title:   "Profit withdrawal executed",
		Message: fmt.Sprintf("Sent %.2f USD as %s to the configured address", amountUSD, currency),
		Fields: map[string]string{
			"amount_usd": strconv.FormatFloat(amountUSD, 'f', 2, 64),
			"currency":   currency,
		},
	}
}

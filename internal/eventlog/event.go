// Package eventlog is the append-only event stream consumed by the external
// dashboard. Every event type carries an explicit payload struct, validated
// at the append boundary; the core never reads events back.
package eventlog

// Type tags an event record.
type Type string

const (
	TypeStatus        Type = "STATUS"
	TypeTrade         Type = "TRADE"
	TypeInsight       Type = "INSIGHT"
	TypeFinance       Type = "FINANCE"
	TypeError         Type = "ERROR"
	TypeRefinerStatus Type = "REFINER_STATUS"
)

// Payload is implemented by every event payload struct. The type tag comes
// from the payload itself so a payload can never be logged under the wrong
// event type.
type Payload interface {
	EventType() Type
}

// StatusPayload reports scheduler lifecycle and per-cycle status.
type StatusPayload struct {
	Status string `json:"status"`
}

func (StatusPayload) EventType() Type { return TypeStatus }

// TradePayload journals one (simulated) position switch together with the
// rule windows that were in force.
type TradePayload struct {
	AssetBought    string  `json:"asset_bought"`
	AssetSold      string  `json:"asset_sold"`
	ProfitLossPct  float64 `json:"profit_loss_pct"`
	TrendWindow    int     `json:"trend_window_used"`
	MomentumWindow int     `json:"momentum_window_used"`
}

func (TradePayload) EventType() Type { return TypeTrade }

// InsightPayload carries free-form analysis notes for the dashboard.
type InsightPayload struct {
	Message string `json:"message"`
}

func (InsightPayload) EventType() Type { return TypeInsight }

// FinancePayload records profit-distribution activity. Zero-valued fields
// are omitted so each finance event only names what actually happened.
type FinancePayload struct {
	Status        string  `json:"status"`
	AmountUSD     float64 `json:"amount_usd,omitempty"`
	AmountCrypto  float64 `json:"amount_crypto,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Address       string  `json:"address,omitempty"`
	AccountValue  float64 `json:"account_value,omitempty"`
	HighWaterMark float64 `json:"high_water_mark,omitempty"`
	TaxProvision  float64 `json:"tax_provision,omitempty"`
}

func (FinancePayload) EventType() Type { return TypeFinance }

// ErrorPayload surfaces a caught per-cycle failure.
type ErrorPayload struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ErrorPayload) EventType() Type { return TypeError }

// RefinerStatusPayload marks tournament start/finish. WinnerID is either a
// Hall of Fame id or the challenger sentinel.
type RefinerStatusPayload struct {
	Status      string  `json:"status"`
	WinnerID    string  `json:"winner_id,omitempty"`
	Performance float64 `json:"performance,omitempty"`
}

func (RefinerStatusPayload) EventType() Type { return TypeRefinerStatus }

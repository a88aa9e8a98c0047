// Package api provides the HTTP control surface for a running trader: the
// operator reads tournament state and adjusts the keys the cycle consumes
// (withdrawal address, tax rate, forced refinement). All writes go through
// the key/value store, never directly into the running components.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"oracle-traderv1/internal/finance"
	"oracle-traderv1/internal/model"
	"oracle-traderv1/internal/scheduler"
)

// Store is the persistence surface the control API reads and writes.
type Store interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	Nominate(ctx context.Context, k int) ([]model.Configuration, error)
	LoadLiveRules(ctx context.Context) (model.RuleSet, bool, error)
}

// Settings is the operator-tunable subset of the key/value store.
type Settings struct {
	WithdrawalAddress  *string  `json:"withdrawal_address,omitempty"`
	WithdrawalCurrency *string  `json:"withdrawal_currency,omitempty"`
	TaxPct             *float64 `json:"tax_provision_percentage,omitempty"`
	RefineEvery        *int     `json:"refinement_interval,omitempty"`
}

// NewRouter sets up the control API routes.
func NewRouter(store Store, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rules, ok, err := store.LoadLiveRules(r.Context())
		if err != nil {
			logger.Error("load live rules", "err", err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			Promoted bool          `json:"promoted"`
			Rules    model.RuleSet `json:"rules"`
		}{ok, rules})
	})

	mux.HandleFunc("/api/v1/halloffame", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		configs, err := store.Nominate(r.Context(), limit)
		if err != nil {
			logger.Error("nominate", "err", err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if configs == nil {
			configs = []model.Configuration{}
		}
		writeJSON(w, configs)
	})

	mux.HandleFunc("/api/v1/finance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		out := map[string]string{}
		for _, key := range []string{
			finance.KeyHighWaterMark,
			finance.KeyTotalTaxProvision,
			finance.KeyPendingAmountUSD,
			finance.KeyPendingCurrency,
			finance.KeyLastCheck,
			finance.KeyWithdrawalAddress,
			finance.KeyWithdrawalCcy,
			finance.KeyTaxPercentage,
		} {
			v, ok, err := store.GetValue(r.Context(), key)
			if err != nil {
				logger.Error("kv read", "key", key, "err", err)
				http.Error(w, "store error", http.StatusInternalServerError)
				return
			}
			if ok {
				out[key] = v
			}
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var s Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if s.TaxPct != nil && (*s.TaxPct < 0 || *s.TaxPct > 100) {
			http.Error(w, "tax percentage must be within [0, 100]", http.StatusBadRequest)
			return
		}
		if s.RefineEvery != nil && *s.RefineEvery <= 0 {
			http.Error(w, "refinement interval must be positive", http.StatusBadRequest)
			return
		}

		writes := map[string]string{}
		if s.WithdrawalAddress != nil {
			writes[finance.KeyWithdrawalAddress] = *s.WithdrawalAddress
		}
		if s.WithdrawalCurrency != nil {
			writes[finance.KeyWithdrawalCcy] = *s.WithdrawalCurrency
		}
		if s.TaxPct != nil {
			writes[finance.KeyTaxPercentage] = strconv.FormatFloat(*s.TaxPct, 'f', -1, 64)
		}
		if s.RefineEvery != nil {
			writes[scheduler.KeyRefinementInterval] = strconv.Itoa(*s.RefineEvery)
		}
		for key, value := range writes {
			if err := store.SetValue(r.Context(), key, value); err != nil {
				logger.Error("kv write", "key", key, "err", err)
				http.Error(w, "store error", http.StatusInternalServerError)
				return
			}
		}
		logger.Info("settings updated", "keys", len(writes))
		writeJSON(w, map[string]int{"updated": len(writes)})
	})

	mux.HandleFunc("/api/v1/refine", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := store.SetValue(r.Context(), scheduler.KeyForceRefinement, "true"); err != nil {
			logger.Error("set force refinement", "err", err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		logger.Info("refinement requested via api")
		writeJSON(w, map[string]string{"status": "refinement scheduled for next cycle"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"oracle-traderv1/internal/finance"
	"oracle-traderv1/internal/model"
	"oracle-traderv1/internal/scheduler"
)

type fakeStore struct {
	kv      map[string]string
	council []model.Configuration
	live    *model.RuleSet
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string]string{}} }

func (f *fakeStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *fakeStore) SetValue(ctx context.Context, key, value string) error {
	f.kv[key] = value
	return nil
}

func (f *fakeStore) Nominate(ctx context.Context, k int) ([]model.Configuration, error) {
	if k > len(f.council) {
		k = len(f.council)
	}
	return f.council[:k], nil
}

func (f *fakeStore) LoadLiveRules(ctx context.Context) (model.RuleSet, bool, error) {
	if f.live == nil {
		return model.RuleSet{}, false, nil
	}
	return *f.live, true, nil
}

func newTestRouter(store *fakeStore) *http.ServeMux {
	return NewRouter(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRulesEndpoint(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Promoted bool          `json:"promoted"`
		Rules    model.RuleSet `json:"rules"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Promoted {
		t.Error("no promotion yet, promoted should be false")
	}

	store.live = &model.RuleSet{TrendWindow: 60, MomentumWindow: 30}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil))
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Promoted || got.Rules.TrendWindow != 60 {
		t.Errorf("got %+v, want promoted {60 30}", got)
	}
}

func TestHallOfFameEndpoint(t *testing.T) {
	store := newFakeStore()
	store.council = []model.Configuration{
		{ID: 1, TrendWindow: 50, MomentumWindow: 20, BacktestScore: 1.2},
		{ID: 2, TrendWindow: 30, MomentumWindow: 10, BacktestScore: 1.1},
	}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/halloffame?limit=1", nil))
	var got []model.Configuration
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("got %+v, want the top entry only", got)
	}

	// Empty Hall of Fame serializes as an empty array, not null.
	store.council = nil
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/halloffame", nil))
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty body = %q, want []", body)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	body := `{"withdrawal_address":"bc1qtestaddr","tax_provision_percentage":25,"refinement_interval":12}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if store.kv[finance.KeyWithdrawalAddress] != "bc1qtestaddr" {
		t.Errorf("address = %q", store.kv[finance.KeyWithdrawalAddress])
	}
	if store.kv[finance.KeyTaxPercentage] != "25" {
		t.Errorf("tax pct = %q, want 25", store.kv[finance.KeyTaxPercentage])
	}
	if store.kv[scheduler.KeyRefinementInterval] != "12" {
		t.Errorf("refinement interval = %q, want 12", store.kv[scheduler.KeyRefinementInterval])
	}
}

func TestSettingsValidation(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	tests := []string{
		`{"tax_provision_percentage":150}`,
		`{"refinement_interval":0}`,
		`not json`,
	}
	for _, body := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	if len(store.kv) != 0 {
		t.Errorf("rejected settings wrote keys: %v", store.kv)
	}
}

func TestRefineEndpoint(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refine", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.kv[scheduler.KeyForceRefinement] != "true" {
		t.Errorf("force flag = %q, want true", store.kv[scheduler.KeyForceRefinement])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/refine", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestFinanceEndpoint(t *testing.T) {
	store := newFakeStore()
	store.kv[finance.KeyHighWaterMark] = "12000"
	store.kv[finance.KeyPendingAmountUSD] = "800"
	store.kv["unrelated"] = "hidden"
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/finance", nil))
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[finance.KeyHighWaterMark] != "12000" || got[finance.KeyPendingAmountUSD] != "800" {
		t.Errorf("got %v", got)
	}
	if _, ok := got["unrelated"]; ok {
		t.Error("finance view leaked an unrelated key")
	}
}

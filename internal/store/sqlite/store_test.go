package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"oracle-traderv1/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyValueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetValue(ctx, "missing"); err != nil || ok {
		t.Fatalf("absent key: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	if err := s.SetValue(ctx, "high_water_mark", "10000.5"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	v, ok, err := s.GetValue(ctx, "high_water_mark")
	if err != nil || !ok || v != "10000.5" {
		t.Fatalf("GetValue = (%q, %v, %v), want (10000.5, true, nil)", v, ok, err)
	}

	// Upsert overwrites.
	if err := s.SetValue(ctx, "high_water_mark", "12000"); err != nil {
		t.Fatalf("SetValue overwrite: %v", err)
	}
	v, _, _ = s.GetValue(ctx, "high_water_mark")
	if v != "12000" {
		t.Errorf("after overwrite = %q, want 12000", v)
	}

	if err := s.DeleteValue(ctx, "high_water_mark"); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if _, ok, _ := s.GetValue(ctx, "high_water_mark"); ok {
		t.Error("key survived delete")
	}
	// Deleting an absent key is a no-op.
	if err := s.DeleteValue(ctx, "high_water_mark"); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

func TestInsertConfigurationAssignsIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := model.Configuration{TrendWindow: 50, MomentumWindow: 20, BacktestScore: 1.1}
	if err := s.InsertConfiguration(ctx, &first); err != nil {
		t.Fatalf("InsertConfiguration: %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Errorf("insert left id=%d created=%v unset", first.ID, first.CreatedAt)
	}

	second := model.Configuration{TrendWindow: 30, MomentumWindow: 10, BacktestScore: 0.9}
	if err := s.InsertConfiguration(ctx, &second); err != nil {
		t.Fatalf("InsertConfiguration: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids not monotonically assigned: %d then %d", first.ID, second.ID)
	}
}

func TestNominateOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Combined scores: a=1.5, b=2.0, c=1.5 (ties with a, inserted later).
	a := model.Configuration{TrendWindow: 20, MomentumWindow: 10, BacktestScore: 1.0, ShadowScore: 0.5}
	b := model.Configuration{TrendWindow: 30, MomentumWindow: 15, BacktestScore: 1.2, ShadowScore: 0.8}
	c := model.Configuration{TrendWindow: 40, MomentumWindow: 20, BacktestScore: 0.5, ShadowScore: 1.0}
	for _, cfg := range []*model.Configuration{&a, &b, &c} {
		if err := s.InsertConfiguration(ctx, cfg); err != nil {
			t.Fatalf("InsertConfiguration: %v", err)
		}
	}

	got, err := s.Nominate(ctx, 3)
	if err != nil {
		t.Fatalf("Nominate: %v", err)
	}
	wantIDs := []int64{b.ID, a.ID, c.ID}
	if len(got) != 3 {
		t.Fatalf("Nominate returned %d rows, want 3", len(got))
	}
	for i, w := range wantIDs {
		if got[i].ID != w {
			t.Errorf("rank %d = id %d, want id %d", i, got[i].ID, w)
		}
	}

	// LIMIT applies after ordering.
	top, err := s.Nominate(ctx, 1)
	if err != nil || len(top) != 1 || top[0].ID != b.ID {
		t.Errorf("Nominate(1) = %+v (err %v), want just id %d", top, err, b.ID)
	}
}

func TestNominateEmptyAndNonPositive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.Nominate(ctx, 5)
	if err != nil {
		t.Fatalf("Nominate on empty table: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty table yielded %d rows", len(got))
	}

	if got, err := s.Nominate(ctx, 0); err != nil || got != nil {
		t.Errorf("Nominate(0) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestUpdateShadowScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := model.Configuration{TrendWindow: 20, MomentumWindow: 10, BacktestScore: 1.0}
	if err := s.InsertConfiguration(ctx, &cfg); err != nil {
		t.Fatalf("InsertConfiguration: %v", err)
	}

	if err := s.UpdateShadowScore(ctx, cfg.ID, 2.5); err != nil {
		t.Fatalf("UpdateShadowScore: %v", err)
	}
	got, err := s.Nominate(ctx, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("Nominate: %v (%d rows)", err, len(got))
	}
	if got[0].ShadowScore != 2.5 {
		t.Errorf("shadow score = %v, want 2.5", got[0].ShadowScore)
	}

	if err := s.UpdateShadowScore(ctx, 9999, 1.0); err == nil {
		t.Error("updating a missing configuration should error")
	}
}

func TestPriceHistoryPivot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []map[string]float64{
		{"btc": 100, "eth": 50},
		{"btc": 102, "eth": 51},
		{"btc": 99, "eth": 52},
	}
	for i, row := range rows {
		if err := s.InsertPriceRow(ctx, base.Add(time.Duration(i)*time.Hour), row); err != nil {
			t.Fatalf("InsertPriceRow %d: %v", i, err)
		}
	}
	// Partial period: only btc has a price, the loader must skip it.
	if err := s.InsertPriceRow(ctx, base.Add(3*time.Hour), map[string]float64{"btc": 101}); err != nil {
		t.Fatalf("InsertPriceRow partial: %v", err)
	}

	series, err := s.LoadPriceSeries(ctx)
	if err != nil {
		t.Fatalf("LoadPriceSeries: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (partial row skipped)", series.Len())
	}
	if len(series.Symbols) != 2 || series.Symbols[0] != "btc" || series.Symbols[1] != "eth" {
		t.Errorf("Symbols = %v, want alphabetical [btc eth]", series.Symbols)
	}
	if got := series.Price("eth", 2); got != 52 {
		t.Errorf("Price(eth, 2) = %v, want 52", got)
	}

	// Re-inserting a (ts, symbol) pair overwrites.
	if err := s.InsertPriceRow(ctx, base, map[string]float64{"btc": 200, "eth": 50}); err != nil {
		t.Fatalf("InsertPriceRow overwrite: %v", err)
	}
	series, err = s.LoadPriceSeries(ctx)
	if err != nil {
		t.Fatalf("LoadPriceSeries after overwrite: %v", err)
	}
	if got := series.Price("btc", 0); got != 200 {
		t.Errorf("overwritten price = %v, want 200", got)
	}
}

func TestLatestPrice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok, err := s.LatestPrice(ctx, "btc"); err != nil || ok {
		t.Fatalf("no history: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	s.InsertPriceRow(ctx, base, map[string]float64{"btc": 100})
	s.InsertPriceRow(ctx, base.Add(time.Hour), map[string]float64{"btc": 105})

	p, ok, err := s.LatestPrice(ctx, "btc")
	if err != nil || !ok || p != 105 {
		t.Errorf("LatestPrice = (%v, %v, %v), want (105, true, nil)", p, ok, err)
	}
}

func TestLiveRulesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadLiveRules(ctx); err != nil || ok {
		t.Fatalf("before promotion: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	if err := s.SaveLiveRules(ctx, model.RuleSet{TrendWindow: 60, MomentumWindow: 25}); err != nil {
		t.Fatalf("SaveLiveRules: %v", err)
	}
	// Promotion overwrites the single record.
	if err := s.SaveLiveRules(ctx, model.RuleSet{TrendWindow: 40, MomentumWindow: 15}); err != nil {
		t.Fatalf("SaveLiveRules overwrite: %v", err)
	}

	r, ok, err := s.LoadLiveRules(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadLiveRules: (ok=%v, err=%v)", ok, err)
	}
	if r.TrendWindow != 40 || r.MomentumWindow != 15 {
		t.Errorf("live rules = %+v, want {40 15}", r)
	}
}

func TestAppendEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.AppendEvent(ctx, ts, "STATUS", []byte(`{"status":"ok"}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	var gotTS int64
	var typ, content string
	err := s.DB().QueryRowContext(ctx, `SELECT ts, type, content FROM events`).Scan(&gotTS, &typ, &content)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if gotTS != ts.Unix() || typ != "STATUS" || content != `{"status":"ok"}` {
		t.Errorf("stored (%d, %q, %q), want (%d, STATUS, {\"status\":\"ok\"})", gotTS, typ, content, ts.Unix())
	}
}

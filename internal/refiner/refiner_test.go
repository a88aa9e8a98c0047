package refiner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"oracle-traderv1/internal/backtest"
	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/model"
)

type fakeStore struct {
	council   []model.Configuration
	inserted  []model.Configuration
	shadow    map[int64]float64
	updateErr error
}

func (f *fakeStore) Nominate(ctx context.Context, k int) ([]model.Configuration, error) {
	if k > len(f.council) {
		k = len(f.council)
	}
	out := make([]model.Configuration, k)
	copy(out, f.council[:k])
	return out, nil
}

func (f *fakeStore) UpdateShadowScore(ctx context.Context, id int64, score float64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.shadow == nil {
		f.shadow = map[int64]float64{}
	}
	f.shadow[id] = score
	return nil
}

func (f *fakeStore) InsertConfiguration(ctx context.Context, c *model.Configuration) error {
	c.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, *c)
	return nil
}

type memAppender struct {
	types []string
}

func (m *memAppender) AppendEvent(ctx context.Context, ts time.Time, typ string, content []byte) error {
	m.types = append(m.types, typ)
	return nil
}

func buildSeries(t *testing.T, cols map[string][]float64, symbols ...string) *model.PriceSeries {
	t.Helper()
	n := 0
	for _, col := range cols {
		n = len(col)
		break
	}
	ps := model.NewPriceSeries(symbols)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		row := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			row[sym] = cols[sym][i]
		}
		if err := ps.AppendRow(base.Add(time.Duration(i)*time.Hour), row); err != nil {
			t.Fatalf("append row %d: %v", i, err)
		}
	}
	return ps
}

// newTestRefiner pins the challenger draw by collapsing the sampling ranges
// to a single rule set.
func newTestRefiner(store *fakeStore, app *memAppender, trend, momentum int) *Refiner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := backtest.New(backtest.Config{RefSymbol: "btc", StableAsset: "usdt", FeeRate: 0.001})
	events := eventlog.New(app, logger)
	rng := rand.New(rand.NewSource(1))
	return New(store, engine, events, rng, Config{
		CouncilSize: 5,
		TrendMin:    trend, TrendMax: trend,
		MomentumMin: momentum, MomentumMax: momentum,
	}, logger)
}

func risingSeries(t *testing.T) *model.PriceSeries {
	return buildSeries(t, map[string][]float64{
		"btc": {100, 110, 121, 133.1, 146.41},
		"eth": {50, 50, 50, 50, 50},
	}, "btc", "eth")
}

func TestFindNewChampion_EmptyHallOfFamePromotesChallenger(t *testing.T) {
	store := &fakeStore{}
	app := &memAppender{}
	// Oversized windows: the challenger never trades and scores break-even.
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	rules, winner, err := r.FindNewChampion(context.Background(), series, series)
	if err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}

	if !winner.Challenger || winner.DisplayID() != ChallengerID {
		t.Errorf("winner = %+v, want the challenger", winner)
	}
	if rules.TrendWindow != 4 || rules.MomentumWindow != 4 {
		t.Errorf("promoted rules = %+v, want the pinned challenger draw {4 4}", rules)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inducted %d configurations, want 1", len(store.inserted))
	}
	got := store.inserted[0]
	if got.TrendWindow != 4 || got.MomentumWindow != 4 {
		t.Errorf("inducted windows = {%d %d}, want {4 4}", got.TrendWindow, got.MomentumWindow)
	}
	if got.ShadowScore != 0 {
		t.Errorf("inducted shadow score = %v, want 0 (fresh entry)", got.ShadowScore)
	}
	if got.BacktestScore == 0 {
		t.Error("inducted backtest score should carry the full-history run")
	}
	if winner.Configuration.ID != 1 {
		t.Errorf("winner should carry the assigned id, got %d", winner.Configuration.ID)
	}
}

func TestFindNewChampion_CouncilMemberBeatsChallenger(t *testing.T) {
	// The member's short windows ride the rising market; the pinned
	// challenger draw (4,4) never trades on a 5-period series.
	store := &fakeStore{council: []model.Configuration{
		{ID: 7, TrendWindow: 2, MomentumWindow: 1, BacktestScore: 1.3, ShadowScore: 5.0},
	}}
	app := &memAppender{}
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	rules, winner, err := r.FindNewChampion(context.Background(), series, series)
	if err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}

	if winner.Challenger {
		t.Fatalf("challenger won with performance %v, want council member 7", winner.LatestPerformance)
	}
	if winner.DisplayID() != "7" {
		t.Errorf("winner id = %s, want 7", winner.DisplayID())
	}
	if rules.TrendWindow != 2 || rules.MomentumWindow != 1 {
		t.Errorf("promoted rules = %+v, want member windows {2 1}", rules)
	}
	if len(store.inserted) != 0 {
		t.Error("a sitting member's win must not create a new entry")
	}

	// Shadow score accumulates on top of the stored value.
	updated, ok := store.shadow[7]
	if !ok {
		t.Fatal("member shadow score was not persisted")
	}
	if updated <= 5.0 {
		t.Errorf("shadow score = %v, want > 5.0 after a profitable pass", updated)
	}
	if math.Abs((updated-5.0)-winner.LatestPerformance) > 1e-12 {
		t.Errorf("shadow delta = %v, want the pass performance %v", updated-5.0, winner.LatestPerformance)
	}
}

func TestFindNewChampion_TieKeepsCouncilMember(t *testing.T) {
	// Member and challenger share the same never-trading windows, so both
	// score exactly break-even. Strict comparison keeps the member.
	store := &fakeStore{council: []model.Configuration{
		{ID: 3, TrendWindow: 4, MomentumWindow: 4, BacktestScore: 1.0},
	}}
	app := &memAppender{}
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	_, winner, err := r.FindNewChampion(context.Background(), series, series)
	if err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}
	if winner.Challenger {
		t.Error("tie must resolve to the sitting council member")
	}
	if winner.DisplayID() != "3" {
		t.Errorf("winner id = %s, want 3", winner.DisplayID())
	}
}

func TestFindNewChampion_BrokenMemberIsDropped(t *testing.T) {
	store := &fakeStore{council: []model.Configuration{
		{ID: 1, TrendWindow: 0, MomentumWindow: 0, BacktestScore: 99}, // corrupt windows
		{ID: 2, TrendWindow: 2, MomentumWindow: 1, BacktestScore: 1.2},
	}}
	app := &memAppender{}
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	_, winner, err := r.FindNewChampion(context.Background(), series, series)
	if err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}
	if winner.DisplayID() != "2" {
		t.Errorf("winner id = %s, want 2 (corrupt member dropped)", winner.DisplayID())
	}
	if _, touched := store.shadow[1]; touched {
		t.Error("corrupt member's shadow score must stay untouched")
	}
}

func TestFindNewChampion_PersistFailureKeepsMemberInRound(t *testing.T) {
	store := &fakeStore{
		council: []model.Configuration{
			{ID: 4, TrendWindow: 2, MomentumWindow: 1, BacktestScore: 1.2},
		},
		updateErr: errors.New("db locked"),
	}
	app := &memAppender{}
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	_, winner, err := r.FindNewChampion(context.Background(), series, series)
	if err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}
	if winner.DisplayID() != "4" {
		t.Errorf("winner id = %s, want 4 despite the persist failure", winner.DisplayID())
	}
}

func TestFindNewChampion_EmitsStartAndFinishEvents(t *testing.T) {
	store := &fakeStore{}
	app := &memAppender{}
	r := newTestRefiner(store, app, 4, 4)
	series := risingSeries(t)

	if _, _, err := r.FindNewChampion(context.Background(), series, series); err != nil {
		t.Fatalf("FindNewChampion: %v", err)
	}

	want := []string{string(eventlog.TypeRefinerStatus), string(eventlog.TypeRefinerStatus)}
	if len(app.types) != len(want) {
		t.Fatalf("emitted %v, want two REFINER_STATUS events", app.types)
	}
	for i, typ := range want {
		if app.types[i] != typ {
			t.Errorf("event[%d] = %s, want %s", i, app.types[i], typ)
		}
	}
}

func TestFindNewChampion_SeededDrawIsReproducible(t *testing.T) {
	series := risingSeries(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := backtest.New(backtest.Config{RefSymbol: "btc", StableAsset: "usdt", FeeRate: 0.001})
	cfg := Config{CouncilSize: 5, TrendMin: 20, TrendMax: 100, MomentumMin: 10, MomentumMax: 50}

	draw := func() model.RuleSet {
		store := &fakeStore{}
		r := New(store, engine, eventlog.New(&memAppender{}, logger), rand.New(rand.NewSource(42)), cfg, logger)
		rules, _, err := r.FindNewChampion(context.Background(), series, series)
		if err != nil {
			t.Fatalf("FindNewChampion: %v", err)
		}
		return rules
	}

	first, second := draw(), draw()
	if first != second {
		t.Errorf("same seed drew %+v then %+v", first, second)
	}
	if first.TrendWindow < 20 || first.TrendWindow > 100 {
		t.Errorf("trend window %d outside sampling bounds", first.TrendWindow)
	}
	if first.MomentumWindow < 10 || first.MomentumWindow > 50 {
		t.Errorf("momentum window %d outside sampling bounds", first.MomentumWindow)
	}
}

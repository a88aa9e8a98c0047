// cmd/refine runs one tournament round against the stored price history and
// promotes the winner's rules, without starting the cycle loop.
//
// Usage:
//
//	go run ./cmd/refine --db=data/oracle.db --recent=720 --seed=42
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"time"

	"oracle-traderv1/config"
	"oracle-traderv1/internal/backtest"
	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/logger"
	"oracle-traderv1/internal/refiner"
	sqlitestore "oracle-traderv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	recentWindow := flag.Int("recent", 0, "Trailing periods for the recent window (overrides config)")
	seed := flag.Int64("seed", 0, "Challenger RNG seed (0=time-based)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[refine] config load failed: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *recentWindow > 0 {
		cfg.Refiner.RecentWindow = *recentWindow
	}
	slogger := logger.Init("refine", slog.LevelInfo)

	store, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("[refine] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	series, err := store.LoadPriceSeries(ctx)
	if err != nil {
		log.Fatalf("[refine] load price history: %v", err)
	}
	if series.Len() == 0 {
		log.Fatal("[refine] no price history; run cmd/import first")
	}
	log.Printf("[refine] loaded %d periods across %d assets", series.Len(), len(series.Symbols))

	engine := backtest.New(backtest.Config{
		RefSymbol:   cfg.Strategy.ReferenceAsset,
		StableAsset: cfg.Strategy.StableAsset,
		FeeRate:     cfg.Strategy.FeeRate,
	})
	events := eventlog.New(store, slogger)

	seedVal := *seed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seedVal))

	ref := refiner.New(store, engine, events, rng, refiner.Config{
		CouncilSize: cfg.Refiner.CouncilSize,
		TrendMin:    cfg.Refiner.TrendMin,
		TrendMax:    cfg.Refiner.TrendMax,
		MomentumMin: cfg.Refiner.MomentumMin,
		MomentumMax: cfg.Refiner.MomentumMax,
	}, slogger)

	rules, winner, err := ref.FindNewChampion(ctx, series, series.Tail(cfg.Refiner.RecentWindow))
	if err != nil {
		log.Fatalf("[refine] tournament failed: %v", err)
	}

	if err := store.SaveLiveRules(ctx, rules); err != nil {
		log.Fatalf("[refine] saving promoted rules: %v", err)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        TOURNAMENT COMPLETE           ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Winner:          %-18s ║\n", winner.DisplayID())
	fmt.Printf("║  Trend window:    %-18d ║\n", rules.TrendWindow)
	fmt.Printf("║  Momentum window: %-18d ║\n", rules.MomentumWindow)
	fmt.Printf("║  Recent score:    %-18.6f ║\n", winner.LatestPerformance)
	fmt.Println("╚══════════════════════════════════════╝")
}

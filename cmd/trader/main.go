package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"oracle-traderv1/config"
	"oracle-traderv1/internal/api"
	"oracle-traderv1/internal/backtest"
	"oracle-traderv1/internal/eventlog"
	"oracle-traderv1/internal/exchange"
	"oracle-traderv1/internal/finance"
	"oracle-traderv1/internal/gateway"
	"oracle-traderv1/internal/logger"
	"oracle-traderv1/internal/metrics"
	"oracle-traderv1/internal/model"
	"oracle-traderv1/internal/notification"
	"oracle-traderv1/internal/refiner"
	"oracle-traderv1/internal/scheduler"
	redisstore "oracle-traderv1/internal/store/redis"
	sqlitestore "oracle-traderv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	configPath := flag.String("config", "config.yaml", "path to YAML config (missing file runs on defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[trader] config load failed: %v", err)
	}
	slogger := logger.Init("trader", slog.LevelInfo)

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store (single writer, WAL) ----
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()
	log.Printf("[trader] sqlite store ready at %s", cfg.DBPath)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.Redis.Enabled)
	health.SQLiteOK = true
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Redis event publisher (optional) ----
	var pub *redisstore.Publisher
	if cfg.Redis.Enabled {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}
		pub, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, cb)
		if err != nil {
			log.Printf("[trader] WARNING: redis init failed: %v (continuing without redis)", err)
			pub = nil
		} else {
			pub.OnBuffer = func() { prom.RedisBufferedPublishes.Inc() }
			pub.OnFlush = func(n int) { prom.RedisFlushedPublishes.Add(float64(n)) }
			log.Println("[trader] redis publisher ready")
		}
	}

	// ---- Periodic liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, store.DB(), pub.Client(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, store.DB(), nil, 10*time.Second)
	}

	// ---- Dashboard WebSocket hub ----
	hub := gateway.NewHub(256, slogger)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }

	mux := api.NewRouter(store, slogger)
	mux.HandleFunc("/ws", hub.ServeWS)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[trader] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[trader] gateway error: %v", err)
		}
	}()

	// ---- Event log (SQLite append + live fan-out) ----
	pubs := []eventlog.Publisher{hub}
	if pub != nil {
		pubs = append(pubs, pub)
	}
	events := eventlog.New(store, slogger, pubs...)
	events.OnEmit = func(typ string) { prom.EventsTotal.WithLabelValues(typ).Inc() }

	// ---- Exchange collaborator ----
	var ex exchange.Client
	if cfg.LiveMode() {
		live, err := exchange.NewLiveClient(exchange.LiveConfig{
			APIKey:     cfg.Exchange.APIKey,
			SecretKey:  cfg.Exchange.SecretKey,
			TOTPSecret: cfg.Exchange.TOTPSecret,
		})
		if err != nil {
			log.Fatalf("[trader] live exchange init failed: %v", err)
		}
		ex = live
		log.Println("[trader] LIVE exchange mode")
	} else {
		ex = exchange.NewPaperClient(cfg.Exchange.PaperValue, store)
		log.Printf("[trader] PAPER exchange mode (start value %.2f USD)", cfg.Exchange.PaperValue)
	}

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	notifier := notification.NewMulti(backends...)

	// ---- Finance manager ----
	financeMgr := finance.New(store, ex, events, finance.Config{
		DistributionFraction: cfg.Finance.DistributionFraction,
		WithdrawalDays:       cfg.Finance.WithdrawalDays,
		DefaultCurrency:      cfg.Finance.DefaultCurrency,
		DefaultTaxPct:        cfg.Finance.DefaultTaxPct,
	}, slogger)
	financeMgr.OnState = func(hwm, taxTotal, pendingUSD float64) {
		prom.HighWaterMark.Set(hwm)
		prom.TotalTaxProvision.Set(taxTotal)
		prom.PendingWithdrawalUSD.Set(pendingUSD)
	}
	financeMgr.OnWithdrawal = func(amountUSD float64, currency string) {
		prom.WithdrawalsExecuted.Inc()
		if err := notifier.Send(ctx, notification.WithdrawalAlert(amountUSD, currency)); err != nil {
			slogger.Warn("withdrawal alert failed", "err", err)
		}
	}

	// ---- Backtest engine & refiner ----
	engine := backtest.New(backtest.Config{
		RefSymbol:   cfg.Strategy.ReferenceAsset,
		StableAsset: cfg.Strategy.StableAsset,
		FeeRate:     cfg.Strategy.FeeRate,
	})
	engine.OnScore = func(d time.Duration) { prom.BacktestDur.Observe(d.Seconds()) }

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ref := refiner.New(store, engine, events, rng, refiner.Config{
		CouncilSize: cfg.Refiner.CouncilSize,
		TrendMin:    cfg.Refiner.TrendMin,
		TrendMax:    cfg.Refiner.TrendMax,
		MomentumMin: cfg.Refiner.MomentumMin,
		MomentumMax: cfg.Refiner.MomentumMax,
	}, slogger)

	// ---- Scheduler ----
	sched, err := scheduler.New(ctx, scheduler.Config{
		Interval:     cfg.Cycle.Interval,
		RefineEvery:  cfg.Cycle.RefineEvery,
		RecentWindow: cfg.Refiner.RecentWindow,
		RefSymbol:    cfg.Strategy.ReferenceAsset,
		StableAsset:  cfg.Strategy.StableAsset,
		DefaultRules: model.RuleSet{
			TrendWindow:    cfg.Cycle.DefaultTrendWindow,
			MomentumWindow: cfg.Cycle.DefaultMomentumWindow,
		},
	}, store, financeMgr, ref, events, slogger)
	if err != nil {
		log.Fatalf("[trader] scheduler init failed: %v", err)
	}
	sched.OnCycle = func(err error) {
		prom.CyclesTotal.Inc()
		if err != nil {
			prom.CycleErrorsTotal.Inc()
		}
		health.SetLastCycle(time.Now())
	}
	sched.OnRefinement = func(winnerID string) {
		prom.RefinementsTotal.Inc()
		if winnerID == refiner.ChallengerID {
			prom.ChallengerPromotions.Inc()
		}
	}
	sched.OnPromotion = func(rules model.RuleSet, winner refiner.Candidate) {
		alert := notification.PromotionAlert(winner.DisplayID(), rules.TrendWindow, rules.MomentumWindow, winner.LatestPerformance)
		if err := notifier.Send(ctx, alert); err != nil {
			slogger.Warn("promotion alert failed", "err", err)
		}
	}

	go sched.Run(ctx)
	log.Printf("[trader] cycle loop started (interval %s, refine every %d cycles)", cfg.Cycle.Interval, cfg.Cycle.RefineEvery)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[trader] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	gwSrv.Shutdown(shutdownCtx)

	if pub != nil {
		pub.Close()
	}

	log.Println("[trader] shutdown complete.")
}

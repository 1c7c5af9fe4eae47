package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/api"
	"signal-core/internal/broadcast"
	"signal-core/internal/data"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/persistence"
	"signal-core/internal/strategy"
	"signal-core/internal/trade"
	"signal-core/pkg/cache"
	"signal-core/pkg/clickhouse"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/logging"
	"signal-core/pkg/market/binance"
	"signal-core/pkg/postgres"
)

var buildVersion = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", false)
		boot.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("version", buildVersion).Str("store", cfg.StoreDriver).Msg("starting signal core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(events.WithDropWarnings(logging.Component(log, "bus"), events.EventPriceTick))
	metrics := monitor.NewMetrics()

	// Storage
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.close()

	tradeOpts := []trade.Option{trade.WithBus(bus), trade.WithMetrics(metrics)}
	var journal *db.Journal
	if st.sqlite != nil && cfg.JournalEnabled {
		writer := persistence.NewBatchWriter(st.sqlite.DB, logging.Component(log, "journal"), 100, time.Second)
		journal = db.NewJournal(st.sqlite, writer)
		tradeOpts = append(tradeOpts, trade.WithJournal(journal))
		metrics.Gauge("signal_core_journal_pending", "Journal writes waiting for the next batch.", func() float64 {
			return float64(writer.Pending())
		})
		defer func() {
			if err := writer.Close(); err != nil {
				log.Error().Err(err).Msg("journal flush failed")
			}
		}()
	}
	trades := trade.NewEngine(st.trades, logging.Component(log, "trade"), tradeOpts...)

	// Monitoring
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Sink: monitor.LogSink{Log: log}, Log: log}
	stopMonitor := mon.Start()
	defer stopMonitor()
	metrics.Gauge("signal_core_bus_dropped", "Events dropped on full subscriber buffers.", func() float64 {
		return float64(bus.Dropped())
	})

	// Mark prices for position views and manual closes
	marks := cache.NewMarkCache()
	stopMarks := bus.Handle(events.EventPriceTick, "marks", 1024, func(p any) error {
		if t, ok := p.(market.Tick); ok {
			marks.Set(t.Symbol, t.Bar.Close, t.Bar.Time)
		}
		return nil
	})
	defer stopMarks()

	// Strategies
	ind := indicators.NewEngine(cfg.HistoryWindow)
	strategies := strategy.NewEngine(ind, trades, bus, logging.Component(log, "strategy"),
		strategy.WithDefaultCosts(cfg.DefaultFeePct, cfg.DefaultSlippagePct),
		strategy.WithDefaultInterval(cfg.FeedInterval),
		strategy.WithObserver(metrics),
	)
	if err := loadStrategies(ctx, cfg, st.sqlite, strategies, log); err != nil {
		log.Fatal().Err(err).Msg("strategy load failed")
	}
	switch {
	case cfg.ClickHouseAddr != "":
		conn, err := clickhouse.NewConn(ctx, clickhouse.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse unavailable; skipping warm-up")
			break
		}
		defer conn.Close()
		strategies.Warmup(ctx, clickhouse.NewBarStore(conn), cfg.HistoryWindow)
	case !cfg.UseMockFeed && cfg.HistoryURL != "":
		history := data.NewHistoricalDataService(binance.NewMarketDataClient(cfg.HistoryURL), logging.Component(log, "history"))
		strategies.Warmup(ctx, history, cfg.HistoryWindow)
	}
	stopStrategies := strategies.Start(ctx)

	// Market feed
	subs := market.MergeSubscriptions(feedSubscriptions(cfg.Symbols, cfg.FeedInterval), strategies.Subscriptions())
	var source market.Source
	if cfg.UseMockFeed {
		source = &market.MockSource{Subscriptions: subs, Interval: time.Second}
	} else {
		source = market.NewWebsocketSource(cfg.FeedURL, subs, logging.Component(log, "feed"))
	}
	feed := market.NewFeed(source, bus, logging.Component(log, "feed"))
	if err := feed.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("feed start failed")
	}

	// WebSocket fan-out
	hub := broadcast.NewHub(logging.Component(log, "ws"))
	go hub.Run(ctx)
	stopForward := hub.Forward(bus,
		events.EventStrategySignal,
		events.EventSignalProcessed,
		events.EventTradeCompleted,
		events.EventPositionChange,
		events.EventNodeValue,
	)
	metrics.Gauge("signal_core_ws_clients", "Connected websocket clients.", func() float64 {
		return float64(hub.Clients())
	})

	// API
	deps := api.Deps{
		Trades:     trades,
		Strategies: strategies,
		Marks:      marks,
		Hub:        hub,
		Metrics:    metrics,
		RateLimit:  cfg.RateLimit,
		Meta: api.SystemMeta{
			StoreDriver: cfg.StoreDriver,
			Streams:     subs,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
	}
	if journal != nil {
		deps.Journal = journal
	}
	server := api.NewServer(deps, logging.Component(log, "api"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := feed.Stop(cfg.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("feed stop")
	}
	stopStrategies()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket clients force-closed")
	}
	stopForward()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
}

type stores struct {
	trades trade.Store
	sqlite *db.Database
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("memory store selected; state is lost on restart")
		return &stores{trades: trade.NewMemoryStore(), close: func() {}}, nil

	case config.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN is required for the postgres store")
		}
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("postgres store ready")
		return &stores{trades: postgres.NewStore(pool), close: pool.Close}, nil

	default:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.DBPath).Msg("sqlite store ready")
		return &stores{
			trades: db.NewStore(database),
			sqlite: database,
			close:  func() { _ = database.Close() },
		}, nil
	}
}

// loadStrategies reads the YAML file, mirrors it into the database when one
// is available and loads the active set.
func loadStrategies(ctx context.Context, cfg *config.Config, database *db.Database, e *strategy.Engine, log zerolog.Logger) error {
	configs, err := strategy.LoadConfig(cfg.StrategiesFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", cfg.StrategiesFile).Msg("no strategies file; running without strategies")
		configs = nil
	} else if err != nil {
		return err
	}

	if database != nil {
		if len(configs) > 0 {
			if err := strategy.SyncConfigToDB(ctx, database, configs, cfg.DefaultFeePct, cfg.DefaultSlippagePct); err != nil {
				return err
			}
		}
		records, err := database.ListStrategies(ctx, true)
		if err != nil {
			return err
		}
		intrabar := map[string]bool{}
		for _, c := range configs {
			intrabar[c.ID] = c.Intrabar
		}
		stored := make([]strategy.Config, 0, len(records))
		for _, r := range records {
			c, err := strategy.FromRecord(r)
			if err != nil {
				log.Warn().Err(err).Str("strategy_id", r.ID).Msg("skipping stored strategy")
				continue
			}
			c.Intrabar = intrabar[c.ID]
			stored = append(stored, c)
		}
		configs = stored
	}
	return e.Load(configs)
}

// feedSubscriptions subscribes the configured symbols on the feed interval.
func feedSubscriptions(symbols []string, interval string) []market.Subscription {
	subs := make([]market.Subscription, 0, len(symbols))
	for _, s := range symbols {
		subs = append(subs, market.Subscription{Symbol: s, Interval: interval})
	}
	return subs
}

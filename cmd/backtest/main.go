// Command backtest replays historical bars through a strategy graph and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/backtest"
	"signal-core/internal/graph"
	"signal-core/internal/market"
	"signal-core/internal/strategy"
	"signal-core/pkg/clickhouse"
	"signal-core/pkg/logging"
)

type options struct {
	barsFile       string
	strategiesFile string
	strategyID     string
	graphFile      string

	symbol    string
	timeframe string
	from, to  string

	clickhouse clickhouse.Options

	exec backtest.ExecutionConfig
	full bool
}

func main() {
	var o options
	flag.StringVar(&o.barsFile, "bars", "", "CSV file with timestamp,open,high,low,close,volume rows")
	flag.StringVar(&o.strategiesFile, "strategies", "", "Strategies YAML file")
	flag.StringVar(&o.strategyID, "id", "", "Strategy id in the strategies file (default: first entry)")
	flag.StringVar(&o.graphFile, "graph", "", "Graph definition JSON file (instead of -strategies)")

	flag.StringVar(&o.symbol, "symbol", "BTCUSDT", "Symbol")
	flag.StringVar(&o.timeframe, "timeframe", "1h", "Bar interval")
	flag.StringVar(&o.from, "from", "", "Start time (RFC3339) when loading from ClickHouse")
	flag.StringVar(&o.to, "to", "", "End time (RFC3339) when loading from ClickHouse")

	flag.StringVar(&o.clickhouse.Addr, "clickhouse-addr", os.Getenv("CLICKHOUSE_ADDR"), "ClickHouse address (used when -bars is empty)")
	flag.StringVar(&o.clickhouse.Database, "clickhouse-db", "default", "ClickHouse database")
	flag.StringVar(&o.clickhouse.Username, "clickhouse-user", "default", "ClickHouse user")
	flag.StringVar(&o.clickhouse.Password, "clickhouse-password", os.Getenv("CLICKHOUSE_PASSWORD"), "ClickHouse password")

	flag.Float64Var(&o.exec.InitialCapital, "capital", backtest.DefaultInitialCapital, "Initial capital")
	flag.Float64Var(&o.exec.CommissionPct, "commission-pct", 0.1, "Commission per side in percent")
	flag.Float64Var(&o.exec.CommissionFixed, "commission-fixed", 0, "Fixed commission per fill")
	flag.Float64Var(&o.exec.SlippagePct, "slippage-pct", 0.05, "Slippage per side in percent")
	flag.Float64Var(&o.exec.PositionSize, "size", 0, "Fixed notional per entry (0 uses -size-pct)")
	flag.Float64Var(&o.exec.PositionSizePct, "size-pct", backtest.DefaultPositionSizePct, "Percent of equity per entry")
	flag.BoolVar(&o.full, "full", false, "Include trades and equity curve in the output")
	flag.Parse()

	log := logging.NewWithWriter(os.Stderr, "info", true)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, os.Stdout, log); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}
}

func run(ctx context.Context, o options, out io.Writer, log zerolog.Logger) error {
	def, err := loadGraph(o)
	if err != nil {
		return err
	}
	bars, err := loadBars(ctx, o)
	if err != nil {
		return err
	}
	log.Info().Str("symbol", o.symbol).Int("bars", bars.Len()).Msg("running backtest")

	res, err := backtest.NewRunner(log).Run(ctx, backtest.Request{
		Symbol:    o.symbol,
		Timeframe: o.timeframe,
		Bars:      bars,
		Graph:     def,
		Execution: o.exec,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if o.full {
		return enc.Encode(res)
	}
	return enc.Encode(struct {
		Symbol  string           `json:"symbol"`
		Bars    int              `json:"bars"`
		Trades  int              `json:"trades"`
		Metrics backtest.Metrics `json:"metrics"`
	}{res.Symbol, res.Bars, len(res.Trades), res.Metrics})
}

func loadGraph(o options) (graph.Definition, error) {
	switch {
	case o.graphFile != "":
		raw, err := os.ReadFile(o.graphFile)
		if err != nil {
			return graph.Definition{}, err
		}
		var def graph.Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			return graph.Definition{}, fmt.Errorf("decode graph: %w", err)
		}
		return def, nil

	case o.strategiesFile != "":
		configs, err := strategy.LoadConfig(o.strategiesFile)
		if err != nil {
			return graph.Definition{}, err
		}
		for _, c := range configs {
			if o.strategyID == "" || c.ID == o.strategyID {
				return c.Definition()
			}
		}
		return graph.Definition{}, fmt.Errorf("strategy %q not found in %s", o.strategyID, o.strategiesFile)
	}
	return graph.Definition{}, errors.New("one of -graph or -strategies is required")
}

func loadBars(ctx context.Context, o options) (market.Bars, error) {
	if o.barsFile != "" {
		f, err := os.Open(o.barsFile)
		if err != nil {
			return market.Bars{}, err
		}
		defer f.Close()
		return market.ReadCSV(f)
	}
	if o.clickhouse.Addr == "" {
		return market.Bars{}, errors.New("one of -bars or -clickhouse-addr is required")
	}

	to := time.Now().UTC()
	if o.to != "" {
		t, err := time.Parse(time.RFC3339, o.to)
		if err != nil {
			return market.Bars{}, fmt.Errorf("-to: %w", err)
		}
		to = t
	}
	from := to.AddDate(0, -1, 0)
	if o.from != "" {
		t, err := time.Parse(time.RFC3339, o.from)
		if err != nil {
			return market.Bars{}, fmt.Errorf("-from: %w", err)
		}
		from = t
	}

	conn, err := clickhouse.NewConn(ctx, o.clickhouse)
	if err != nil {
		return market.Bars{}, err
	}
	defer conn.Close()
	return clickhouse.NewBarStore(conn).Load(ctx, o.symbol, o.timeframe, from, to)
}

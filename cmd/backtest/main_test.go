package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/backtest"
)

const strategiesYAML = `
strategies:
  - id: level
    name: Level cross
    symbol: BTCUSDT
    interval: 1h
    is_active: true
    graph:
      nodes:
        - {id: price, type: price}
        - {id: up, type: crossover, params: {direction: up, value: 105}}
        - {id: down, type: crossover, params: {direction: down, value: 105}}
        - {id: buy, type: signal, params: {direction: BUY}}
        - {id: sell, type: signal, params: {direction: SELL}}
      connections:
        - {source: {node: price}, target: {node: up, port: a}}
        - {source: {node: price}, target: {node: down, port: a}}
        - {source: {node: up}, target: {node: buy, port: trigger}}
        - {source: {node: down}, target: {node: sell, port: trigger}}
`

const barsCSV = `timestamp,open,high,low,close,volume
1704067200,100,100,100,100,1
1704070800,104,104,104,104,1
1704074400,106,106,106,106,1
1704078000,108,108,108,108,1
1704081600,103,103,103,103,1
1704085200,101,101,101,101,1
1704088800,107,107,107,107,1
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunFromFiles(t *testing.T) {
	dir := t.TempDir()
	o := options{
		barsFile:       writeFile(t, dir, "bars.csv", barsCSV),
		strategiesFile: writeFile(t, dir, "strategies.yaml", strategiesYAML),
		symbol:         "BTCUSDT",
		timeframe:      "1h",
		exec:           backtest.ExecutionConfig{InitialCapital: 10000, PositionSizePct: 100},
		full:           true,
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, &out, zerolog.Nop()))

	var res backtest.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 7, res.Bars)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, backtest.ExitEndOfData, res.Trades[2].ExitReason)
}

func TestRunSummary(t *testing.T) {
	dir := t.TempDir()
	o := options{
		barsFile:       writeFile(t, dir, "bars.csv", barsCSV),
		strategiesFile: writeFile(t, dir, "strategies.yaml", strategiesYAML),
		strategyID:     "level",
		symbol:         "BTCUSDT",
		exec:           backtest.ExecutionConfig{InitialCapital: 10000, PositionSizePct: 100},
	}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, &out, zerolog.Nop()))

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.EqualValues(t, 3, summary["trades"])
	assert.Contains(t, summary, "metrics")
}

func TestRunInputErrors(t *testing.T) {
	dir := t.TempDir()
	bars := writeFile(t, dir, "bars.csv", barsCSV)
	strategies := writeFile(t, dir, "strategies.yaml", strategiesYAML)
	ctx := context.Background()

	err := run(ctx, options{barsFile: bars}, &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorContains(t, err, "-graph or -strategies")

	err = run(ctx, options{barsFile: bars, strategiesFile: strategies, strategyID: "nope"}, &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorContains(t, err, "not found")

	err = run(ctx, options{strategiesFile: strategies}, &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorContains(t, err, "-bars or -clickhouse-addr")
}

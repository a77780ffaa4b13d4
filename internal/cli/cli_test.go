package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const candlesCSV = `timestamp,open,high,low,close,volume
120000,105,105,105,105,1
0,100,100,100,100,1
60000,100,100,100,100,1
1970-01-01T00:03:00Z,95,95,95,95,1
`

func TestLoadCandlesCSV(t *testing.T) {
	t.Parallel()

	candles, err := LoadCandlesCSV(strings.NewReader(candlesCSV))
	require.NoError(t, err)
	require.Len(t, candles, 4)

	// 按时间排序，RFC3339 时间戳转为毫秒
	assert.Equal(t, int64(0), candles[0].Timestamp)
	assert.Equal(t, int64(180_000), candles[3].Timestamp)
	assert.InDelta(t, 105.0, candles[2].Close, 1e-12)

	noVolume, err := LoadCandlesCSV(strings.NewReader("1000,1,2,0.5,1.5\n"))
	require.NoError(t, err)
	require.Len(t, noVolume, 1)
	assert.Zero(t, noVolume[0].Volume)
	assert.InDelta(t, 2.0, noVolume[0].High, 1e-12)

	_, err = LoadCandlesCSV(strings.NewReader("1000,1,2\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = LoadCandlesCSV(strings.NewReader("yesterday,1,1,1,1\n"))
	assert.ErrorContains(t, err, "invalid timestamp")

	_, err = LoadCandlesCSV(strings.NewReader("1000,1,x,1,1\n"))
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	t.Parallel()

	params, err := ParseParams([]string{
		"lookback_period=5",
		"threshold=0.02",
		"symbol=ETH-USDT-SWAP",
		`rules=[{when: "price > 10", action: buy}]`,
		"note=",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, params["lookback_period"])
	assert.InDelta(t, 0.02, params["threshold"], 1e-12)
	assert.Equal(t, "ETH-USDT-SWAP", params.Symbol())
	assert.Equal(t, []any{map[string]any{"when": "price > 10", "action": "buy"}}, params["rules"])
	assert.Equal(t, "", params["note"])

	_, err = ParseParams([]string{"lookback_period"})
	assert.Error(t, err)
	_, err = ParseParams([]string{"=5"})
	assert.Error(t, err)
}

func TestReplaySource(t *testing.T) {
	t.Parallel()

	candles, err := LoadCandlesCSV(strings.NewReader(candlesCSV))
	require.NoError(t, err)

	src := replaySource{candles: candles}
	last, err := src.FetchKlines(context.Background(), "", "", 2)
	require.NoError(t, err)
	assert.Equal(t, candles[2:], last)

	all, err := src.FetchKlines(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

// execute 命令会替换全局 Logger，这些测试不并行
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { service.InitLogger("error", false) })

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var momentumFlags = []string{
	"--type", "momentum",
	"--param", "symbol=BTC-USDT-SWAP",
	"--param", "lookback_period=2",
	"--param", "threshold=0.01",
	"--param", "cooldown_seconds=0",
	"--param", "position_size=1",
	"--capital", "1000",
}

func TestBacktestCommand_Report(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "candles.csv", candlesCSV)
	reportPath := filepath.Join(dir, "report.yaml")

	args := append([]string{"backtest", "--config", dir, "--log-level", "error",
		"--candles", csvPath, "--report", reportPath, "--equity-curve"}, momentumFlags...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Report written to")

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &rep))

	assert.Equal(t, "momentum", rep["type"])
	assert.Equal(t, "BTC-USDT-SWAP", rep["symbol"])
	assert.Regexp(t, `^momentum_`, rep["strategy"])
	summary := rep["summary"].(map[string]any)
	assert.Equal(t, 2, summary["total_trades"])
	assert.InDelta(t, -10.0, summary["total_profit"], 1e-9)
	assert.Len(t, rep["equity_curve"], 4)
}

func TestBacktestCommand_ConfiguredStrategySaved(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "candles.csv", candlesCSV)
	dbPath := filepath.Join(dir, "engine.db")
	writeFile(t, dir, "config.yaml", `
storage:
  driver: sqlite3
  dsn: `+dbPath+`
strategies:
  mom_btc:
    type: momentum
    name: BTC momentum
    parameters:
      symbol: BTC-USDT-SWAP
      lookback_period: 2
      threshold: 0.5
      cooldown_seconds: 0
      position_size: 1
`)

	// 命令行参数覆盖配置中的 threshold
	out, err := execute(t, "backtest", "--config", dir, "--log-level", "error",
		"--candles", csvPath, "--strategy", "mom_btc", "--param", "threshold=0.01", "--capital", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "mom_btc (momentum)")
	assert.Contains(t, out, "Trades:         2")

	st, err := store.Open(context.Background(), store.DriverSQLite, dbPath, nil)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.List(context.Background(), "mom_btc")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	out, err = execute(t, "backtest", "list", "--config", dir, "--log-level", "error", "--strategy", "mom_btc")
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)
	assert.Contains(t, out, "mom_btc")

	out, err = execute(t, "backtest", "list", "--config", dir, "--log-level", "error", "--strategy", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "No backtest runs saved")

	out, err = execute(t, "backtest", "show", runs[0].ID, "--config", dir, "--log-level", "error", "--equity-curve")
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "mom_btc", rep["strategy"])
	assert.Len(t, rep["trades"], 2)
	assert.Len(t, rep["equity_curve"], 4)

	_, err = execute(t, "backtest", "show", "missing", "--config", dir, "--log-level", "error")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBacktestHistory_RequiresStorage(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "backtest", "list", "--config", dir, "--log-level", "error")
	assert.ErrorIs(t, err, errNoStorage)

	_, err = execute(t, "backtest", "show", "x", "--config", dir, "--log-level", "error")
	assert.ErrorIs(t, err, errNoStorage)
}

func TestBacktestCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "candles.csv", candlesCSV)

	_, err := execute(t, "backtest", "--config", dir, "--type", "momentum")
	assert.ErrorContains(t, err, "candles")

	_, err = execute(t, "backtest", "--config", dir, "--candles", csvPath)
	assert.Error(t, err)

	_, err = execute(t, "backtest", "--config", dir, "--candles", csvPath, "--strategy", "missing")
	assert.ErrorContains(t, err, "strategy not found")

	_, err = execute(t, "backtest", "--config", dir, "--candles", csvPath, "--type", "momentum", "--param", "lookback_period=0")
	assert.ErrorContains(t, err, "lookback_period")

	empty := writeFile(t, dir, "empty.csv", "timestamp,open,high,low,close,volume\n")
	_, err = execute(t, "backtest", "--config", dir, "--candles", empty, "--type", "momentum")
	assert.Error(t, err)
}

func TestStrategiesCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
strategies:
  grid_btc:
    type: grid
    enabled: true
`)

	out, err := execute(t, "strategies", "--config", dir, "--log-level", "error")
	require.NoError(t, err)

	var listed strategiesOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed.Types, 4)
	require.Len(t, listed.Configured, 1)
	assert.Equal(t, "grid_btc", listed.Configured[0].ID)
	assert.True(t, listed.Configured[0].Enabled)
}

func TestPaperEngineSymbols(t *testing.T) {
	t.Parallel()

	cfg := &service.Config{
		Engine: service.EngineConfig{DefaultTimeframe: "1m", KlineLimit: 50},
		Paper:  service.PaperConfig{InitialBalance: 1000},
		Strategies: map[string]service.StrategyConfig{
			"a": {Type: "momentum", Enabled: true, Parameters: map[string]any{"symbol": "ETH-USDT-SWAP"}},
			"b": {Type: "grid", Enabled: true, Parameters: map[string]any{"symbol": "BTC-USDT-SWAP"}},
			"c": {Type: "ma_cross", Enabled: true, Parameters: map[string]any{"symbol": "BTC-USDT-SWAP"}},
			"d": {Type: "momentum", Parameters: map[string]any{"symbol": "SOL-USDT-SWAP"}},
		},
	}
	e, err := buildPaperEngine(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, e.symbols())

	var out bytes.Buffer
	e.printStatus(&out)
	assert.Contains(t, out.String(), "balance 1000.00")
	assert.Contains(t, out.String(), "Strategy d (momentum) enabled=false")
}

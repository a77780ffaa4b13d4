package backtest

import (
	"context"
	"math"
	"testing"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const minute = int64(60_000)

func candles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{Timestamp: int64(i) * minute, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func momentum(t *testing.T) strategy.Strategy {
	t.Helper()
	s, err := strategy.New(strategy.TypeMomentum, "mom", "", "", strategy.Parameters{
		"lookback_period":  2,
		"threshold":        0.01,
		"cooldown_seconds": 0,
		"position_size":    1,
	})
	require.NoError(t, err)
	return s
}

func TestRun_NoData(t *testing.T) {
	t.Parallel()

	_, err := NewEngine().Run(context.Background(), momentum(t), nil, Config{InitialCapital: 1000})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRun_MomentumRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewEngine(WithLogger(zaptest.NewLogger(t)))
	res, err := e.Run(context.Background(), momentum(t), candles(100, 105, 110, 100), Config{
		InitialCapital: 1000,
		Symbol:         "BTC-USDT-SWAP",
		Timeframe:      "1m",
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, model.ActionBuy, res.Trades[0].Action)
	assert.InDelta(t, 105.0, res.Trades[0].Price, 1e-9)
	assert.Equal(t, model.ActionCloseLong, res.Trades[1].Action)
	assert.InDelta(t, -5.0, res.Trades[1].Profit, 1e-9)

	var equity []float64
	for _, p := range res.EquityCurve {
		equity = append(equity, p.Equity)
	}
	assert.InDeltaSlice(t, []float64{1000, 1000, 1005, 995}, equity, 1e-9)

	assert.InDelta(t, -5.0, res.Stats.TotalProfit, 1e-9)
	assert.InDelta(t, -0.5, res.Stats.TotalReturn, 1e-9)
	assert.InDelta(t, 10.0/1005*100, res.Stats.MaxDrawdown, 1e-9)
	assert.Equal(t, 2, res.Stats.TotalTrades)
	assert.Equal(t, 0, res.Stats.WinningTrades)
	assert.Equal(t, 1, res.Stats.LosingTrades)
	assert.InDelta(t, 995.0, res.Stats.FinalBalance, 1e-9)
	assert.InDelta(t, 995.0, res.Stats.FinalEquity, 1e-9)
	assert.Equal(t, int64(0), res.Stats.StartTime)
	assert.Equal(t, 3*minute, res.Stats.EndTime)
	assert.Equal(t, "mom", res.StrategyID)
	assert.Equal(t, strategy.TypeMomentum, res.StrategyType)
	assert.NotEmpty(t, res.ID)
}

func TestRun_DeterministicAndDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	series := candles(100, 103, 99, 104, 108, 101, 97, 105, 111, 102, 98, 107)
	// 打乱顺序
	series[0], series[5] = series[5], series[0]
	original := append([]model.Candle(nil), series...)

	cfg := Config{InitialCapital: 10000, Symbol: "BTC-USDT-SWAP", Timeframe: "1m"}
	first, err := NewEngine().Run(context.Background(), momentum(t), series, cfg)
	require.NoError(t, err)
	second, err := NewEngine().Run(context.Background(), momentum(t), series, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, original, series)
	assert.Len(t, first.EquityCurve, len(series))
	for i := 1; i < len(first.EquityCurve); i++ {
		assert.Less(t, first.EquityCurve[i-1].Timestamp, first.EquityCurve[i].Timestamp)
	}
}

func TestRun_CooldownUsesBarTime(t *testing.T) {
	t.Parallel()

	s, err := strategy.New(strategy.TypeGrid, "grid", "", "", strategy.Parameters{
		"lower_price": 100, "upper_price": 130, "grid_num": 3,
		"cooldown_seconds": 90, "position_size": 1,
	})
	require.NoError(t, err)

	res, err := NewEngine().Run(context.Background(), s, candles(105, 115, 125, 125, 135), Config{InitialCapital: 10000})
	require.NoError(t, err)

	// 第 3 根 (125) 在冷却内被跳过，冷却结束后第 4 根按冻结的 115 判断穿越 120，第 5 根再次进入冷却
	require.Len(t, res.Trades, 2)
	assert.Equal(t, model.ActionSell, res.Trades[0].Action)
	assert.InDelta(t, 115.0, res.Trades[0].Price, 1e-9)
	assert.InDelta(t, 125.0, res.Trades[1].Price, 1e-9)
	assert.Equal(t, 3*minute, res.Trades[1].Timestamp)
}

func TestRun_InsufficientMarginIsCounted(t *testing.T) {
	t.Parallel()

	res, err := NewEngine().Run(context.Background(), momentum(t), candles(100, 105, 110), Config{InitialCapital: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 2, res.Rejected)
	assert.Len(t, res.EquityCurve, 3)
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine().Run(ctx, momentum(t), candles(1, 2), Config{InitialCapital: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	curve := []model.EquityPoint{{Equity: 100}, {Equity: 110}, {Equity: 90}, {Equity: 95}}
	assert.InDelta(t, 18.1818, MaxDrawdown(curve), 1e-4)
	assert.Zero(t, MaxDrawdown(nil))
	assert.Zero(t, MaxDrawdown([]model.EquityPoint{{Equity: 100}, {Equity: 120}}))
}

func TestComputeStats_WinRateAndProfitFactor(t *testing.T) {
	t.Parallel()

	trades := []model.Trade{{Profit: 50}, {Profit: -20}, {Profit: 0}, {Profit: 30}}
	s := ComputeStats(trades, nil, 10000)

	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
	assert.InDelta(t, 4.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 60.0, s.TotalProfit, 1e-9)
	assert.InDelta(t, 0.6, s.TotalReturn, 1e-9)
	assert.InDelta(t, 50.0, s.MaxProfitTrade, 1e-9)
	assert.InDelta(t, -20.0, s.MaxLossTrade, 1e-9)

	mean := 0.0015
	std := math.Sqrt(7.25e-6)
	assert.InDelta(t, mean/std*math.Sqrt(252), s.SharpeLike, 1e-9)
}

func TestComputeStats_ExtremeTradesDefaultToZero(t *testing.T) {
	t.Parallel()

	losing := ComputeStats([]model.Trade{{Profit: 0}, {Profit: -5}, {Profit: -15}}, nil, 1000)
	assert.Zero(t, losing.MaxProfitTrade)
	assert.InDelta(t, -15.0, losing.MaxLossTrade, 1e-9)

	winning := ComputeStats([]model.Trade{{Profit: 0}, {Profit: 5}, {Profit: 15}}, nil, 1000)
	assert.InDelta(t, 15.0, winning.MaxProfitTrade, 1e-9)
	assert.Zero(t, winning.MaxLossTrade)
}

func TestSharpeLike_Degenerate(t *testing.T) {
	t.Parallel()

	assert.Zero(t, SharpeLike([]model.Trade{{Profit: 10}}, 100))
	assert.Zero(t, SharpeLike([]model.Trade{{Profit: 10}, {Profit: 10}}, 100))
	assert.Zero(t, ComputeStats([]model.Trade{{Profit: 10}}, nil, 100).ProfitFactor)
}

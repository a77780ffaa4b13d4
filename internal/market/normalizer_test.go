package market

import (
	"encoding/json"
	"testing"

	"crypto-strategy-engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = Defaults{Symbol: "BTC-USDT-SWAP", Timeframe: "1m"}

func TestNormalize_PriceResolutionOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload any
		want    float64
	}{
		{"close wins", map[string]any{"close": 101.0, "last": 99.0}, 101},
		{"last when no close", map[string]any{"last": "99.5"}, 99.5},
		{
			"most recent candle close",
			map[string]any{"kline": []any{
				[]any{"2000", "1", "1", "1", "20", "5"},
				[]any{"1000", "1", "1", "1", "10", "5"},
			}},
			20,
		},
		{"nested data object", map[string]any{"data": map[string]any{"close": 42.0}}, 42},
		{"nested data list", map[string]any{"data": []any{map[string]any{"last": "43"}}}, 43},
		{"string close", map[string]any{"close": "100.25"}, 100.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Normalize(tt.payload, defaults)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, snap.Price, 1e-9)
		})
	}
}

func TestNormalize_TypedPayloads(t *testing.T) {
	t.Parallel()

	snap, err := Normalize(model.Candle{Timestamp: 5, Close: 7}, defaults)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, snap.Price, 1e-9)
	assert.Equal(t, "BTC-USDT-SWAP", snap.Symbol)
	assert.Equal(t, "1m", snap.Timeframe)
	assert.Len(t, snap.Candles, 1)

	snap, err = Normalize(model.Ticker{Symbol: "ETH-USDT-SWAP", Price: 3000, Timestamp: 9}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "ETH-USDT-SWAP", snap.Symbol)
	assert.Equal(t, int64(9), snap.Timestamp)

	snap, err = Normalize([]model.Candle{{Timestamp: 2, Close: 2}, {Timestamp: 1, Close: 1}}, defaults)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, snap.Price, 1e-9)
	assert.Equal(t, int64(1), snap.Candles[0].Timestamp)

	snap, err = Normalize(model.MarketSnapshot{Symbol: "X", Price: 3}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "X", snap.Symbol)
}

func TestNormalize_JSONWithSymbolAndTimeframe(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"instId":"SOL-USDT-SWAP","bar":"5m","candles":[{"ts":"1000","o":"1","h":"2","l":"0.5","c":"1.5","vol":"10"}]}`)
	snap, err := Normalize(raw, defaults)
	require.NoError(t, err)

	assert.Equal(t, "SOL-USDT-SWAP", snap.Symbol)
	assert.Equal(t, "5m", snap.Timeframe)
	assert.InDelta(t, 1.5, snap.Price, 1e-9)
	require.Len(t, snap.Candles, 1)
	assert.InDelta(t, 10.0, snap.Candles[0].Volume, 1e-9)
	assert.Equal(t, int64(1000), snap.Timestamp)
}

func TestNormalize_NestedDataPropagatesSymbol(t *testing.T) {
	t.Parallel()

	snap, err := Normalize(map[string]any{
		"data": map[string]any{"symbol": "ETH-USDT-SWAP", "timeframe": "1H", "close": 10.0},
	}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "ETH-USDT-SWAP", snap.Symbol)
	assert.Equal(t, "1H", snap.Timeframe)
}

func TestNormalize_Failures(t *testing.T) {
	t.Parallel()

	payloads := []any{
		nil,
		map[string]any{},
		map[string]any{"candles": []any{}},
		map[string]any{"close": 0},
		map[string]any{"candles": []any{map[string]any{"ts": 1, "open": 1}}},
		map[string]any{"kline": []any{[]any{"1", "2"}}},
		[]byte("not json"),
		42,
	}
	for _, p := range payloads {
		_, err := Normalize(p, defaults)
		assert.ErrorIs(t, err, ErrNormalization, "%#v", p)
	}
}

func TestViewStore_CopyOnWrite(t *testing.T) {
	t.Parallel()

	var store ViewStore
	assert.Nil(t, store.Load())

	v1 := NewBuilder(nil).
		SetSnapshot(model.MarketSnapshot{Symbol: "A", Price: 1}).
		SetAccount(model.Account{Balance: 10}).
		Build(timeZero)
	store.Store(v1)

	v2 := NewBuilder(store.Load()).SetSnapshot(model.MarketSnapshot{Symbol: "B", Price: 2}).Build(timeZero)
	store.Store(v2)

	_, ok := v1.Snapshot("B")
	assert.False(t, ok, "older view must not change")

	a, ok := store.Load().Snapshot("A")
	require.True(t, ok)
	assert.InDelta(t, 1.0, a.Price, 1e-9)
	assert.InDelta(t, 10.0, store.Load().Account().Balance, 1e-9)
}

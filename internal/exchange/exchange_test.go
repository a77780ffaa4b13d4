package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-strategy-engine/internal/ledger"
	"crypto-strategy-engine/internal/market"
	"crypto-strategy-engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sym = "BTC-USDT-SWAP"

// flaky 前 failures 次调用返回错误
type flaky struct {
	Client
	failures int
	calls    int
	err      error
}

func (f *flaky) FetchTicker(_ context.Context, symbol string) (model.Ticker, error) {
	f.calls++
	if f.calls <= f.failures {
		return model.Ticker{}, f.err
	}
	return model.Ticker{Symbol: symbol, Price: 100}, nil
}

func (f *flaky) PlaceOrder(_ context.Context, _ OrderRequest) (OrderAck, error) {
	f.calls++
	return OrderAck{}, f.err
}

func TestRetrying_RecoversWithinAttempts(t *testing.T) {
	t.Parallel()

	f := &flaky{failures: 2, err: errors.New("timeout")}
	r := NewRetrying(f, 3, time.Millisecond, zaptest.NewLogger(t))

	tk, err := r.FetchTicker(context.Background(), sym)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, tk.Price, 1e-9)
	assert.Equal(t, 3, f.calls)
}

func TestRetrying_ExhaustionIsUpstreamError(t *testing.T) {
	t.Parallel()

	f := &flaky{failures: 10, err: errors.New("timeout")}
	r := NewRetrying(f, 3, time.Millisecond, nil)

	_, err := r.FetchTicker(context.Background(), sym)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 3, f.calls)
}

func TestRetrying_DoesNotRetryRejectedOrders(t *testing.T) {
	t.Parallel()

	f := &flaky{err: ErrOrderRejected}
	r := NewRetrying(f, 5, time.Millisecond, nil)

	_, err := r.PlaceOrder(context.Background(), OrderRequest{})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, 1, f.calls)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := &flaky{failures: 10, err: errors.New("timeout")}
	r := NewRetrying(f, 5, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.FetchTicker(ctx, sym)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.calls)
}

func newPaper(t *testing.T, balance float64) (*Paper, *market.DataEngine, *ledger.Ledger) {
	t.Helper()
	de, err := market.NewDataEngine([]string{"1m"}, 100, zaptest.NewLogger(t))
	require.NoError(t, err)
	book := ledger.New(balance)
	return NewPaper(book, de, zaptest.NewLogger(t)), de, book
}

func TestPaper_OpenAndCloseAtLastPrice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, de, _ := newPaper(t, 10000)

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: sym, Action: model.ActionBuy, Side: SideBuy, PosSide: model.SideLong, Size: 1})
	assert.ErrorIs(t, err, market.ErrNoMarketData)

	de.Process(model.Ticker{Symbol: sym, Timestamp: 1, Price: 100})
	ack, err := p.PlaceOrder(ctx, OrderRequest{Symbol: sym, Action: model.ActionBuy, Side: SideBuy, PosSide: model.SideLong, Size: 1, ClientID: "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.OrderID)
	assert.Equal(t, "c1", ack.ClientID)
	assert.InDelta(t, 100.0, ack.FilledPrice, 1e-9)

	de.Process(model.Ticker{Symbol: sym, Timestamp: 2, Price: 120})
	acct, err := p.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10020.0, acct.Equity, 1e-9)

	positions, err := p.FetchPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: sym, Action: model.ActionCloseLong, Side: SideSell, PosSide: model.SideLong, Size: 1})
	require.NoError(t, err)
	acct, _ = p.FetchBalance(ctx)
	assert.InDelta(t, 10020.0, acct.Balance, 1e-9)

	require.NoError(t, p.CancelOrder(ctx, sym, ack.OrderID))
	assert.ErrorIs(t, p.CancelOrder(ctx, sym, "missing"), ErrOrderNotFound)
}

func TestPaper_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, de, _ := newPaper(t, 10)
	de.Process(model.Ticker{Symbol: sym, Timestamp: 1, Price: 100})

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: sym, Action: model.ActionBuy, Size: 5})
	assert.ErrorIs(t, err, ErrOrderRejected)

	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: sym, Action: model.ActionCloseShort, Size: 1})
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestPaper_MarketData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, de, _ := newPaper(t, 10)

	_, err := p.FetchTicker(ctx, sym)
	assert.ErrorIs(t, err, market.ErrNoMarketData)

	de.Process(model.Ticker{Symbol: sym, Timestamp: 1, Price: 100})
	de.Process(model.Ticker{Symbol: sym, Timestamp: 60_001, Price: 101})

	tk, err := p.FetchTicker(ctx, sym)
	require.NoError(t, err)
	assert.InDelta(t, 101.0, tk.Price, 1e-9)

	kl, err := p.FetchKlines(ctx, sym, "1m", 10)
	require.NoError(t, err)
	assert.Len(t, kl, 2)
}

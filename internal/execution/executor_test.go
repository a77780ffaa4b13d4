package execution

import (
	"context"
	"testing"

	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/ledger"
	"crypto-strategy-engine/internal/market"
	"crypto-strategy-engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildOrder_SideMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action  model.Action
		side    exchange.OrderSide
		posSide model.Side
	}{
		{model.ActionBuy, exchange.SideBuy, model.SideLong},
		{model.ActionLong, exchange.SideBuy, model.SideLong},
		{model.ActionSell, exchange.SideSell, model.SideShort},
		{model.ActionShort, exchange.SideSell, model.SideShort},
		{model.ActionCloseLong, exchange.SideSell, model.SideLong},
		{model.ActionCloseShort, exchange.SideBuy, model.SideShort},
	}
	for _, tt := range tests {
		req, err := BuildOrder(model.Signal{Action: tt.action, Symbol: "BTC-USDT-SWAP", Size: 1})
		require.NoError(t, err)
		assert.Equal(t, tt.side, req.Side, tt.action)
		assert.Equal(t, tt.posSide, req.PosSide, tt.action)
		assert.Len(t, req.ClientID, 32)
	}

	_, err := BuildOrder(model.Signal{Action: model.ActionBuy, Symbol: "BTC-USDT-SWAP"})
	assert.Error(t, err)
}

func TestOkxExecutor_ExecutesAgainstPaperExchange(t *testing.T) {
	t.Parallel()

	de, err := market.NewDataEngine([]string{"1m"}, 10, nil)
	require.NoError(t, err)
	de.Process(model.Ticker{Symbol: "BTC-USDT-SWAP", Timestamp: 1, Price: 200})

	book := ledger.New(1000)
	exec := NewOkxExecutor(exchange.NewPaper(book, de, nil), zaptest.NewLogger(t))

	ack, err := exec.ExecuteSignal(context.Background(), model.Signal{Action: model.ActionSell, Symbol: "BTC-USDT-SWAP", Size: 2})
	require.NoError(t, err)
	assert.InDelta(t, 200.0, ack.FilledPrice, 1e-9)
	require.Len(t, book.Positions(), 1)
	assert.Equal(t, model.SideShort, book.Positions()[0].Side)

	_, err = exec.ExecuteSignal(context.Background(), model.Signal{Action: model.ActionCloseLong, Symbol: "BTC-USDT-SWAP", Size: 2})
	assert.ErrorIs(t, err, exchange.ErrOrderRejected)
}

package exchange

import (
	"context"
	"errors"

	"crypto-strategy-engine/internal/model"
)

var (
	// ErrUpstream 交易所请求在重试后仍然失败
	ErrUpstream = errors.New("exchange request failed")
	// ErrOrderRejected 订单被拒绝，重试没有意义
	ErrOrderRejected = errors.New("order rejected")
	ErrOrderNotFound = errors.New("order not found")
)

// OrderSide Okx 的买卖方向
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderRequest 下单参数，字段语义与 Okx 合约下单一致
type OrderRequest struct {
	Symbol   string       // instId
	Action   model.Action // 原始信号动作
	Side     OrderSide    // buy / sell
	PosSide  model.Side   // long / short
	Size     float64      // sz
	Price    float64      // 0 表示市价单
	ClientID string       // clOrdId
}

// OrderAck 下单回执
type OrderAck struct {
	OrderID     string
	ClientID    string
	Symbol      string
	FilledPrice float64
	FilledSize  float64
	Timestamp   int64
}

// Client 是核心依赖的交易所能力
type Client interface {
	FetchTicker(ctx context.Context, symbol string) (model.Ticker, error)
	FetchKlines(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
	FetchPositions(ctx context.Context) ([]model.Position, error)
	FetchBalance(ctx context.Context) (model.Account, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

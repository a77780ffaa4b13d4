package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crypto-strategy-engine/internal/ledger"
	"crypto-strategy-engine/internal/market"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PriceSource 提供实时价格与 K 线，market.DataEngine 实现了该接口
type PriceSource interface {
	LastTicker(symbol string) (model.Ticker, bool)
	Candles(symbol, interval string, limit int) ([]model.Candle, error)
}

// Paper 是模拟交易所：行情来自 PriceSource，订单按最新价在本地账本中立即成交
type Paper struct {
	book   *ledger.Ledger
	prices PriceSource
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]OrderAck
}

func NewPaper(book *ledger.Ledger, prices PriceSource, logger *zap.Logger) *Paper {
	return &Paper{
		book:   book,
		prices: prices,
		logger: service.Named(logger, "paper_exchange"),
		now:    time.Now,
		orders: make(map[string]OrderAck),
	}
}

func (p *Paper) FetchTicker(_ context.Context, symbol string) (model.Ticker, error) {
	t, ok := p.prices.LastTicker(symbol)
	if !ok {
		return model.Ticker{}, fmt.Errorf("%w: no ticker for %s", market.ErrNoMarketData, symbol)
	}
	p.book.MarkToMarket(symbol, t.Price)
	return t, nil
}

func (p *Paper) FetchKlines(_ context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	return p.prices.Candles(symbol, timeframe, limit)
}

func (p *Paper) FetchPositions(_ context.Context) ([]model.Position, error) {
	return p.book.Positions(), nil
}

// FetchBalance 先按最新价标记所有持仓，再返回账户
func (p *Paper) FetchBalance(_ context.Context) (model.Account, error) {
	seen := make(map[string]bool)
	for _, pos := range p.book.Positions() {
		if seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true
		if t, ok := p.prices.LastTicker(pos.Symbol); ok {
			p.book.MarkToMarket(pos.Symbol, t.Price)
		}
	}
	return p.book.Account(), nil
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	price := req.Price
	ts := p.now().UnixMilli()
	if price <= 0 {
		t, ok := p.prices.LastTicker(req.Symbol)
		if !ok {
			return OrderAck{}, fmt.Errorf("%w: no price for %s", market.ErrNoMarketData, req.Symbol)
		}
		price = t.Price
	}

	sig := model.Signal{Action: req.Action, Symbol: req.Symbol, Size: req.Size}
	trade, err := p.book.ApplySignal(sig, price, ts)
	switch {
	case errors.Is(err, ledger.ErrInsufficientMargin), errors.Is(err, ledger.ErrInvalidSignal):
		return OrderAck{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	case err != nil:
		return OrderAck{}, err
	case trade == nil:
		return OrderAck{}, fmt.Errorf("%w: no %s position to close on %s", ErrOrderRejected, req.PosSide, req.Symbol)
	}

	ack := OrderAck{
		OrderID:     uuid.NewString(),
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		FilledPrice: price,
		FilledSize:  trade.Size,
		Timestamp:   ts,
	}
	p.mu.Lock()
	p.orders[ack.OrderID] = ack
	p.mu.Unlock()

	p.logger.Info("Paper order filled",
		zap.String("order_id", ack.OrderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("pos_side", req.PosSide.String()),
		zap.Float64("size", trade.Size),
		zap.Float64("price", price),
		zap.Float64("profit", trade.Profit))
	return ack, nil
}

// CancelOrder 市价单已立即成交，已知订单撤单为空操作
func (p *Paper) CancelOrder(_ context.Context, _ string, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return nil
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"go.uber.org/zap"
)

// Retrying 为 Client 的每个调用加上有限次数、固定间隔的重试。
// 被拒绝的订单与 ctx 取消不会重试。
type Retrying struct {
	next     Client
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func NewRetrying(next Client, attempts int, backoff time.Duration, logger *zap.Logger) *Retrying {
	if attempts <= 0 {
		attempts = 1
	}
	return &Retrying{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		logger:   service.Named(logger, "exchange_retry"),
	}
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrOrderNotFound) || ctx.Err() != nil {
			return zero, err
		}

		r.logger.Warn("Exchange call failed",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Int("max_attempts", r.attempts), zap.Error(err))
		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(r.backoff):
		}
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %v", ErrUpstream, op, r.attempts, lastErr)
}

func (r *Retrying) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	return retry(ctx, r, "fetch_ticker", func(ctx context.Context) (model.Ticker, error) {
		return r.next.FetchTicker(ctx, symbol)
	})
}

func (r *Retrying) FetchKlines(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	return retry(ctx, r, "fetch_klines", func(ctx context.Context) ([]model.Candle, error) {
		return r.next.FetchKlines(ctx, symbol, timeframe, limit)
	})
}

func (r *Retrying) FetchPositions(ctx context.Context) ([]model.Position, error) {
	return retry(ctx, r, "fetch_positions", r.next.FetchPositions)
}

func (r *Retrying) FetchBalance(ctx context.Context) (model.Account, error) {
	return retry(ctx, r, "fetch_balance", r.next.FetchBalance)
}

func (r *Retrying) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	return retry(ctx, r, "place_order", func(ctx context.Context) (OrderAck, error) {
		return r.next.PlaceOrder(ctx, req)
	})
}

func (r *Retrying) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := retry(ctx, r, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.CancelOrder(ctx, symbol, orderID)
	})
	return err
}

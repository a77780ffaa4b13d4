package execution

import (
	"context"
	"fmt"
	"strings"

	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OkxExecutor 将信号按 Okx 双向持仓模式转换为订单
// (开多 buy/long，开空 sell/short，平多 sell/long，平空 buy/short)
type OkxExecutor struct {
	client exchange.Client
	logger *zap.Logger
}

func NewOkxExecutor(client exchange.Client, logger *zap.Logger) *OkxExecutor {
	return &OkxExecutor{
		client: client,
		logger: service.Named(logger, "executor").With(zap.String("executor", "Okx")),
	}
}

// BuildOrder 把信号映射为市价单请求
func BuildOrder(sig model.Signal) (exchange.OrderRequest, error) {
	if err := sig.Validate(); err != nil {
		return exchange.OrderRequest{}, err
	}

	side := exchange.SideBuy
	switch sig.Action {
	case model.ActionSell, model.ActionShort, model.ActionCloseLong:
		side = exchange.SideSell
	}

	return exchange.OrderRequest{
		Symbol:  sig.Symbol,
		Action:  sig.Action,
		Side:    side,
		PosSide: sig.Action.Side(),
		Size:    sig.Size,
		// clOrdId 仅允许字母数字，最长 32 位
		ClientID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}, nil
}

// ExecuteSignal 将交易信号转换为订单并提交
func (e *OkxExecutor) ExecuteSignal(ctx context.Context, sig model.Signal) (exchange.OrderAck, error) {
	req, err := BuildOrder(sig)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("build order: %w", err)
	}

	ack, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Warn("Order failed",
			zap.String("symbol", req.Symbol),
			zap.String("action", sig.Action.String()),
			zap.Error(err))
		return exchange.OrderAck{}, err
	}

	e.logger.Info("Order placed",
		zap.String("order_id", ack.OrderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("pos_side", req.PosSide.String()),
		zap.Float64("size", ack.FilledSize),
		zap.Float64("price", ack.FilledPrice),
		zap.String("reason", sig.Reason))
	return ack, nil
}

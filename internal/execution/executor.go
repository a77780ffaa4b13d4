package execution

import (
	"context"

	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/model"
)

// Executor 是交易执行器的通用接口，负责把策略信号变成交易所订单
type Executor interface {
	// ExecuteSignal 接收策略信号并下单，返回交易所回执
	ExecuteSignal(ctx context.Context, signal model.Signal) (exchange.OrderAck, error)
}

package strategy

import (
	"time"

	"crypto-strategy-engine/internal/model"

	"go.uber.org/zap"
)

// emit 按规则组装信号，成功时记录发出时间
func (b *Base) emit(
	now time.Time,
	snap model.MarketSnapshot,
	action model.Action,
	reason string,
	size float64,
	positions []model.Position,
	acct model.Account,
) *model.Signal {
	return b.finish(now, snap, &model.Signal{Action: action, Reason: reason, Size: size}, positions, acct)
}

// finish 补全信号的交易对、周期、价格与数量。
// 平仓信号的数量取该方向第一笔持仓，开仓信号按固定数量或资金比例计算。
// 数量为 0 时放弃信号，冷却计时不变。
func (b *Base) finish(
	now time.Time,
	snap model.MarketSnapshot,
	sig *model.Signal,
	positions []model.Position,
	acct model.Account,
) *model.Signal {
	if sig.Symbol == "" {
		sig.Symbol = b.symbolFor(snap)
	}
	if sig.Timeframe == "" {
		sig.Timeframe = snap.Timeframe
	}
	if sig.Timeframe == "" {
		sig.Timeframe = b.common.Timeframe
	}
	if sig.Price <= 0 {
		sig.Price = snap.Price
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = now.UnixMilli()
	}

	if sig.Size <= 0 && sig.Action.IsClose() {
		if p, ok := findPosition(positions, sig.Symbol, sig.Action.Side()); ok {
			sig.Size = p.Size
		}
	}
	if sig.Size <= 0 && b.common.PositionSize > 0 {
		sig.Size = b.common.PositionSize
	}
	if sig.Size <= 0 {
		sig.Size = b.PositionSizeFor(acct, sig.Price)
	}
	if sig.Size <= 0 {
		b.logger.Warn("Dropping signal with zero size", zap.String("action", sig.Action.String()))
		return nil
	}

	b.lastSignalTime = now
	b.logger.Info("Signal generated", zap.Stringer("signal", sig))
	return sig
}

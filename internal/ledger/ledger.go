package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const DefaultMarginRate = 0.10

var (
	// ErrInsufficientMargin 可用资金不足以覆盖开仓保证金，账户不做任何修改
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidSignal      = errors.New("invalid signal")
)

type Option func(*Ledger)

// WithMarginRate 设置保证金率 (保证金 = 数量 * 价格 * 保证金率)
func WithMarginRate(rate float64) Option {
	return func(l *Ledger) {
		if rate > 0 {
			l.marginRate = rate
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger 维护持仓与账户资金，保证 equity = balance + 浮动盈亏
type Ledger struct {
	mu         sync.RWMutex
	marginRate float64
	logger     *zap.Logger

	// 账户状态
	balance   float64 // 余额 (包含已实现盈亏)
	available float64 // 可用资金
	equity    float64 // 净值 = 余额 + 浮动盈亏
	maxEquity float64 // 历史最高净值

	positions []model.Position
	marks     map[string]float64 // symbol -> 最新标记价格
	trades    []model.Trade
}

// New 以初始资金创建账本
func New(initialBalance float64, opts ...Option) *Ledger {
	l := &Ledger{
		marginRate: DefaultMarginRate,
		balance:    initialBalance,
		available:  initialBalance,
		equity:     initialBalance,
		maxEquity:  initialBalance,
		marks:      make(map[string]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = service.Named(l.logger, "ledger")
	return l
}

// ApplySignal 以 price 成交信号。
// 开仓返回 profit 为 0 的成交记录；平仓按列表顺序平掉第一笔同方向持仓；
// 没有可平的持仓时返回 (nil, nil)。
func (l *Ledger) ApplySignal(sig model.Signal, price float64, ts int64) (*model.Trade, error) {
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive, got %v", ErrInvalidSignal, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		trade *model.Trade
		err   error
	)
	if sig.Action.IsOpen() {
		trade, err = l.openLocked(sig, price, ts)
	} else {
		trade = l.closeLocked(sig, price, ts)
	}
	if err != nil {
		return nil, err
	}

	l.marks[sig.Symbol] = price
	l.updateEquityLocked()
	return trade, nil
}

func (l *Ledger) openLocked(sig model.Signal, price float64, ts int64) (*model.Trade, error) {
	required := sig.Size * price * l.marginRate
	if l.available < required {
		l.logger.Info("Rejected: insufficient margin",
			zap.String("symbol", sig.Symbol),
			zap.Float64("required", required),
			zap.Float64("available", l.available))
		return nil, fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientMargin, required, l.available)
	}

	l.available -= required
	l.positions = append(l.positions, model.Position{
		ID:         ulid.Make().String(),
		Symbol:     sig.Symbol,
		Side:       sig.Action.Side(),
		Size:       sig.Size,
		EntryPrice: price,
		EntryTime:  time.UnixMilli(ts).UTC(),
		Margin:     required,
	})

	trade := model.Trade{Timestamp: ts, Symbol: sig.Symbol, Action: sig.Action, Price: price, Size: sig.Size}
	l.trades = append(l.trades, trade)

	l.logger.Debug("Position opened",
		zap.String("symbol", sig.Symbol),
		zap.String("side", sig.Action.Side().String()),
		zap.Float64("size", sig.Size),
		zap.Float64("price", price))
	return &trade, nil
}

func (l *Ledger) closeLocked(sig model.Signal, price float64, ts int64) *model.Trade {
	side := sig.Action.Side()
	idx := -1
	for i, p := range l.positions {
		if p.Side == side && p.Symbol == sig.Symbol {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.logger.Debug("No position to close", zap.String("symbol", sig.Symbol), zap.String("side", side.String()))
		return nil
	}

	pos := l.positions[idx]
	l.positions = append(l.positions[:idx], l.positions[idx+1:]...)

	profit := calculateClosedPnL(pos, price)
	l.balance += profit
	l.available += pos.Margin + profit

	trade := model.Trade{Timestamp: ts, Symbol: pos.Symbol, Action: sig.Action, Price: price, Size: pos.Size, Profit: profit}
	l.trades = append(l.trades, trade)

	l.logger.Debug("Position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side.String()),
		zap.Float64("price", price),
		zap.Float64("profit", profit),
		zap.Float64("balance", l.balance))
	return &trade
}

// calculateClosedPnL 计算已实现盈亏
func calculateClosedPnL(pos model.Position, closePrice float64) float64 {
	return pos.UnrealizedPnL(closePrice)
}

// MarkToMarket 更新 symbol 的标记价格并重算净值
func (l *Ledger) MarkToMarket(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = price
	l.updateEquityLocked()
}

// updateEquityLocked 计算浮动盈亏并更新净值，没有标记价格的持仓按开仓价计
func (l *Ledger) updateEquityLocked() {
	var upl float64
	for _, p := range l.positions {
		mark, ok := l.marks[p.Symbol]
		if !ok {
			mark = p.EntryPrice
		}
		upl += p.UnrealizedPnL(mark)
	}
	l.equity = l.balance + upl
	if l.equity > l.maxEquity {
		l.maxEquity = l.equity
	}
}

// Account 返回账户快照
func (l *Ledger) Account() model.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return model.Account{Balance: l.balance, Available: l.available, Equity: l.equity}
}

// Positions 返回持仓副本，顺序即平仓匹配顺序
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, len(l.positions))
	copy(out, l.positions)
	return out
}

// Trades 返回成交记录副本
func (l *Ledger) Trades() []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// MaxEquity 返回账户历史上的最高净值
func (l *Ledger) MaxEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxEquity
}

// Mark 返回 symbol 的最新标记价格
func (l *Ledger) Mark(symbol string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.marks[symbol]
	return p, ok
}

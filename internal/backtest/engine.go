package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/ledger"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrNoData 没有可回放的 K 线
	ErrNoData = errors.New("no candle data")
	// ErrUpstream K 线获取失败
	ErrUpstream = errors.New("candle retrieval failed")
)

const defaultWindow = 100

// Config 单次回测的参数
type Config struct {
	InitialCapital float64
	Symbol         string
	Timeframe      string
}

// Result 回测结果，包含完整的成交记录与净值曲线
type Result struct {
	ID             string              `json:"id" yaml:"id"`
	StrategyID     string              `json:"strategy_id" yaml:"strategy_id"`
	StrategyType   strategy.Type       `json:"strategy_type" yaml:"strategy_type"`
	Symbol         string              `json:"symbol" yaml:"symbol"`
	Timeframe      string              `json:"timeframe" yaml:"timeframe"`
	InitialCapital float64             `json:"initial_capital" yaml:"initial_capital"`
	Parameters     strategy.Parameters `json:"parameters" yaml:"parameters"`
	Stats          Stats               `json:"stats" yaml:"stats"`
	Trades         []model.Trade       `json:"trades" yaml:"trades"`
	EquityCurve    []model.EquityPoint `json:"equity_curve" yaml:"equity_curve"`
	Rejected       int                 `json:"rejected" yaml:"rejected"` // 因保证金不足等原因未成交的信号数
	CreatedAt      time.Time           `json:"created_at" yaml:"created_at"`
}

type Option func(*Engine)

// WithWindow 每根 K 线上传给策略的历史窗口长度
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

func WithMarginRate(rate float64) Option {
	return func(e *Engine) { e.marginRate = rate }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine 同步回放 K 线，不做任何外部 I/O
type Engine struct {
	window     int
	marginRate float64
	logger     *zap.Logger
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{window: defaultWindow, marginRate: ledger.DefaultMarginRate}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = service.Named(e.logger, "backtest")
	return e
}

// Run 按时间升序回放 candles。策略的冷却时钟由 K 线时间驱动，
// 同一组 K 线与参数的两次回放得到相同的成交与净值曲线。
// 策略实例带有历史状态，不能与其他回测或调度器共用。
func (e *Engine) Run(ctx context.Context, s strategy.Strategy, candles []model.Candle, cfg Config) (*Result, error) {
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}
	symbol := cfg.Symbol
	if symbol == "" {
		symbol = s.Parameters().Symbol()
	} else if symbol != s.Parameters().Symbol() {
		// 策略按自身 symbol 匹配持仓，需要与回测交易对一致
		if err := s.UpdateParameters(strategy.Parameters{"symbol": symbol}); err != nil {
			return nil, err
		}
	}

	var barTime time.Time
	s.SetClock(func() time.Time { return barTime })
	defer s.SetClock(nil)

	bars := model.SortCandles(candles)
	book := ledger.New(cfg.InitialCapital, ledger.WithMarginRate(e.marginRate), ledger.WithLogger(e.logger))
	curve := make([]model.EquityPoint, 0, len(bars))
	logger := e.logger.With(zap.String("strategy", s.ID()), zap.String("symbol", symbol))
	rejected := 0

	for i, c := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		barTime = time.UnixMilli(c.Timestamp)

		snap := model.MarketSnapshot{
			Symbol:    symbol,
			Timeframe: cfg.Timeframe,
			Price:     c.Close,
			Timestamp: c.Timestamp,
			Candles:   bars[max(0, i+1-e.window) : i+1],
		}
		sig, err := s.GenerateSignal(snap, book.Positions(), book.Account())
		if err != nil {
			return nil, fmt.Errorf("bar %d (%d): %w", i, c.Timestamp, err)
		}

		if sig != nil {
			// 单品种回放，成交一律记在回测的交易对上
			sig.Symbol = symbol
			if _, err := book.ApplySignal(*sig, c.Close, c.Timestamp); err != nil {
				rejected++
				logger.Info("Signal rejected", zap.Stringer("signal", sig), zap.Error(err))
			}
		}

		book.MarkToMarket(symbol, c.Close)
		curve = append(curve, model.EquityPoint{Timestamp: c.Timestamp, Equity: book.Account().Equity})
	}

	trades := book.Trades()
	stats := ComputeStats(trades, curve, cfg.InitialCapital)
	stats.FinalBalance = book.Account().Balance

	logger.Info("Backtest finished",
		zap.Int("bars", len(bars)),
		zap.Int("trades", stats.TotalTrades),
		zap.Float64("total_return", stats.TotalReturn),
		zap.Float64("max_drawdown", stats.MaxDrawdown))

	return &Result{
		ID:             ulid.Make().String(),
		StrategyID:     s.ID(),
		StrategyType:   s.Type(),
		Symbol:         symbol,
		Timeframe:      cfg.Timeframe,
		InitialCapital: cfg.InitialCapital,
		Parameters:     s.Parameters(),
		Stats:          stats,
		Trades:         trades,
		EquityCurve:    curve,
		Rejected:       rejected,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

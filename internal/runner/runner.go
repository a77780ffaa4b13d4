package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/scheduler"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ErrNotFound 策略 id 未注册
var ErrNotFound = errors.New("strategy not found")

// DemoStrategyID 未配置任何策略时注册的示例策略
const DemoStrategyID = "demo_momentum"

// ResultSaver 回测结果落库，store.Store 实现了该接口
type ResultSaver interface {
	Save(ctx context.Context, r *backtest.Result) error
}

type Option func(*Runner)

func WithSaver(s ResultSaver) Option {
	return func(r *Runner) { r.saver = s }
}

// WithKlineLimit 回测拉取的 K 线数量
func WithKlineLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.klineLimit = n
		}
	}
}

func WithDefaultTimeframe(tf string) Option {
	return func(r *Runner) {
		if tf != "" {
			r.timeframe = tf
		}
	}
}

// WithParallelism 批量回测的最大并发数
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithEngine(e *backtest.Engine) Option {
	return func(r *Runner) { r.engine = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner 对外暴露策略管理与回测操作
type Runner struct {
	sched       *scheduler.Scheduler
	candles     exchange.Client
	engine      *backtest.Engine
	saver       ResultSaver
	klineLimit  int
	timeframe   string
	parallelism int
	logger      *zap.Logger
}

// New candles 为回测 K 线的来源
func New(sched *scheduler.Scheduler, candles exchange.Client, opts ...Option) *Runner {
	r := &Runner{
		sched:       sched,
		candles:     candles,
		klineLimit:  500,
		timeframe:   scheduler.DefaultTimeframe,
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = service.Named(r.logger, "runner")
	if r.engine == nil {
		r.engine = backtest.NewEngine(backtest.WithLogger(r.logger))
	}
	return r
}

// RegisterStrategy 创建并注册策略 (初始禁用)，id 为空时自动生成
func (r *Runner) RegisterStrategy(typ, id, name, description string, params strategy.Parameters) (string, error) {
	t, err := strategy.ParseType(typ)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = string(t) + "_" + strings.ToLower(ulid.Make().String())
	}
	s, err := strategy.New(t, id, name, description, params, strategy.WithLogger(r.logger))
	if err != nil {
		return "", err
	}
	if err := r.sched.Register(id, s); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Runner) EnableStrategy(id string) bool { return r.sched.Enable(id) }

func (r *Runner) DisableStrategy(id string) bool { return r.sched.Disable(id) }

func (r *Runner) UpdateParameters(id string, patch strategy.Parameters) bool {
	return r.sched.Update(id, patch)
}

// DeleteStrategy 先禁用再移除
func (r *Runner) DeleteStrategy(id string) bool {
	r.sched.Disable(id)
	return r.sched.Delete(id)
}

func (r *Runner) GetStrategy(id string) (scheduler.Status, error) {
	st, ok := r.sched.Get(id)
	if !ok {
		return scheduler.Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st, nil
}

func (r *Runner) ListStrategies() []scheduler.Status {
	return r.sched.List()
}

func (r *Runner) StrategyTypes() []strategy.CatalogEntry {
	return strategy.Catalog()
}

// LoadStrategies 按配置注册策略，配置为空时注册示例策略
func (r *Runner) LoadStrategies(cfgs map[string]service.StrategyConfig) error {
	if len(cfgs) == 0 {
		r.logger.Info("No strategies configured, registering demo strategy", zap.String("strategy_id", DemoStrategyID))
		_, err := r.RegisterStrategy(string(strategy.TypeMomentum), DemoStrategyID,
			"Demo Momentum", "Momentum strategy registered when none are configured", nil)
		if err != nil {
			return err
		}
		r.EnableStrategy(DemoStrategyID)
		return nil
	}

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := cfgs[id]
		if _, err := r.RegisterStrategy(c.Type, id, c.Name, c.Description, c.Parameters); err != nil {
			return fmt.Errorf("strategy %s: %w", id, err)
		}
		if c.Enabled && !r.EnableStrategy(id) {
			return fmt.Errorf("strategy %s: cannot be enabled", id)
		}
	}
	return nil
}

// RunBacktest 用已注册策略的参数创建新实例，在拉取的 K 线上回放。
// 注册实例的历史状态不受影响。
func (r *Runner) RunBacktest(ctx context.Context, strategyID, symbol, timeframe string, initialCapital float64) (*backtest.Result, error) {
	st, ok := r.sched.Get(strategyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strategyID)
	}
	if symbol == "" {
		symbol = st.Parameters.Symbol()
	}
	if timeframe == "" {
		timeframe = cast.ToString(st.Parameters["timeframe"])
	}
	if timeframe == "" {
		timeframe = r.timeframe
	}

	candles, err := r.candles.FetchKlines(ctx, symbol, timeframe, r.klineLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backtest.ErrUpstream, err)
	}

	s, err := r.sched.Clone(strategyID, strategy.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	return r.Backtest(ctx, s, candles, backtest.Config{
		InitialCapital: initialCapital,
		Symbol:         symbol,
		Timeframe:      timeframe,
	})
}

// Backtest 在给定 K 线上运行策略实例，配置了存储时保存结果
func (r *Runner) Backtest(ctx context.Context, s strategy.Strategy, candles []model.Candle, cfg backtest.Config) (*backtest.Result, error) {
	res, err := r.engine.Run(ctx, s, candles, cfg)
	if err != nil {
		return nil, err
	}
	if r.saver != nil {
		if err := r.saver.Save(ctx, res); err != nil {
			// 存储失败不影响回测结果
			r.logger.Error("Failed to save backtest result", zap.String("id", res.ID), zap.Error(err))
		}
	}
	return res, nil
}

// BacktestRequest 批量回测中的一项
type BacktestRequest struct {
	StrategyID     string
	Symbol         string
	Timeframe      string
	InitialCapital float64
}

// BacktestOutcome 与请求一一对应
type BacktestOutcome struct {
	Request BacktestRequest
	Result  *backtest.Result
	Err     error
}

// RunBacktests 并发执行多个回测，每个回测独占策略实例与账本
func (r *Runner) RunBacktests(ctx context.Context, reqs []BacktestRequest) []BacktestOutcome {
	out := make([]BacktestOutcome, len(reqs))
	p := pool.New().WithMaxGoroutines(r.parallelism)
	for i, req := range reqs {
		i, req := i, req
		p.Go(func() {
			res, err := r.RunBacktest(ctx, req.StrategyID, req.Symbol, req.Timeframe, req.InitialCapital)
			out[i] = BacktestOutcome{Request: req, Result: res, Err: err}
		})
	}
	p.Wait()
	return out
}

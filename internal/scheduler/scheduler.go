package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/execution"
	"crypto-strategy-engine/internal/market"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultTickInterval    = time.Second
	DefaultKlineLimit      = 100
	DefaultTimeframe       = "1m"
)

// Stats 单个策略的运行计数
type Stats struct {
	Runs       int64         `json:"runs" yaml:"runs"`
	Signals    int64         `json:"signals" yaml:"signals"`
	Trades     int64         `json:"trades" yaml:"trades"`
	Errors     int64         `json:"errors" yaml:"errors"`
	LastRun    time.Time     `json:"last_run" yaml:"last_run"`
	LastSignal *model.Signal `json:"last_signal,omitempty" yaml:"last_signal,omitempty"`
}

// Status 策略信息加上调度状态
type Status struct {
	strategy.Info `yaml:",inline"`
	Enabled       bool  `json:"enabled" yaml:"enabled"`
	Stats         Stats `json:"stats" yaml:"stats"`
}

type registration struct {
	// mu 保证同一策略实例同一时刻只被一个 tick 调用
	mu       sync.Mutex
	strategy strategy.Strategy
	enabled  bool
	stats    Stats
}

type Option func(*Scheduler)

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithKlineLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.klineLimit = n
		}
	}
}

func WithDefaultTimeframe(tf string) Option {
	return func(s *Scheduler) {
		if tf != "" {
			s.timeframe = tf
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler 定时刷新行情视图并驱动已启用的策略
type Scheduler struct {
	source   exchange.Client
	executor execution.Executor
	logger   *zap.Logger

	refreshInterval time.Duration
	tickInterval    time.Duration
	klineLimit      int
	timeframe       string

	mu            sync.RWMutex
	registrations map[string]*registration

	view          market.ViewStore
	refreshMu     sync.Mutex
	refreshErrors atomic.Int64
	now           func() time.Time
}

func New(source exchange.Client, exec execution.Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:          source,
		executor:        exec,
		refreshInterval: DefaultRefreshInterval,
		tickInterval:    DefaultTickInterval,
		klineLimit:      DefaultKlineLimit,
		timeframe:       DefaultTimeframe,
		registrations:   make(map[string]*registration),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = service.Named(s.logger, "scheduler")
	return s
}

// Register 注册策略，初始为禁用状态。重复 id 会覆盖旧实例。
func (s *Scheduler) Register(id string, st strategy.Strategy) error {
	if id == "" {
		return &strategy.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if st == nil {
		return errors.New("nil strategy")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[id]; ok {
		s.logger.Warn("Strategy already registered, replacing", zap.String("strategy_id", id))
	}
	s.registrations[id] = &registration{strategy: st}
	s.logger.Info("Strategy registered",
		zap.String("strategy_id", id),
		zap.String("type", string(st.Type())))
	return nil
}

func (s *Scheduler) lookup(id string) (*registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	return r, ok
}

// Enable 启用策略，symbol 参数缺失或为空时失败
func (s *Scheduler) Enable(id string) bool {
	r, ok := s.lookup(id)
	if !ok {
		s.logger.Warn("Enable unknown strategy", zap.String("strategy_id", id))
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strategy.Parameters().Symbol() == "" {
		s.logger.Warn("Cannot enable strategy without symbol", zap.String("strategy_id", id))
		return false
	}
	r.enabled = true
	s.logger.Info("Strategy enabled", zap.String("strategy_id", id))
	return true
}

func (s *Scheduler) Disable(id string) bool {
	r, ok := s.lookup(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	r.enabled = false
	r.mu.Unlock()
	s.logger.Info("Strategy disabled", zap.String("strategy_id", id))
	return true
}

// Update 合并参数补丁，校验失败时保持原参数
func (s *Scheduler) Update(id string, patch strategy.Parameters) bool {
	r, ok := s.lookup(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.strategy.UpdateParameters(patch); err != nil {
		s.logger.Warn("Parameter update rejected", zap.String("strategy_id", id), zap.Error(err))
		return false
	}
	s.logger.Info("Strategy parameters updated", zap.String("strategy_id", id))
	return true
}

func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[id]; !ok {
		return false
	}
	delete(s.registrations, id)
	s.logger.Info("Strategy deleted", zap.String("strategy_id", id))
	return true
}

func (s *Scheduler) Get(id string) (Status, bool) {
	r, ok := s.lookup(id)
	if !ok {
		return Status{}, false
	}
	return r.status(), true
}

// Clone 在策略锁内复制一个全新状态的实例，供回测使用
func (s *Scheduler) Clone(id string, opts ...strategy.Option) (strategy.Strategy, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return strategy.Clone(r.strategy, opts...)
}

// List 按 id 排序返回全部策略状态
func (s *Scheduler) List() []Status {
	regs := s.sorted(false)
	out := make([]Status, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.status())
	}
	return out
}

// RefreshErrors 行情刷新失败次数
func (s *Scheduler) RefreshErrors() int64 {
	return s.refreshErrors.Load()
}

// View 当前发布的行情视图，尚未刷新时为 nil
func (s *Scheduler) View() *market.View {
	return s.view.Load()
}

func (r *registration) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Info: r.strategy.Info(), Enabled: r.enabled, Stats: r.stats}
	if r.stats.LastSignal != nil {
		sig := *r.stats.LastSignal
		st.Stats.LastSignal = &sig
	}
	return st
}

func (s *Scheduler) sorted(enabledOnly bool) []*registration {
	s.mu.RLock()
	ids := make([]string, 0, len(s.registrations))
	for id := range s.registrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	regs := make([]*registration, 0, len(ids))
	for _, id := range ids {
		regs = append(regs, s.registrations[id])
	}
	s.mu.RUnlock()

	if !enabledOnly {
		return regs
	}
	out := regs[:0]
	for _, r := range regs {
		r.mu.Lock()
		enabled := r.enabled
		r.mu.Unlock()
		if enabled {
			out = append(out, r)
		}
	}
	return out
}

// target 策略需要的交易对与周期
func (s *Scheduler) target(st strategy.Strategy) (string, string) {
	params := st.Parameters()
	tf := cast.ToString(params["timeframe"])
	if tf == "" {
		tf = s.timeframe
	}
	return params.Symbol(), tf
}

// Refresh 拉取账户、持仓和已启用策略的行情，整体发布新视图。
// 单项失败只记录错误，沿用上一版视图中的数据。
func (s *Scheduler) Refresh(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	b := market.NewBuilder(s.view.Load())

	if acct, err := s.source.FetchBalance(ctx); err != nil {
		s.refreshFailed("balance", "", err)
	} else {
		b.SetAccount(acct)
	}
	if positions, err := s.source.FetchPositions(ctx); err != nil {
		s.refreshFailed("positions", "", err)
	} else {
		b.SetPositions(positions)
	}

	seen := make(map[string]bool)
	for _, r := range s.sorted(true) {
		r.mu.Lock()
		symbol, tf := s.target(r.strategy)
		r.mu.Unlock()
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true

		snap, err := s.fetchSnapshot(ctx, symbol, tf)
		if err != nil {
			s.refreshFailed("market", symbol, err)
			continue
		}
		b.SetSnapshot(snap)
	}

	s.view.Store(b.Build(s.now()))
}

func (s *Scheduler) refreshFailed(what, symbol string, err error) {
	s.refreshErrors.Add(1)
	s.logger.Warn("Refresh failed",
		zap.String("what", what),
		zap.String("symbol", symbol),
		zap.Error(err))
}

// fetchSnapshot K 线和 ticker 任一成功即可构成快照
func (s *Scheduler) fetchSnapshot(ctx context.Context, symbol, tf string) (model.MarketSnapshot, error) {
	candles, kerr := s.source.FetchKlines(ctx, symbol, tf, s.klineLimit)
	ticker, terr := s.source.FetchTicker(ctx, symbol)
	if kerr != nil && terr != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: %v", market.ErrNoMarketData, errors.Join(kerr, terr))
	}

	raw := model.MarketSnapshot{Symbol: symbol, Timeframe: tf, Candles: candles}
	if terr == nil {
		raw.Price = ticker.Price
		raw.Timestamp = ticker.Timestamp
	}
	return market.Normalize(raw, market.Defaults{Symbol: symbol, Timeframe: tf})
}

// Tick 依次运行所有已启用策略。所有策略看到同一版视图，
// 单个策略的错误或 panic 不影响其他策略。
func (s *Scheduler) Tick(ctx context.Context) {
	view := s.view.Load()
	positions := view.Positions()
	acct := view.Account()

	for _, r := range s.sorted(true) {
		s.runOne(ctx, view, r, positions, acct)
	}
}

func (s *Scheduler) runOne(ctx context.Context, view *market.View, r *registration, positions []model.Position, acct model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// 加锁后可能已被禁用
	if !r.enabled {
		return
	}

	id := r.strategy.ID()
	defer func() {
		r.stats.Runs++
		r.stats.LastRun = s.now()
		if p := recover(); p != nil {
			r.stats.Errors++
			s.logger.Error("Strategy tick panicked",
				zap.String("strategy_id", id),
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()

	symbol, tf := s.target(r.strategy)
	snap, ok := view.Snapshot(symbol)
	if !ok {
		var err error
		snap, err = s.requestSnapshot(ctx, symbol, tf)
		if err != nil {
			r.stats.Errors++
			s.logger.Warn("Skip tick, no market data",
				zap.String("strategy_id", id),
				zap.String("symbol", symbol),
				zap.Error(err))
			return
		}
	}

	sig, err := r.strategy.GenerateSignal(snap, positions, acct)
	if err != nil {
		r.stats.Errors++
		s.logger.Error("Generate signal failed", zap.String("strategy_id", id), zap.Error(err))
		return
	}
	if sig == nil {
		return
	}

	r.stats.Signals++
	r.stats.LastSignal = sig
	if _, err := s.executor.ExecuteSignal(ctx, *sig); err != nil {
		r.stats.Errors++
		s.logger.Warn("Execute signal failed",
			zap.String("strategy_id", id),
			zap.String("signal", sig.String()),
			zap.Error(err))
		return
	}
	r.stats.Trades++
}

// requestSnapshot 视图中没有该交易对时直接向行情源请求最新价
func (s *Scheduler) requestSnapshot(ctx context.Context, symbol, tf string) (model.MarketSnapshot, error) {
	if symbol == "" {
		return model.MarketSnapshot{}, fmt.Errorf("%w: strategy has no symbol", market.ErrNoMarketData)
	}
	t, err := s.source.FetchTicker(ctx, symbol)
	if err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: %v", market.ErrNoMarketData, err)
	}
	return market.Normalize(t, market.Defaults{Symbol: symbol, Timeframe: tf})
}

// Run 并发运行刷新循环和 tick 循环，ctx 取消后等待进行中的迭代完成再返回
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Duration("refresh_interval", s.refreshInterval),
		zap.Duration("tick_interval", s.tickInterval))

	var wg conc.WaitGroup
	wg.Go(func() { s.loop(ctx, s.refreshInterval, s.Refresh) })
	wg.Go(func() { s.loop(ctx, s.tickInterval, s.Tick) })
	wg.Wait()

	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"go.uber.org/zap"
)

// DataEngine 接收 Ticker，按交易对与周期聚合 K 线，并保留每个交易对的最新 Ticker
type DataEngine struct {
	mu          sync.RWMutex
	intervals   []string
	maxCandles  int
	aggregators map[string]map[string]*KlineAggregator // symbol -> interval -> 聚合器
	last        map[string]model.Ticker
	logger      *zap.Logger
}

// NewDataEngine 创建 DataEngine，intervals 为需要聚合的周期 (如 "1m", "5m", "1H")
func NewDataEngine(intervals []string, maxCandles int, logger *zap.Logger) (*DataEngine, error) {
	if len(intervals) == 0 {
		return nil, fmt.Errorf("data engine needs at least one interval")
	}
	for _, iv := range intervals {
		if _, err := service.ParseIntervalDuration(iv); err != nil {
			return nil, err
		}
	}
	if maxCandles <= 0 {
		maxCandles = 500
	}
	return &DataEngine{
		intervals:   intervals,
		maxCandles:  maxCandles,
		aggregators: make(map[string]map[string]*KlineAggregator),
		last:        make(map[string]model.Ticker),
		logger:      service.Named(logger, "data_engine"),
	}, nil
}

// Run 消费 Ticker 通道直到通道关闭或 ctx 取消
func (de *DataEngine) Run(ctx context.Context, in <-chan model.Ticker) {
	de.logger.Info("Data Engine started, monitoring ticker stream...", zap.Strings("intervals", de.intervals))
	defer de.logger.Info("Data Engine stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			de.Process(t)
		}
	}
}

// Process 将一条 Ticker 分发给该交易对的所有周期聚合器
func (de *DataEngine) Process(t model.Ticker) {
	if t.Symbol == "" || t.Price <= 0 {
		return
	}

	de.mu.Lock()
	de.last[t.Symbol] = t
	aggs, ok := de.aggregators[t.Symbol]
	if !ok {
		aggs = make(map[string]*KlineAggregator, len(de.intervals))
		for _, iv := range de.intervals {
			// 周期已在构造时校验
			agg, _ := NewKlineAggregator(t.Symbol, iv, de.maxCandles)
			aggs[iv] = agg
		}
		de.aggregators[t.Symbol] = aggs
	}
	de.mu.Unlock()

	for _, agg := range aggs {
		agg.ProcessTicker(t)
	}
}

// LastTicker 返回交易对的最新 Ticker
func (de *DataEngine) LastTicker(symbol string) (model.Ticker, bool) {
	de.mu.RLock()
	defer de.mu.RUnlock()
	t, ok := de.last[symbol]
	return t, ok
}

// Candles 返回最多 limit 根 K 线 (含正在构建的当前 K 线)，升序
func (de *DataEngine) Candles(symbol, interval string, limit int) ([]model.Candle, error) {
	de.mu.RLock()
	agg, ok := de.aggregators[symbol][interval]
	de.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoMarketData, symbol, interval)
	}
	return agg.Candles(limit), nil
}

// KlineAggregator K 线聚合器 (根据 Ticker 聚合特定周期和 Symbol 的 K 线)
type KlineAggregator struct {
	mu        sync.Mutex
	Symbol    string
	Interval  string
	period    int64 // 周期毫秒数
	maxLen    int
	current   model.Candle
	started   bool
	completed []model.Candle
}

// NewKlineAggregator 创建一个新的聚合器
func NewKlineAggregator(symbol, interval string, maxLen int) (*KlineAggregator, error) {
	d, err := service.ParseIntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	return &KlineAggregator{
		Symbol:   symbol,
		Interval: interval,
		period:   d.Milliseconds(),
		maxLen:   maxLen,
	}, nil
}

// ProcessTicker 将 Ticker 聚合到当前 K 线，跨周期时封存上一根
func (agg *KlineAggregator) ProcessTicker(t model.Ticker) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	// 将 Ticker 时间戳对齐到 K 线起始时间
	start := t.Timestamp - t.Timestamp%agg.period

	if agg.started && start < agg.current.Timestamp {
		// 迟到的 Ticker 不回写已封存的 K 线
		return
	}

	if agg.started && start > agg.current.Timestamp {
		agg.completed = append(agg.completed, agg.current)
		if len(agg.completed) > agg.maxLen {
			agg.completed = agg.completed[len(agg.completed)-agg.maxLen:]
		}
		agg.current = model.Candle{
			Timestamp: start,
			Open:      agg.current.Close, // 新 K 线的开盘价取上一根 K 线的收盘价
			High:      math.Max(agg.current.Close, t.Price),
			Low:       math.Min(agg.current.Close, t.Price),
		}
	}

	if !agg.started {
		agg.current = model.Candle{Timestamp: start, Open: t.Price, High: t.Price, Low: t.Price}
		agg.started = true
	}

	agg.current.Close = t.Price
	agg.current.High = math.Max(agg.current.High, t.Price)
	agg.current.Low = math.Min(agg.current.Low, t.Price)
	agg.current.Volume += t.Volume
}

// Candles 返回已完成 K 线加当前 K 线的末尾 limit 根
func (agg *KlineAggregator) Candles(limit int) []model.Candle {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := make([]model.Candle, 0, len(agg.completed)+1)
	out = append(out, agg.completed...)
	if agg.started {
		out = append(out, agg.current)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Period 返回聚合周期
func (agg *KlineAggregator) Period() time.Duration {
	return time.Duration(agg.period) * time.Millisecond
}

package model

import (
	"fmt"
	"math"
	"sort"
)

// Ticker 代表最小粒度的市场数据（成交或价格快照）
type Ticker struct {
	Symbol       string  // 所属交易对，例如 "BTC-USDT-SWAP"
	Timestamp    int64   // 毫秒时间戳
	Price        float64 // 价格
	Volume       float64 // 交易量 (0 表示价格快照)
	IsBuyerMaker bool    // 是否为 Maker 导致的成交 (用于判断方向)
}

// Candle 代表一根 K 线 (OHLCV)，Timestamp 为周期起始的毫秒时间戳
type Candle struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Open      float64 `json:"open" yaml:"open"`
	High      float64 `json:"high" yaml:"high"`
	Low       float64 `json:"low" yaml:"low"`
	Close     float64 `json:"close" yaml:"close"`
	Volume    float64 `json:"volume" yaml:"volume"`
}

// SortCandles 按时间升序排列并去重，同一时间戳保留最后出现的一根。
// 返回新切片，不修改入参。
func SortCandles(candles []Candle) []Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	deduped := out[:0]
	for _, c := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp == c.Timestamp {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped
}

// Closes 提取收盘价序列
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// MarketSnapshot 是策略每次评估时看到的统一行情视图
type MarketSnapshot struct {
	Symbol    string
	Timeframe string
	Price     float64
	Timestamp int64 // 毫秒
	Candles   []Candle
}

// Validate 确认快照价格可用
func (s MarketSnapshot) Validate() error {
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return fmt.Errorf("snapshot %s has invalid price %v", s.Symbol, s.Price)
	}
	return nil
}

// Account 账户资金视图
type Account struct {
	Balance   float64 `json:"balance" yaml:"balance"`     // 余额 (包含已实现盈亏)
	Available float64 `json:"available" yaml:"available"` // 可用资金 (扣除已占用保证金)
	Equity    float64 `json:"equity" yaml:"equity"`       // 净值 = 余额 + 浮动盈亏
}

// EquityPoint 净值曲线上的一个点
type EquityPoint struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Equity    float64 `json:"equity" yaml:"equity"`
}

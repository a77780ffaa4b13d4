package backtest

import (
	"math"

	"crypto-strategy-engine/internal/model"
)

// 年化系数
const tradingDays = 252

// Stats 回测的汇总指标，百分比字段已乘以 100
type Stats struct {
	TotalProfit    float64 `json:"total_profit" yaml:"total_profit"`
	TotalReturn    float64 `json:"total_return" yaml:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown" yaml:"max_drawdown"`
	TotalTrades    int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades  int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades   int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate        float64 `json:"win_rate" yaml:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor" yaml:"profit_factor"`
	SharpeLike     float64 `json:"sharpe_like" yaml:"sharpe_like"`
	MaxProfitTrade float64 `json:"max_profit_trade" yaml:"max_profit_trade"`
	MaxLossTrade   float64 `json:"max_loss_trade" yaml:"max_loss_trade"`
	FinalBalance   float64 `json:"final_balance" yaml:"final_balance"`
	FinalEquity    float64 `json:"final_equity" yaml:"final_equity"`
	StartTime      int64   `json:"start_time" yaml:"start_time"`
	EndTime        int64   `json:"end_time" yaml:"end_time"`
}

// ComputeStats 由成交记录与净值曲线计算汇总指标。
// profit 为 0 的成交 (开仓) 既不算盈利也不算亏损，但计入总笔数。
// 没有盈利 (亏损) 成交时 MaxProfitTrade (MaxLossTrade) 为 0。
func ComputeStats(trades []model.Trade, curve []model.EquityPoint, initialCapital float64) Stats {
	s := Stats{TotalTrades: len(trades)}

	var grossProfit, grossLoss float64
	for _, t := range trades {
		s.TotalProfit += t.Profit
		switch {
		case t.Profit > 0:
			s.WinningTrades++
			grossProfit += t.Profit
			s.MaxProfitTrade = max(s.MaxProfitTrade, t.Profit)
		case t.Profit < 0:
			s.LosingTrades++
			grossLoss -= t.Profit
			s.MaxLossTrade = min(s.MaxLossTrade, t.Profit)
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}
	if initialCapital > 0 {
		s.TotalReturn = s.TotalProfit / initialCapital * 100
	}
	s.FinalBalance = initialCapital + s.TotalProfit
	s.MaxDrawdown = MaxDrawdown(curve)
	s.SharpeLike = SharpeLike(trades, initialCapital)

	if n := len(curve); n > 0 {
		s.FinalEquity = curve[n-1].Equity
		s.StartTime = curve[0].Timestamp
		s.EndTime = curve[n-1].Timestamp
	}
	return s
}

// MaxDrawdown 返回净值相对历史峰值的最大回撤百分比，峰值从第一个点开始
func MaxDrawdown(curve []model.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	var maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeLike = mean(r) / std(r) * sqrt(252)，r = profit / initialCapital，std 为总体标准差。
// 少于 2 笔或标准差为 0 时为 0。
func SharpeLike(trades []model.Trade, initialCapital float64) float64 {
	n := len(trades)
	if n < 2 || initialCapital <= 0 {
		return 0
	}
	returns := make([]float64, n)
	var sum float64
	for i, t := range trades {
		returns[i] = t.Profit / initialCapital
		sum += returns[i]
	}
	mean := sum / float64(n)

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDays)
}

package ta

import (
	"crypto-strategy-engine/internal/model"

	"github.com/markcheno/go-talib"
)

// SMA 返回 values 末尾 period 个值的简单移动平均。
// 数据不足时 ok 为 false。
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	if period == 1 {
		return window[0], true
	}
	out := talib.Sma(window, period)
	return out[len(out)-1], true
}

// Change 返回最新值相对 n 个样本之前的变化率
func Change(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) <= n {
		return 0, false
	}
	base := values[len(values)-1-n]
	if base == 0 {
		return 0, false
	}
	return (values[len(values)-1] - base) / base, true
}

// Highest 返回末尾 period 个值中的最大值
func Highest(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	if period == 1 {
		return window[0], true
	}
	out := talib.Max(window, period)
	return out[len(out)-1], true
}

// Lowest 返回末尾 period 个值中的最小值
func Lowest(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	if period == 1 {
		return window[0], true
	}
	out := talib.Min(window, period)
	return out[len(out)-1], true
}

// Series 存储计算指标所需的历史数据，超过 MaxLen 时丢弃最旧的数据 (FIFO)
type Series struct {
	Close  []float64 // 收盘价序列
	High   []float64 // 最高价序列
	Low    []float64 // 最低价序列
	Volume []float64 // 成交量序列
	MaxLen int
}

// NewSeries 由 K 线序列构造 Series
func NewSeries(candles []model.Candle, maxLen int) *Series {
	s := &Series{
		Close:  make([]float64, 0, len(candles)),
		High:   make([]float64, 0, len(candles)),
		Low:    make([]float64, 0, len(candles)),
		Volume: make([]float64, 0, len(candles)),
		MaxLen: maxLen,
	}
	for _, c := range candles {
		s.Push(c)
	}
	return s
}

// Push 追加一根 K 线
func (s *Series) Push(c model.Candle) {
	s.Close = append(s.Close, c.Close)
	s.High = append(s.High, c.High)
	s.Low = append(s.Low, c.Low)
	s.Volume = append(s.Volume, c.Volume)

	if s.MaxLen > 0 && len(s.Close) > s.MaxLen {
		cut := len(s.Close) - s.MaxLen
		s.Close = s.Close[cut:]
		s.High = s.High[cut:]
		s.Low = s.Low[cut:]
		s.Volume = s.Volume[cut:]
	}
}

func (s *Series) Len() int {
	return len(s.Close)
}

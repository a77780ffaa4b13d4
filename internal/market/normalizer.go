package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"crypto-strategy-engine/internal/model"

	"github.com/spf13/cast"
)

var (
	// ErrNormalization 载荷中找不到可用价格或 K 线格式错误
	ErrNormalization = errors.New("market data normalization failed")
	// ErrNoMarketData 视图中没有该交易对的数据
	ErrNoMarketData = errors.New("no market data")
)

// Defaults 载荷未携带 symbol/timeframe 时的兜底值
type Defaults struct {
	Symbol    string
	Timeframe string
}

// nested data 最多展开一层
const maxDepth = 1

// Normalize 将任意形态的行情载荷规范化为 MarketSnapshot。
//
// 支持 MarketSnapshot、Candle、[]Candle、Ticker、map[string]any 以及 JSON 字节。
// 价格按 close、last、最新 K 线收盘价、嵌套 data 的顺序解析，
// 数值字段可以是数字或字符串 (Okx 风格)。
func Normalize(payload any, d Defaults) (model.MarketSnapshot, error) {
	var (
		snap model.MarketSnapshot
		err  error
	)

	switch p := payload.(type) {
	case model.MarketSnapshot:
		snap = fromSnapshot(p)
	case *model.MarketSnapshot:
		if p == nil {
			return snap, fmt.Errorf("%w: nil snapshot", ErrNormalization)
		}
		snap = fromSnapshot(*p)
	case model.Candle:
		snap = model.MarketSnapshot{Price: p.Close, Timestamp: p.Timestamp, Candles: []model.Candle{p}}
	case []model.Candle:
		snap = fromSnapshot(model.MarketSnapshot{Candles: p})
	case model.Ticker:
		snap = model.MarketSnapshot{Symbol: p.Symbol, Price: p.Price, Timestamp: p.Timestamp}
	case json.RawMessage:
		snap, err = fromJSON(p)
	case []byte:
		snap, err = fromJSON(p)
	case string:
		snap, err = fromJSON([]byte(p))
	case map[string]any:
		snap, err = fromMap(p, 0)
	case nil:
		return snap, fmt.Errorf("%w: empty payload", ErrNormalization)
	default:
		return snap, fmt.Errorf("%w: unsupported payload type %T", ErrNormalization, payload)
	}
	if err != nil {
		return model.MarketSnapshot{}, err
	}

	if snap.Symbol == "" {
		snap.Symbol = d.Symbol
	}
	if snap.Timeframe == "" {
		snap.Timeframe = d.Timeframe
	}
	if err := snap.Validate(); err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	return snap, nil
}

func fromSnapshot(s model.MarketSnapshot) model.MarketSnapshot {
	s.Candles = model.SortCandles(s.Candles)
	if n := len(s.Candles); n > 0 {
		last := s.Candles[n-1]
		if s.Price <= 0 {
			s.Price = last.Close
		}
		if s.Timestamp == 0 {
			s.Timestamp = last.Timestamp
		}
	}
	return s
}

func fromJSON(b []byte) (model.MarketSnapshot, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return model.MarketSnapshot{}, fmt.Errorf("%w: decode json: %v", ErrNormalization, err)
	}
	return fromMap(m, 0)
}

func fromMap(m map[string]any, depth int) (model.MarketSnapshot, error) {
	snap := model.MarketSnapshot{
		Symbol:    firstString(m, "symbol", "instId"),
		Timeframe: firstString(m, "timeframe", "bar"),
	}

	for _, key := range []string{"candles", "kline", "klines"} {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		candles, err := parseCandles(raw)
		if err != nil {
			return model.MarketSnapshot{}, fmt.Errorf("%w: %s: %v", ErrNormalization, key, err)
		}
		snap.Candles = candles
		break
	}

	if price, ok := positive(m["close"]); ok {
		snap.Price = price
	} else if price, ok := positive(m["last"]); ok {
		snap.Price = price
	} else if n := len(snap.Candles); n > 0 {
		snap.Price = snap.Candles[n-1].Close
	}

	if ts, err := cast.ToInt64E(firstPresent(m, "timestamp", "ts")); err == nil && ts > 0 {
		snap.Timestamp = ts
	} else if n := len(snap.Candles); n > 0 {
		snap.Timestamp = snap.Candles[n-1].Timestamp
	}

	if snap.Price > 0 && snap.Symbol != "" && snap.Timeframe != "" {
		return snap, nil
	}
	nested, ok := nestedData(m["data"])
	if !ok || depth >= maxDepth {
		return snap, nil
	}
	inner, err := fromMap(nested, depth+1)
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	if snap.Price <= 0 {
		snap.Price = inner.Price
		snap.Timestamp = inner.Timestamp
		snap.Candles = inner.Candles
	}
	if snap.Symbol == "" {
		snap.Symbol = inner.Symbol
	}
	if snap.Timeframe == "" {
		snap.Timeframe = inner.Timeframe
	}
	return snap, nil
}

// nestedData 接受对象或对象数组 (取第一个元素)
func nestedData(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case map[string]any:
		return d, true
	case []any:
		if len(d) == 0 {
			return nil, false
		}
		inner, ok := d[0].(map[string]any)
		return inner, ok
	case []map[string]any:
		if len(d) == 0 {
			return nil, false
		}
		return d[0], true
	}
	return nil, false
}

func parseCandles(v any) ([]model.Candle, error) {
	var entries []any
	switch raw := v.(type) {
	case []model.Candle:
		return model.SortCandles(raw), nil
	case []any:
		entries = raw
	case [][]any:
		for _, e := range raw {
			entries = append(entries, e)
		}
	case []map[string]any:
		for _, e := range raw {
			entries = append(entries, e)
		}
	default:
		return nil, fmt.Errorf("unsupported candles type %T", v)
	}

	candles := make([]model.Candle, 0, len(entries))
	for i, e := range entries {
		c, err := parseCandle(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return model.SortCandles(candles), nil
}

// parseCandle 支持对象形式和 Okx 数组形式 [ts, o, h, l, c, vol, ...]
func parseCandle(e any) (model.Candle, error) {
	switch v := e.(type) {
	case model.Candle:
		return v, nil
	case map[string]any:
		ts, err := cast.ToInt64E(firstPresent(v, "timestamp", "ts"))
		if err != nil {
			return model.Candle{}, fmt.Errorf("timestamp: %w", err)
		}
		c := model.Candle{Timestamp: ts}
		fields := []struct {
			dst  *float64
			keys []string
		}{
			{&c.Open, []string{"open", "o"}},
			{&c.High, []string{"high", "h"}},
			{&c.Low, []string{"low", "l"}},
			{&c.Close, []string{"close", "c"}},
		}
		for _, f := range fields {
			raw := firstPresent(v, f.keys...)
			if raw == nil {
				return model.Candle{}, fmt.Errorf("missing %s", f.keys[0])
			}
			x, err := cast.ToFloat64E(raw)
			if err != nil {
				return model.Candle{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = x
		}
		if vol := firstPresent(v, "volume", "vol"); vol != nil {
			c.Volume = cast.ToFloat64(vol)
		}
		return c, nil
	case []any:
		if len(v) < 5 {
			return model.Candle{}, fmt.Errorf("array candle needs at least 5 fields, got %d", len(v))
		}
		ts, err := cast.ToInt64E(v[0])
		if err != nil {
			return model.Candle{}, fmt.Errorf("timestamp: %w", err)
		}
		var ohlc [4]float64
		for i := range ohlc {
			if ohlc[i], err = cast.ToFloat64E(v[i+1]); err != nil {
				return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
			}
		}
		c := model.Candle{Timestamp: ts, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3]}
		if len(v) > 5 {
			c.Volume = cast.ToFloat64(v[5])
		}
		return c, nil
	case []string:
		generic := make([]any, len(v))
		for i, s := range v {
			generic[i] = s
		}
		return parseCandle(generic)
	}
	return model.Candle{}, fmt.Errorf("unsupported candle type %T", e)
}

func positive(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := cast.ToString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/strategy"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// LoadCandlesCSV 读取 timestamp,open,high,low,close,volume 格式的 K 线。
// 首行为表头时跳过；timestamp 可以是毫秒时间戳或 RFC3339；volume 列可省略。
func LoadCandlesCSV(r io.Reader) ([]model.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var out []model.Candle
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		c, err := parseCandle(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return model.SortCandles(out), nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "timestamp")
}

func parseCandle(rec []string) (model.Candle, error) {
	if len(rec) < 5 {
		return model.Candle{}, fmt.Errorf("expected at least 5 columns, got %d", len(rec))
	}
	ts, err := parseTimestamp(rec[0])
	if err != nil {
		return model.Candle{}, err
	}

	vals := make([]float64, 5)
	for i := 1; i < len(rec) && i <= 5; i++ {
		v, err := cast.ToFloat64E(strings.TrimSpace(rec[i]))
		if err != nil {
			return model.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i-1] = v
	}
	return model.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := cast.ToInt64E(s); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UnixMilli(), nil
}

// ParseParams 解析 key=value 形式的参数，value 按 YAML 解码，
// 因此 "5" 得到整数，"[1, 2]" 得到列表。
func ParseParams(pairs []string) (strategy.Parameters, error) {
	params := strategy.Parameters{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		if v == nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

// replaySource 把文件中的 K 线作为回测数据源
type replaySource struct {
	exchange.Client
	candles []model.Candle
}

func (s replaySource) FetchKlines(_ context.Context, _, _ string, limit int) ([]model.Candle, error) {
	if limit > 0 && len(s.candles) > limit {
		return s.candles[len(s.candles)-limit:], nil
	}
	return s.candles, nil
}

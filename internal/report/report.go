package report

import (
	"fmt"
	"io"
	"time"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/strategy"

	"gopkg.in/yaml.v3"
)

// Report 回测报告的 YAML 结构
type Report struct {
	ID             string              `yaml:"id"`
	Strategy       string              `yaml:"strategy"`
	Type           strategy.Type       `yaml:"type"`
	Symbol         string              `yaml:"symbol"`
	Timeframe      string              `yaml:"timeframe"`
	Period         Period              `yaml:"period"`
	InitialCapital float64             `yaml:"initial_capital"`
	Parameters     strategy.Parameters `yaml:"parameters,omitempty"`
	Summary        backtest.Stats      `yaml:"summary"`
	Rejected       int                 `yaml:"rejected_signals"`
	Trades         []model.Trade       `yaml:"trades"`
	EquityCurve    []model.EquityPoint `yaml:"equity_curve,omitempty"`
	CreatedAt      string              `yaml:"created_at"`
}

type Period struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Build 由回测结果生成报告，includeCurve 为 false 时省略净值曲线
func Build(r *backtest.Result, includeCurve bool) Report {
	rep := Report{
		ID:             r.ID,
		Strategy:       r.StrategyID,
		Type:           r.StrategyType,
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		Period:         Period{Start: formatMillis(r.Stats.StartTime), End: formatMillis(r.Stats.EndTime)},
		InitialCapital: r.InitialCapital,
		Parameters:     r.Parameters,
		Summary:        r.Stats,
		Rejected:       r.Rejected,
		Trades:         r.Trades,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rep.Trades == nil {
		rep.Trades = []model.Trade{}
	}
	if includeCurve {
		rep.EquityCurve = r.EquityCurve
	}
	return rep
}

// WriteYAML 将回测报告写为 YAML
func WriteYAML(w io.Writer, r *backtest.Result, includeCurve bool) error {
	if r == nil {
		return fmt.Errorf("nil backtest result")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Build(r, includeCurve)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

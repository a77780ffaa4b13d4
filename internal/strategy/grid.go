package strategy

import (
	"fmt"

	"crypto-strategy-engine/internal/model"

	"go.uber.org/zap"
)

type gridParams struct {
	commonParams `mapstructure:",squash"`
	UpperPrice   float64 `mapstructure:"upper_price"`
	LowerPrice   float64 `mapstructure:"lower_price"`
	GridNum      int     `mapstructure:"grid_num"`
}

func (p gridParams) validate() error {
	if err := p.commonParams.validate(); err != nil {
		return err
	}
	if p.GridNum <= 0 {
		return invalid("grid_num", "must be positive, got %d", p.GridNum)
	}
	if p.UpperPrice <= p.LowerPrice {
		return invalid("upper_price", "must be greater than lower_price (%v <= %v)", p.UpperPrice, p.LowerPrice)
	}
	return nil
}

// Grid 价格向上穿越网格线时开空 (sell)，向下穿越时开多 (buy)
type Grid struct {
	Base
	params    gridParams
	levels    []float64
	lastPrice float64
	hasLast   bool
}

// NewGrid 构造网格策略。区间非法时记录错误并使用空网格，策略不会发出信号。
func NewGrid(id, name, description string, params Parameters, opts ...Option) (*Grid, error) {
	g := &Grid{Base: newBase(TypeGrid, id, name, description, opts)}
	if err := g.apply(params, false); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Grid) apply(raw Parameters, strict bool) error {
	var p gridParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	if err := p.commonParams.validate(); err != nil {
		return err
	}
	if strict {
		if err := p.validate(); err != nil {
			return err
		}
	}
	g.setParams(raw, p.commonParams)
	g.params = p
	g.levels = g.buildLevels()
	return nil
}

func (g *Grid) UpdateParameters(patch Parameters) error {
	return g.apply(g.raw.Merge(patch), true)
}

// buildLevels 在 [lower, upper] 之间生成 grid_num+1 条等距网格线
func (g *Grid) buildLevels() []float64 {
	p := g.params
	if p.UpperPrice <= p.LowerPrice || p.GridNum <= 0 {
		g.logger.Error("Invalid grid range, grid is empty",
			zap.Float64("upper_price", p.UpperPrice),
			zap.Float64("lower_price", p.LowerPrice),
			zap.Int("grid_num", p.GridNum))
		return nil
	}
	step := (p.UpperPrice - p.LowerPrice) / float64(p.GridNum)
	levels := make([]float64, p.GridNum+1)
	for i := range levels {
		levels[i] = p.LowerPrice + float64(i)*step
	}
	return levels
}

// Levels 返回网格线副本
func (g *Grid) Levels() []float64 {
	out := make([]float64, len(g.levels))
	copy(out, g.levels)
	return out
}

func (g *Grid) GenerateSignal(snap model.MarketSnapshot, positions []model.Position, acct model.Account) (*model.Signal, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	now := g.now()
	cur := snap.Price

	if !g.hasLast {
		// 第一个价格只做记录
		g.lastPrice = cur
		g.hasLast = true
		g.state.Transition(true, g.symbolFor(snap), positions)
		return nil, nil
	}
	g.state.Transition(true, g.symbolFor(snap), positions)

	// 冷却期内不更新 lastPrice，冷却结束后按冷却前的价格判断穿越
	if g.InCooldown(now) {
		return nil, nil
	}

	last := g.lastPrice
	g.lastPrice = cur

	for _, level := range g.levels {
		switch {
		case last < level && level <= cur:
			reason := fmt.Sprintf("price crossed grid level %.2f upward", level)
			return g.emit(now, snap, model.ActionSell, reason, 0, positions, acct), nil
		case last > level && level >= cur:
			reason := fmt.Sprintf("price crossed grid level %.2f downward", level)
			return g.emit(now, snap, model.ActionBuy, reason, 0, positions, acct), nil
		}
	}
	return nil, nil
}

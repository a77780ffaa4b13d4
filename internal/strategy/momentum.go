package strategy

import (
	"fmt"

	"crypto-strategy-engine/internal/model"
)

type momentumParams struct {
	commonParams   `mapstructure:",squash"`
	LookbackPeriod int     `mapstructure:"lookback_period"`
	Threshold      float64 `mapstructure:"threshold"`
}

func (p momentumParams) validate() error {
	if err := p.commonParams.validate(); err != nil {
		return err
	}
	if p.LookbackPeriod <= 0 {
		return invalid("lookback_period", "must be positive, got %d", p.LookbackPeriod)
	}
	if p.Threshold <= 0 {
		return invalid("threshold", "must be positive, got %v", p.Threshold)
	}
	return nil
}

// Momentum 价格在 lookback 窗口内涨幅超过阈值时开多，跌幅超过阈值时平多
type Momentum struct {
	Base
	params  momentumParams
	history []float64
}

func NewMomentum(id, name, description string, params Parameters, opts ...Option) (*Momentum, error) {
	m := &Momentum{Base: newBase(TypeMomentum, id, name, description, opts)}
	if err := m.apply(params); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Momentum) apply(raw Parameters) error {
	var p momentumParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	m.setParams(raw, p.commonParams)
	m.params = p
	m.trim()
	return nil
}

func (m *Momentum) UpdateParameters(patch Parameters) error {
	return m.apply(m.raw.Merge(patch))
}

func (m *Momentum) capacity() int {
	return max(2, m.params.LookbackPeriod*2)
}

func (m *Momentum) trim() {
	if over := len(m.history) - m.capacity(); over > 0 {
		m.history = m.history[over:]
	}
}

func (m *Momentum) GenerateSignal(snap model.MarketSnapshot, positions []model.Position, acct model.Account) (*model.Signal, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	now := m.now()
	symbol := m.symbolFor(snap)

	m.history = append(m.history, snap.Price)
	m.trim()

	lookback := m.params.LookbackPeriod
	m.state.Transition(len(m.history) >= lookback, symbol, positions)

	if m.InCooldown(now) || len(m.history) < lookback {
		return nil, nil
	}

	base := m.history[len(m.history)-lookback]
	if base <= 0 {
		return nil, nil
	}
	change := (snap.Price - base) / base

	switch {
	case change > m.params.Threshold && !hasPosition(positions, symbol, ""):
		reason := fmt.Sprintf("momentum %.4f above threshold %.4f", change, m.params.Threshold)
		return m.emit(now, snap, model.ActionBuy, reason, 0, positions, acct), nil
	case change < -m.params.Threshold && hasPosition(positions, symbol, model.SideLong):
		reason := fmt.Sprintf("momentum %.4f below -%.4f", change, m.params.Threshold)
		return m.emit(now, snap, model.ActionCloseLong, reason, 0, positions, acct), nil
	}
	return nil, nil
}

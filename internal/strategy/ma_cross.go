package strategy

import (
	"fmt"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/pkg/ta"
)

type maCrossParams struct {
	commonParams `mapstructure:",squash"`
	FastPeriod   int `mapstructure:"fast_period"`
	SlowPeriod   int `mapstructure:"slow_period"`
}

func (p maCrossParams) validate() error {
	if err := p.commonParams.validate(); err != nil {
		return err
	}
	if p.FastPeriod <= 0 {
		return invalid("fast_period", "must be positive, got %d", p.FastPeriod)
	}
	if p.SlowPeriod <= p.FastPeriod {
		return invalid("slow_period", "must be greater than fast_period (%d <= %d)", p.SlowPeriod, p.FastPeriod)
	}
	return nil
}

// MACross 快线上穿慢线 (金叉) 开多，下穿 (死叉) 平多，同方向信号不重复发出
type MACross struct {
	Base
	params     maCrossParams
	history    []float64
	lastAction model.Action

	// 最近一次计算出的均线，便于观察
	FastMA float64
	SlowMA float64
}

func NewMACross(id, name, description string, params Parameters, opts ...Option) (*MACross, error) {
	m := &MACross{Base: newBase(TypeMACross, id, name, description, opts)}
	if err := m.apply(params); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MACross) apply(raw Parameters) error {
	var p maCrossParams
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

func (m *MACross) UpdateParameters(patch Parameters) error {
	return m.apply(m.raw.Merge(patch))
}

func (m *MACross) trim() {
	if over := len(m.history) - m.params.SlowPeriod*3; over > 0 {
		m.history = m.history[over:]
	}
}

func (m *MACross) GenerateSignal(snap model.MarketSnapshot, positions []model.Position, acct model.Account) (*model.Signal, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	now := m.now()

	m.history = append(m.history, snap.Price)
	m.trim()

	fastN, slowN := m.params.FastPeriod, m.params.SlowPeriod
	warm := len(m.history) >= slowN+1
	m.state.Transition(warm, m.symbolFor(snap), positions)

	if m.InCooldown(now) {
		return nil, nil
	}

	fast, okFast := ta.SMA(m.history, fastN)
	slow, okSlow := ta.SMA(m.history, slowN)
	if !okFast || !okSlow {
		return nil, nil
	}
	m.FastMA, m.SlowMA = fast, slow
	if !warm {
		return nil, nil
	}

	prev := m.history[:len(m.history)-1]
	prevFast, _ := ta.SMA(prev, fastN)
	prevSlow, _ := ta.SMA(prev, slowN)

	var sig *model.Signal
	switch {
	case prevFast <= prevSlow && fast > slow && m.lastAction != model.ActionBuy:
		reason := fmt.Sprintf("golden cross fast %.4f > slow %.4f", fast, slow)
		sig = m.emit(now, snap, model.ActionBuy, reason, 0, positions, acct)
	case prevFast >= prevSlow && fast < slow && m.lastAction != model.ActionCloseLong:
		reason := fmt.Sprintf("death cross fast %.4f < slow %.4f", fast, slow)
		sig = m.emit(now, snap, model.ActionCloseLong, reason, 0, positions, acct)
	}
	if sig != nil {
		m.lastAction = sig.Action
	}
	return sig, nil
}

package strategy

import (
	"crypto-strategy-engine/internal/model"
)

// State 策略实例的生命周期状态
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateWarmingUp     State = "WARMING_UP" // 历史数据不足
	StateFlat          State = "FLAT"       // 无持仓，监控中
	StatePositioned    State = "POSITIONED" // 持仓中
)

// StateMachine 记录策略实例当前所处的状态。
// 冷却是独立于状态的时间约束，不在这里体现。
type StateMachine struct {
	current State
}

func newStateMachine() StateMachine {
	return StateMachine{current: StateUninitialized}
}

func (sm *StateMachine) Current() State {
	return sm.current
}

// Transition 根据历史是否足够以及该交易对上的持仓推进状态
func (sm *StateMachine) Transition(warm bool, symbol string, positions []model.Position) State {
	switch {
	case !warm:
		sm.current = StateWarmingUp
	case hasPosition(positions, symbol, ""):
		sm.current = StatePositioned
	default:
		sm.current = StateFlat
	}
	return sm.current
}

// Reset 参数变化导致历史失效时回到初始状态
func (sm *StateMachine) Reset() {
	sm.current = StateUninitialized
}

// hasPosition 判断 symbol 上是否有仓位，side 为空时不限方向
func hasPosition(positions []model.Position, symbol string, side model.Side) bool {
	_, ok := findPosition(positions, symbol, side)
	return ok
}

func findPosition(positions []model.Position, symbol string, side model.Side) (model.Position, bool) {
	for _, p := range positions {
		if p.Symbol != symbol || p.Size <= 0 {
			continue
		}
		if side == "" || p.Side == side {
			return p, true
		}
	}
	return model.Position{}, false
}

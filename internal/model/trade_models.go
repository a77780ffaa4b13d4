package model

import (
	"fmt"
	"time"
)

// Action 定义了信号类型
type Action string

const (
	ActionBuy        Action = "buy"         // 开多
	ActionSell       Action = "sell"        // 开空
	ActionLong       Action = "long"        // 开多 (别名)
	ActionShort      Action = "short"       // 开空 (别名)
	ActionCloseLong  Action = "close_long"  // 平多
	ActionCloseShort Action = "close_short" // 平空
)

// ParseAction 解析字符串为 Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionLong, ActionShort, ActionCloseLong, ActionCloseShort:
		return true
	}
	return false
}

// IsOpen 是否为开仓类动作
func (a Action) IsOpen() bool {
	switch a {
	case ActionBuy, ActionSell, ActionLong, ActionShort:
		return true
	}
	return false
}

// IsClose 是否为平仓类动作
func (a Action) IsClose() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// Side 返回动作所作用的持仓方向
func (a Action) Side() Side {
	switch a {
	case ActionBuy, ActionLong, ActionCloseLong:
		return SideLong
	default:
		return SideShort
	}
}

func (a Action) String() string {
	return string(a)
}

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"  // 多
	SideShort Side = "short" // 空
)

func (s Side) String() string {
	return string(s)
}

// Signal 结构体定义了策略层向执行层发出的具体指令
type Signal struct {
	Action    Action
	Symbol    string
	Size      float64 // 期望的开仓/平仓数量 (币本位)
	Reason    string  // 信号生成的文字描述
	Timeframe string
	Price     float64 // 产生信号时的参考价格
	Timestamp int64   // 毫秒
}

// Validate 校验信号是否可以被执行
func (s Signal) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal has empty symbol")
	}
	if s.Size <= 0 {
		return fmt.Errorf("signal size must be positive, got %v", s.Size)
	}
	return nil
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s | %s] @ %.2f | Size: %.4f | TF: %s | Reason: %s",
		s.Action, s.Symbol, s.Price, s.Size, s.Timeframe, s.Reason)
}

// Position 结构体定义了一笔未平仓持仓
type Position struct {
	ID         string    `json:"id" yaml:"id"`
	Symbol     string    `json:"symbol" yaml:"symbol"`
	Side       Side      `json:"side" yaml:"side"`
	Size       float64   `json:"size" yaml:"size"`
	EntryPrice float64   `json:"entry_price" yaml:"entry_price"`
	EntryTime  time.Time `json:"entry_time" yaml:"entry_time"`
	Margin     float64   `json:"margin" yaml:"margin"` // 开仓时占用的保证金，平仓时原样释放
}

// UnrealizedPnL 按方向计算浮动盈亏
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideLong {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Trade 一笔成交记录 (开仓记录的 Profit 恒为 0)
type Trade struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Symbol    string  `json:"symbol" yaml:"symbol"`
	Action    Action  `json:"action" yaml:"action"`
	Price     float64 `json:"price" yaml:"price"`
	Size      float64 `json:"size" yaml:"size"`
	Profit    float64 `json:"profit" yaml:"profit"`
}

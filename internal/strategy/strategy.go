package strategy

import (
	"errors"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"
)

// Type 策略类型
type Type string

const (
	TypeMomentum Type = "momentum"
	TypeGrid     Type = "grid"
	TypeMACross  Type = "ma_cross"
	TypeCustom   Type = "custom"
)

// Parameters 策略参数，键为 snake_case
type Parameters map[string]any

// Clone 浅拷贝参数，rules 等嵌套值共享
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge 返回 p 与 patch 合并后的新参数
func (p Parameters) Merge(patch Parameters) Parameters {
	out := p.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Symbol 返回参数中的 symbol，缺失时为空
func (p Parameters) Symbol() string {
	s, _ := p["symbol"].(string)
	return s
}

// Strategy 是所有策略实例的统一接口。
// 实例持有可变历史状态，同一实例不可被并发调用。
type Strategy interface {
	ID() string
	Type() Type
	Info() Info
	Parameters() Parameters

	// GenerateSignal 返回 nil 表示本次不发出信号
	GenerateSignal(snap model.MarketSnapshot, positions []model.Position, acct model.Account) (*model.Signal, error)
	UpdateParameters(patch Parameters) error
	PositionSizeFor(acct model.Account, price float64) float64

	// SetClock 替换冷却判断使用的时钟，回测用 K 线时间驱动
	SetClock(c Clock)
}

// Clock 返回当前时间
type Clock func() time.Time

// Info 策略的展示信息
type Info struct {
	ID          string     `json:"id" yaml:"id"`
	Type        Type       `json:"type" yaml:"type"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
	State       State      `json:"state" yaml:"state"`
}

// ErrValidation 参数校验失败
var ErrValidation = errors.New("invalid strategy parameters")

// ValidationError 描述具体的参数错误
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

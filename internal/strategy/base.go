package strategy

import (
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sizePrecision = 4

// commonParams 所有策略共享的参数
type commonParams struct {
	Symbol              string  `mapstructure:"symbol"`
	Timeframe           string  `mapstructure:"timeframe"`
	PositionSizePercent float64 `mapstructure:"position_size_percent"`
	PositionSize        float64 `mapstructure:"position_size"` // >0 时使用固定数量
	CooldownSeconds     float64 `mapstructure:"cooldown_seconds"`
}

func (c commonParams) validate() error {
	if c.Symbol == "" {
		return invalid("symbol", "must not be empty")
	}
	if c.CooldownSeconds < 0 {
		return invalid("cooldown_seconds", "must not be negative")
	}
	if c.PositionSize < 0 {
		return invalid("position_size", "must not be negative")
	}
	return nil
}

// decodeParams 以弱类型方式把参数解码到结构体，"5" 可以解码为 int
func decodeParams(raw Parameters, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(raw)); err != nil {
		return &ValidationError{Field: "parameters", Reason: err.Error()}
	}
	return nil
}

// Option 构造策略时的可选项
type Option func(*Base)

// WithClock 注入时钟
func WithClock(c Clock) Option {
	return func(b *Base) { b.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Base) { b.logger = l }
}

// Base 提供参数、冷却、仓位计算等所有策略共用的部分
type Base struct {
	id          string
	typ         Type
	name        string
	description string

	raw    Parameters
	common commonParams

	clock          Clock
	lastSignalTime time.Time
	state          StateMachine
	logger         *zap.Logger
}

func newBase(typ Type, id, name, description string, opts []Option) Base {
	b := Base{
		id:          id,
		typ:         typ,
		name:        name,
		description: description,
		clock:       time.Now,
		state:       newStateMachine(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.name == "" {
		b.name = id
	}
	b.logger = service.Named(b.logger, "strategy").With(zap.String("strategy", id), zap.String("type", string(typ)))
	return b
}

func (b *Base) ID() string { return b.id }

func (b *Base) Type() Type { return b.typ }

// Parameters 返回参数副本
func (b *Base) Parameters() Parameters { return b.raw.Clone() }

func (b *Base) Info() Info {
	return Info{
		ID:          b.id,
		Type:        b.typ,
		Name:        b.name,
		Description: b.description,
		Parameters:  b.raw.Clone(),
		State:       b.state.Current(),
	}
}

func (b *Base) SetClock(c Clock) {
	if c == nil {
		c = time.Now
	}
	b.clock = c
}

func (b *Base) setParams(raw Parameters, common commonParams) {
	b.raw = raw
	b.common = common
}

func (b *Base) now() time.Time {
	return b.clock()
}

// Cooldown 两次信号之间的最小间隔
func (b *Base) Cooldown() time.Duration {
	return time.Duration(b.common.CooldownSeconds * float64(time.Second))
}

// InCooldown 距离上一次发出信号的时间不足冷却间隔时返回 true
func (b *Base) InCooldown(now time.Time) bool {
	if b.lastSignalTime.IsZero() {
		return false
	}
	return now.Sub(b.lastSignalTime) < b.Cooldown()
}

// symbolFor 优先使用参数中配置的交易对
func (b *Base) symbolFor(snap model.MarketSnapshot) string {
	if b.common.Symbol != "" {
		return b.common.Symbol
	}
	return snap.Symbol
}

// PositionSizeFor 按可用资金百分比计算开仓数量，保留 4 位小数
func (b *Base) PositionSizeFor(acct model.Account, price float64) float64 {
	if acct.Available <= 0 || price <= 0 {
		b.logger.Warn("Cannot size position",
			zap.Float64("available", acct.Available), zap.Float64("price", price))
		return 0
	}

	percent := b.common.PositionSizePercent
	if percent < 1 {
		percent = 1
	} else if percent > 100 {
		percent = 100
	}

	amount := decimal.NewFromFloat(acct.Available).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100))
	size, _ := amount.Div(decimal.NewFromFloat(price)).Round(sizePrecision).Float64()
	return size
}

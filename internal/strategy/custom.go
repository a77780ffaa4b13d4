package strategy

import (
	"errors"
	"fmt"
	"sync"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/pkg/ta"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// errWarmingUp 指标所需的历史数据不足，对应的规则视为不匹配
var errWarmingUp = errors.New("not enough history")

// SignalFunc 是进程内注册的自定义信号逻辑
type SignalFunc func(snap model.MarketSnapshot, positions []model.Position, acct model.Account, params Parameters) (*model.Signal, error)

var funcs = struct {
	sync.RWMutex
	m map[string]SignalFunc
}{m: make(map[string]SignalFunc)}

// RegisterFunc 为某个策略 id 注册自定义信号逻辑，优先于规则生效
func RegisterFunc(id string, fn SignalFunc) {
	funcs.Lock()
	defer funcs.Unlock()
	funcs.m[id] = fn
}

func UnregisterFunc(id string) {
	funcs.Lock()
	defer funcs.Unlock()
	delete(funcs.m, id)
}

func lookupFunc(id string) (SignalFunc, bool) {
	funcs.RLock()
	defer funcs.RUnlock()
	fn, ok := funcs.m[id]
	return fn, ok
}

// Rule 一条规则：when 为真时发出 action
type Rule struct {
	When   string  `mapstructure:"when" yaml:"when"`
	Action string  `mapstructure:"action" yaml:"action"`
	Reason string  `mapstructure:"reason" yaml:"reason"`
	Size   float64 `mapstructure:"size" yaml:"size"`
}

type customParams struct {
	commonParams `mapstructure:",squash"`
	Rules        []Rule `mapstructure:"rules"`
	HistorySize  int    `mapstructure:"history_size"`
}

type compiledRule struct {
	Rule
	action  model.Action
	program *vm.Program
}

// Custom 通过受限表达式规则或进程内注册的 SignalFunc 产生信号。
// 表达式只能访问行情、账户与持仓的只读数据和少量指标函数。
type Custom struct {
	Base
	params  customParams
	rules   []compiledRule
	history []float64
}

func NewCustom(id, name, description string, params Parameters, opts ...Option) (*Custom, error) {
	c := &Custom{Base: newBase(TypeCustom, id, name, description, opts)}
	if err := c.apply(params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Custom) apply(raw Parameters) error {
	var p customParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	rules, err := validateCustom(c.id, p)
	if err != nil {
		return err
	}
	if p.HistorySize <= 0 {
		p.HistorySize = 200
	}
	c.setParams(raw, p.commonParams)
	c.params = p
	c.rules = rules
	return nil
}

func validateCustom(id string, p customParams) ([]compiledRule, error) {
	if err := p.commonParams.validate(); err != nil {
		return nil, err
	}
	_, hasFunc := lookupFunc(id)
	if len(p.Rules) == 0 && !hasFunc {
		return nil, invalid("rules", "at least one rule is required")
	}
	return compileRules(p.Rules)
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		field := fmt.Sprintf("rules[%d]", i)
		action, err := model.ParseAction(r.Action)
		if err != nil {
			return nil, invalid(field+".action", "%v", err)
		}
		if r.When == "" {
			return nil, invalid(field+".when", "must not be empty")
		}
		program, err := expr.Compile(r.When, expr.Env(ruleEnv{}.vars()), expr.AsBool())
		if err != nil {
			return nil, invalid(field+".when", "%v", err)
		}
		out = append(out, compiledRule{Rule: r, action: action, program: program})
	}
	return out, nil
}

func (c *Custom) UpdateParameters(patch Parameters) error {
	return c.apply(c.raw.Merge(patch))
}

func (c *Custom) GenerateSignal(snap model.MarketSnapshot, positions []model.Position, acct model.Account) (*model.Signal, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	now := c.now()
	symbol := c.symbolFor(snap)

	c.history = append(c.history, snap.Price)
	if over := len(c.history) - c.params.HistorySize; over > 0 {
		c.history = c.history[over:]
	}
	c.state.Transition(true, symbol, positions)

	if c.InCooldown(now) {
		return nil, nil
	}

	if fn, ok := lookupFunc(c.id); ok {
		sig, err := fn(snap, positions, acct, c.raw.Clone())
		if err != nil || sig == nil {
			return nil, err
		}
		if !sig.Action.Valid() {
			return nil, fmt.Errorf("custom strategy %s returned unknown action %q", c.id, sig.Action)
		}
		return c.finish(now, snap, sig, positions, acct), nil
	}

	env := c.env(snap, symbol, positions, acct).vars()
	for i, r := range c.rules {
		out, err := expr.Run(r.program, env)
		if errors.Is(err, errWarmingUp) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if hit, _ := out.(bool); !hit {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = fmt.Sprintf("rule %q matched", r.When)
		}
		return c.emit(now, snap, r.action, reason, r.Size, positions, acct), nil
	}
	return nil, nil
}

// ruleEnv 是规则表达式可见的全部数据
type ruleEnv struct {
	snap      model.MarketSnapshot
	symbol    string
	closes    []float64
	highs     []float64
	lows      []float64
	volumes   []float64
	acct      model.Account
	longSize  float64
	shortSize float64
	params    Parameters
}

func (c *Custom) env(snap model.MarketSnapshot, symbol string, positions []model.Position, acct model.Account) ruleEnv {
	e := ruleEnv{snap: snap, symbol: symbol, acct: acct, params: c.raw.Clone()}
	if len(snap.Candles) > 0 {
		s := ta.NewSeries(snap.Candles, c.params.HistorySize)
		e.closes, e.highs, e.lows, e.volumes = s.Close, s.High, s.Low, s.Volume
	} else {
		e.closes = append([]float64(nil), c.history...)
	}
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		if p.Side == model.SideLong {
			e.longSize += p.Size
		} else {
			e.shortSize += p.Size
		}
	}
	return e
}

func (e ruleEnv) vars() map[string]any {
	closes := e.closes
	lookup := func(f func([]float64, int) (float64, bool)) func(int) (float64, error) {
		return func(n int) (float64, error) {
			v, ok := f(closes, n)
			if !ok {
				return 0, fmt.Errorf("%w: need %d samples, have %d", errWarmingUp, n, len(closes))
			}
			return v, nil
		}
	}
	params := map[string]any(e.params)
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"price":      e.snap.Price,
		"symbol":     e.symbol,
		"timeframe":  e.snap.Timeframe,
		"timestamp":  e.snap.Timestamp,
		"closes":     e.closes,
		"highs":      e.highs,
		"lows":       e.lows,
		"volumes":    e.volumes,
		"balance":    e.acct.Balance,
		"available":  e.acct.Available,
		"equity":     e.acct.Equity,
		"has_long":   e.longSize > 0,
		"has_short":  e.shortSize > 0,
		"long_size":  e.longSize,
		"short_size": e.shortSize,
		"params":     params,
		"sma":        lookup(ta.SMA),
		"change":     lookup(ta.Change),
		"highest":    lookup(ta.Highest),
		"lowest":     lookup(ta.Lowest),
	}
}

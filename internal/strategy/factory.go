package strategy

import (
	"fmt"
	"sort"
)

// CatalogEntry 描述一种可用的策略类型及其默认参数
type CatalogEntry struct {
	Type        Type       `json:"type" yaml:"type"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Defaults    Parameters `json:"defaults" yaml:"defaults"`
}

var commonDefaults = Parameters{
	"symbol":                "BTC-USDT-SWAP",
	"timeframe":             "1m",
	"position_size_percent": 10.0,
}

var catalog = map[Type]CatalogEntry{
	TypeMomentum: {
		Type:        TypeMomentum,
		Name:        "Momentum",
		Description: "Opens long when the price change over the lookback window exceeds the threshold, closes on the reverse move",
		Defaults: Parameters{
			"lookback_period":  5,
			"threshold":        0.01,
			"cooldown_seconds": 60.0,
		},
	},
	TypeGrid: {
		Type:        TypeGrid,
		Name:        "Grid",
		Description: "Sells when price crosses a grid level upward and buys when it crosses downward",
		Defaults: Parameters{
			"upper_price":      40000.0,
			"lower_price":      30000.0,
			"grid_num":         10,
			"cooldown_seconds": 30.0,
		},
	},
	TypeMACross: {
		Type:        TypeMACross,
		Name:        "Moving Average Cross",
		Description: "Buys on a golden cross of the fast and slow moving averages and closes on a death cross",
		Defaults: Parameters{
			"fast_period":      5,
			"slow_period":      20,
			"cooldown_seconds": 60.0,
		},
	},
	TypeCustom: {
		Type:        TypeCustom,
		Name:        "Custom",
		Description: "Evaluates user supplied expression rules against the market snapshot",
		Defaults: Parameters{
			"rules":            []any{},
			"history_size":     200,
			"cooldown_seconds": 30.0,
		},
	},
}

// Catalog 返回全部策略类型，按类型名排序
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(catalog))
	for _, e := range catalog {
		e.Defaults = Defaults(e.Type)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Defaults 返回某类型的完整默认参数 (含公共参数)
func Defaults(t Type) Parameters {
	e, ok := catalog[t]
	if !ok {
		return nil
	}
	return commonDefaults.Merge(e.Defaults)
}

// ParseType 校验类型名
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := catalog[t]; !ok {
		return "", invalid("type", "unknown strategy type %q", s)
	}
	return t, nil
}

// Validate 在默认参数基础上校验 params，不创建实例
func Validate(t Type, id string, params Parameters) error {
	merged := Defaults(t)
	if merged == nil {
		return invalid("type", "unknown strategy type %q", t)
	}
	merged = merged.Merge(params)

	switch t {
	case TypeMomentum:
		var p momentumParams
		if err := decodeParams(merged, &p); err != nil {
			return err
		}
		return p.validate()
	case TypeGrid:
		var p gridParams
		if err := decodeParams(merged, &p); err != nil {
			return err
		}
		return p.validate()
	case TypeMACross:
		var p maCrossParams
		if err := decodeParams(merged, &p); err != nil {
			return err
		}
		return p.validate()
	case TypeCustom:
		var p customParams
		if err := decodeParams(merged, &p); err != nil {
			return err
		}
		_, err := validateCustom(id, p)
		return err
	}
	return fmt.Errorf("unhandled strategy type %q", t)
}

// New 按类型创建策略实例，params 覆盖默认参数
func New(t Type, id, name, description string, params Parameters, opts ...Option) (Strategy, error) {
	if id == "" {
		return nil, invalid("id", "must not be empty")
	}
	if err := Validate(t, id, params); err != nil {
		return nil, err
	}
	merged := Defaults(t).Merge(params)

	switch t {
	case TypeMomentum:
		return NewMomentum(id, name, description, merged, opts...)
	case TypeGrid:
		return NewGrid(id, name, description, merged, opts...)
	case TypeMACross:
		return NewMACross(id, name, description, merged, opts...)
	case TypeCustom:
		return NewCustom(id, name, description, merged, opts...)
	}
	return nil, fmt.Errorf("unhandled strategy type %q", t)
}

// Clone 用相同类型与参数创建一个没有历史状态的新实例
func Clone(s Strategy, opts ...Option) (Strategy, error) {
	info := s.Info()
	return New(info.Type, info.ID, info.Name, info.Description, info.Parameters, opts...)
}

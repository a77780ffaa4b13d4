package market

import (
	"sync/atomic"
	"time"

	"crypto-strategy-engine/internal/model"
)

// View 是一次刷新得到的不可变行情与账户视图。
// 发布后不再修改，读者可以无锁并发访问。
type View struct {
	snapshots map[string]model.MarketSnapshot
	positions []model.Position
	account   model.Account
	updatedAt time.Time
}

// Snapshot 返回 symbol 的最新快照
func (v *View) Snapshot(symbol string) (model.MarketSnapshot, bool) {
	if v == nil {
		return model.MarketSnapshot{}, false
	}
	s, ok := v.snapshots[symbol]
	return s, ok
}

// Positions 返回持仓副本
func (v *View) Positions() []model.Position {
	if v == nil {
		return nil
	}
	out := make([]model.Position, len(v.positions))
	copy(out, v.positions)
	return out
}

func (v *View) Account() model.Account {
	if v == nil {
		return model.Account{}
	}
	return v.account
}

func (v *View) UpdatedAt() time.Time {
	if v == nil {
		return time.Time{}
	}
	return v.updatedAt
}

// Builder 以上一版视图为底构造新视图，未刷新的部分沿用旧值
type Builder struct {
	next View
}

func NewBuilder(prev *View) *Builder {
	b := &Builder{next: View{snapshots: make(map[string]model.MarketSnapshot)}}
	if prev != nil {
		for k, s := range prev.snapshots {
			b.next.snapshots[k] = s
		}
		b.next.positions = prev.positions
		b.next.account = prev.account
	}
	return b
}

func (b *Builder) SetSnapshot(s model.MarketSnapshot) *Builder {
	b.next.snapshots[s.Symbol] = s
	return b
}

func (b *Builder) SetPositions(p []model.Position) *Builder {
	cp := make([]model.Position, len(p))
	copy(cp, p)
	b.next.positions = cp
	return b
}

func (b *Builder) SetAccount(a model.Account) *Builder {
	b.next.account = a
	return b
}

// Build 生成视图，Builder 之后不可再使用
func (b *Builder) Build(at time.Time) *View {
	v := b.next
	v.updatedAt = at
	return &v
}

// ViewStore 以原子指针保存当前视图，刷新协程整体替换，tick 协程整体读取
type ViewStore struct {
	current atomic.Pointer[View]
}

func (s *ViewStore) Load() *View {
	return s.current.Load()
}

func (s *ViewStore) Store(v *View) {
	s.current.Store(v)
}

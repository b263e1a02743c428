package realtime

import (
	"context"
	"sync"

	"Community_Access/internal/model"
)

type OptimisticState int

const (
	StateConfirmed OptimisticState = iota
	StateOptimistic
	StateReverting
)

func (s OptimisticState) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateReverting:
		return "reverting"
	default:
		return "confirmed"
	}
}

// Optimistic 展示值与其确认状态；base 为最近一次确认的值
type Optimistic[T any] struct {
	value T
	base  T
	state OptimisticState
}

func Confirmed[T any](v T) Optimistic[T] {
	return Optimistic[T]{value: v, base: v, state: StateConfirmed}
}

// Apply 乐观写入，保留已确认的值用于回滚
func (o Optimistic[T]) Apply(v T) Optimistic[T] {
	return Optimistic[T]{value: v, base: o.base, state: StateOptimistic}
}

// Revert 操作失败，回到已确认的值，直到下一次同步
func (o Optimistic[T]) Revert() Optimistic[T] {
	if o.state == StateConfirmed {
		return o
	}
	return Optimistic[T]{value: o.base, base: o.base, state: StateReverting}
}

// Confirm 同步到达的服务端值，覆盖任何乐观状态
func (o Optimistic[T]) Confirm(v T) Optimistic[T] {
	return Confirmed(v)
}

func (o Optimistic[T]) Value() T               { return o.value }
func (o Optimistic[T]) State() OptimisticState { return o.state }
func (o Optimistic[T]) Pending() bool          { return o.state != StateConfirmed }

// StatusOverlay 成员状态的乐观覆盖层
type StatusOverlay struct {
	mu       sync.Mutex
	base     func(model.MembershipKey) model.MemberStatus
	entries  map[model.MembershipKey]Optimistic[model.MemberStatus]
	onChange func()
}

// NewStatusOverlay base 返回视图中已确认的状态
func NewStatusOverlay(base func(model.MembershipKey) model.MemberStatus) *StatusOverlay {
	return &StatusOverlay{base: base, entries: make(map[model.MembershipKey]Optimistic[model.MemberStatus])}
}

func (o *StatusOverlay) Apply(key model.MembershipKey, status model.MemberStatus) {
	o.mu.Lock()
	cur, ok := o.entries[key]
	if !ok {
		cur = Confirmed(o.base(key))
	}
	o.entries[key] = cur.Apply(status)
	o.mu.Unlock()
	o.changed()
}

func (o *StatusOverlay) Revert(key model.MembershipKey) {
	o.mu.Lock()
	cur, ok := o.entries[key]
	if !ok {
		o.mu.Unlock()
		return
	}
	o.entries[key] = cur.Revert()
	o.mu.Unlock()
	o.changed()
}

// Confirm 收到该键的通知后清除覆盖
func (o *StatusOverlay) Confirm(key model.MembershipKey) {
	o.mu.Lock()
	_, ok := o.entries[key]
	delete(o.entries, key)
	o.mu.Unlock()
	if ok {
		o.changed()
	}
}

// Status 展示用状态及其确认状态
func (o *StatusOverlay) Status(key model.MembershipKey) Optimistic[model.MemberStatus] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.entries[key]; ok {
		return cur
	}
	return Confirmed(o.base(key))
}

func (o *StatusOverlay) setOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

func (o *StatusOverlay) changed() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MembershipActions 乐观操作依赖的服务端动作
type MembershipActions interface {
	JoinCommunity(ctx context.Context, userID, communityID uint64) (*model.Membership, error)
	RequestToJoin(ctx context.Context, userID, communityID uint64) (*model.Membership, error)
	LeaveCommunity(ctx context.Context, userID, communityID uint64) error
}

// OptimisticActions 先更新覆盖层再调用服务，失败时回滚
type OptimisticActions struct {
	svc     MembershipActions
	overlay *StatusOverlay
}

func NewOptimisticActions(svc MembershipActions, overlay *StatusOverlay) *OptimisticActions {
	return &OptimisticActions{svc: svc, overlay: overlay}
}

func (a *OptimisticActions) Join(ctx context.Context, userID, communityID uint64) error {
	return a.run(userID, communityID, model.StatusActive, func() error {
		_, err := a.svc.JoinCommunity(ctx, userID, communityID)
		return err
	})
}

func (a *OptimisticActions) Request(ctx context.Context, userID, communityID uint64) error {
	return a.run(userID, communityID, model.StatusPending, func() error {
		_, err := a.svc.RequestToJoin(ctx, userID, communityID)
		return err
	})
}

func (a *OptimisticActions) Leave(ctx context.Context, userID, communityID uint64) error {
	return a.run(userID, communityID, model.StatusNone, func() error {
		return a.svc.LeaveCommunity(ctx, userID, communityID)
	})
}

func (a *OptimisticActions) run(userID, communityID uint64, status model.MemberStatus, call func() error) error {
	key, err := model.NewMembershipKey(userID, communityID)
	if err != nil {
		return err
	}
	a.overlay.Apply(key, status)
	if err := call(); err != nil {
		a.overlay.Revert(key)
		return err
	}
	return nil
}

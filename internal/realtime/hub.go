package realtime

import (
	"context"
	"sync"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"

	"github.com/sirupsen/logrus"
)

// Snapshot 订阅方看到的数据与加载状态
type Snapshot[T any] struct {
	Data    []T
	Loading bool
	Err     error
}

type source[T any] struct {
	topic string
	view  *View[T]
	load  func(ctx context.Context) ([]T, error)
}

// Stream 一个主题上的实时快照
type Stream[T any] struct {
	feed Feed
	log  logrus.FieldLogger

	mu        sync.Mutex
	src       source[T]
	loading   bool
	err       error
	sub       *Subscription
	done      chan struct{}
	listeners map[int]func(Snapshot[T])
	nextID    int
	closed    bool
	closeOnce sync.Once

	// 每条生效的变更都会回调，用于清除乐观覆盖；过期通知不回调
	onApply func(model.Change)
}

func newStream[T any](feed Feed, log logrus.FieldLogger) *Stream[T] {
	pkg.ActiveStreams.Inc()
	return &Stream[T]{feed: feed, log: log, listeners: make(map[int]func(Snapshot[T]))}
}

// start 先订阅再加载，加载期间到达的通知按版本规则合并
func (s *Stream[T]) start(ctx context.Context, src source[T]) error {
	sub, err := s.feed.Subscribe(ctx, src.topic)
	if err != nil {
		s.mu.Lock()
		s.src, s.loading, s.err = src, false, pkg.Unavailable("realtime.subscribe", err)
		s.mu.Unlock()
		s.notify()
		return err
	}
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.src, s.sub, s.done = src, sub, done
	s.loading, s.err = true, nil
	s.mu.Unlock()
	s.notify()

	go s.consume(src.view, sub, done)

	list, err := src.load(ctx)
	s.mu.Lock()
	if s.src.view != src.view {
		// 加载期间已切换过滤条件
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		if pkg.KindOf(err) == pkg.KindUnknown {
			err = pkg.Unavailable("realtime.load", err)
		}
		s.err = err
	} else {
		src.view.Load(list)
	}
	s.loading = false
	s.mu.Unlock()
	if err != nil {
		// 初始查询失败（包括无权查看）时不再跟随推送
		s.stop()
		src.view.Reset()
	}
	s.notify()
	return err
}

func (s *Stream[T]) consume(view *View[T], sub *Subscription, done chan struct{}) {
	defer close(done)
	for ch := range sub.C {
		applied, err := view.Apply(ch)
		if err != nil {
			s.log.WithError(err).WithField("topic", ch.Topic).Warn("drop malformed change")
			continue
		}
		if !applied {
			continue
		}
		if s.onApply != nil {
			s.onApply(ch)
		}
		s.notify()
	}
}

// stop 关闭当前订阅并等待消费协程退出
func (s *Stream[T]) stop() {
	s.mu.Lock()
	sub, done := s.sub, s.done
	s.sub, s.done = nil, nil
	s.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		s.log.WithError(err).Warn("close subscription")
	}
	<-done
}

func (s *Stream[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot[T]{Loading: s.loading, Err: s.err}
	if s.src.view != nil {
		snap.Data = s.src.view.List()
	}
	return snap
}

// OnChange 注册快照变化回调，返回取消函数
func (s *Stream[T]) OnChange(fn func(Snapshot[T])) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Stream[T]) notify() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]func(Snapshot[T]), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// Close 可重复调用
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.listeners = map[int]func(Snapshot[T]){}
		s.mu.Unlock()
		s.stop()
		pkg.ActiveStreams.Dec()
	})
}

// Lister 初始快照的查询端
type Lister interface {
	ListMemberships(ctx context.Context, communityID uint64) ([]model.Membership, error)
	ListResources(ctx context.Context, communityID uint64, status model.ResourceStatus) ([]model.Resource, error)
}

// Hub 创建实时订阅；初始快照由调用方提供的 Lister 加载
type Hub struct {
	feed Feed
	log  logrus.FieldLogger
}

func NewHub(feed Feed, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = pkg.Discard()
	}
	return &Hub{feed: feed, log: log}
}

// MemberStream 社区成员列表，附带乐观状态覆盖层
type MemberStream struct {
	*Stream[model.Membership]
	CommunityID uint64
	Overlay     *StatusOverlay
}

// WatchMembers keep 是查看者的可见范围，推送的文档同样经过它过滤
func (h *Hub) WatchMembers(ctx context.Context, lister Lister, communityID uint64, keep func(model.Membership) bool) (*MemberStream, error) {
	st := newStream[model.Membership](h.feed, h.log.WithField("community_id", communityID))
	ms := &MemberStream{Stream: st, CommunityID: communityID}
	ms.Overlay = NewStatusOverlay(ms.confirmedStatus)
	ms.Overlay.setOnChange(st.notify)
	st.onApply = func(ch model.Change) {
		if key, err := model.ParseMembershipKey(ch.DocID); err == nil {
			ms.Overlay.Confirm(key)
		}
	}

	src := source[model.Membership]{
		topic: model.MembersTopic(communityID),
		view:  NewMembershipView(keep),
		load: func(ctx context.Context) ([]model.Membership, error) {
			return lister.ListMemberships(ctx, communityID)
		},
	}
	if err := st.start(ctx, src); err != nil {
		return ms, err
	}
	return ms, nil
}

func (ms *MemberStream) confirmedStatus(key model.MembershipKey) model.MemberStatus {
	ms.mu.Lock()
	view := ms.src.view
	ms.mu.Unlock()
	if view == nil {
		return model.StatusNone
	}
	m, ok := view.Get(key.String())
	if !ok {
		return model.StatusNone
	}
	return m.Status
}

// Status 成员的展示状态，含乐观覆盖
func (ms *MemberStream) Status(userID uint64) Optimistic[model.MemberStatus] {
	key := model.MembershipKey{UserID: userID, CommunityID: ms.CommunityID}
	return ms.Overlay.Status(key)
}

// ResourceStream 社区资源列表，可按状态过滤
type ResourceStream struct {
	*Stream[model.Resource]
	lister      Lister
	keep        func(model.Resource) bool
	CommunityID uint64

	filterMu sync.Mutex
	status   model.ResourceStatus
}

func (h *Hub) WatchResources(ctx context.Context, lister Lister, communityID uint64, status model.ResourceStatus, keep func(model.Resource) bool) (*ResourceStream, error) {
	st := newStream[model.Resource](h.feed, h.log.WithField("community_id", communityID))
	rs := &ResourceStream{Stream: st, lister: lister, keep: keep, CommunityID: communityID, status: status}
	return rs, st.start(ctx, rs.source(status))
}

func (rs *ResourceStream) source(status model.ResourceStatus) source[model.Resource] {
	return source[model.Resource]{
		topic: model.ResourcesTopic(rs.CommunityID),
		view:  NewResourceView(status, rs.keep),
		load: func(ctx context.Context) ([]model.Resource, error) {
			return rs.lister.ListResources(ctx, rs.CommunityID, status)
		},
	}
}

func (rs *ResourceStream) Filter() model.ResourceStatus {
	rs.filterMu.Lock()
	defer rs.filterMu.Unlock()
	return rs.status
}

// SetFilter 先拆除旧订阅，再以新条件重新订阅与加载
func (rs *ResourceStream) SetFilter(ctx context.Context, status model.ResourceStatus) error {
	rs.filterMu.Lock()
	defer rs.filterMu.Unlock()
	if status == rs.status {
		return nil
	}
	rs.stop()
	rs.status = status
	return rs.start(ctx, rs.source(status))
}

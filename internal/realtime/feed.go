// Package realtime 实时同步层：订阅变更流，维护本地快照，并提供乐观展示
//
// 视图只做整文档替换，从不合并字段；任何状态都以服务端推送的完整文档为准。
package realtime

import (
	"context"
	"sync"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/repository"
)

// Feed 变更通知的发布订阅
type Feed interface {
	repository.Publisher
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Subscription 单个主题的订阅；C 在 Close 后关闭
type Subscription struct {
	C <-chan model.Change

	once    sync.Once
	closeFn func() error
	err     error
}

func NewSubscription(c <-chan model.Change, closeFn func() error) *Subscription {
	return &Subscription{C: c, closeFn: closeFn}
}

// Close 可重复调用
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}

const localBuffer = 256

// LocalFeed 进程内的变更流，单机部署与测试使用
type LocalFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan model.Change
}

var _ Feed = (*LocalFeed)(nil)

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[int]chan model.Change)}
}

// Publish 订阅者缓冲区满时丢弃该条通知
func (f *LocalFeed) Publish(_ context.Context, ch model.Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.subs[ch.Topic] {
		select {
		case c <- ch:
		default:
			pkg.FeedDropped.Inc()
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	c := make(chan model.Change, localBuffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]chan model.Change)
	}
	f.subs[topic][id] = c
	f.mu.Unlock()

	return NewSubscription(c, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[topic], id)
		if len(f.subs[topic]) == 0 {
			delete(f.subs, topic)
		}
		close(c)
		return nil
	}), nil
}

// Subscribers 当前主题的订阅数
func (f *LocalFeed) Subscribers(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[topic])
}

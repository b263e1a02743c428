package repository

import (
	"context"
	"sync"
	"time"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"

	"github.com/sirupsen/logrus"
)

// RevisionClock 为写入分配严格递增的版本号（纳秒时间戳）
type RevisionClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewRevisionClock(now func() time.Time) *RevisionClock {
	if now == nil {
		now = time.Now
	}
	return &RevisionClock{now: now}
}

func (c *RevisionClock) Now() time.Time {
	return c.now()
}

func (c *RevisionClock) Next() int64 {
	return c.After(0)
}

// After 返回大于 floor 的下一个版本号；floor 取自已提交的文档版本，
// 在持有行锁时调用可保证版本顺序与提交顺序一致
func (c *RevisionClock) After(floor int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rev := c.now().UnixNano()
	if rev <= c.last {
		rev = c.last + 1
	}
	if rev <= floor {
		rev = floor + 1
	}
	c.last = rev
	return rev
}

// Notifier 提交后推送变更；推送失败只记日志，写入已经生效
type Notifier struct {
	pub Publisher
	log logrus.FieldLogger
}

func NewNotifier(pub Publisher, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = pkg.Discard()
	}
	return &Notifier{pub: pub, log: log}
}

func (n *Notifier) Membership(ctx context.Context, m *model.Membership) {
	ch, err := model.MembershipChange(m)
	if err != nil {
		n.log.WithError(err).Error("encode membership change")
		return
	}
	n.publish(ctx, ch)
}

func (n *Notifier) MembershipDeleted(ctx context.Context, key model.MembershipKey, revision int64) {
	n.publish(ctx, model.MembershipDeleted(key, revision))
}

func (n *Notifier) Resource(ctx context.Context, r *model.Resource) {
	ch, err := model.ResourceChange(r)
	if err != nil {
		n.log.WithError(err).Error("encode resource change")
		return
	}
	n.publish(ctx, ch)
}

func (n *Notifier) publish(ctx context.Context, ch model.Change) {
	if n == nil || n.pub == nil {
		return
	}
	if err := n.pub.Publish(context.WithoutCancel(ctx), ch); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"topic":  ch.Topic,
			"doc_id": ch.DocID,
		}).Warn("publish change failed")
	}
}

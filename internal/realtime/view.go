package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
)

type entry[T any] struct {
	doc     T
	present bool
	rev     int64
}

// View 按文档ID索引的本地快照
//
// 对同一文档，只有版本号不小于已见版本的通知才会生效；重复通知是幂等的，
// 迟到的旧通知被忽略，删除以墓碑形式记住版本号。
type View[T any] struct {
	mu   sync.RWMutex
	docs map[string]entry[T]

	id   func(T) string
	rev  func(T) int64
	keep func(T) bool
	less func(a, b T) bool
}

func NewView[T any](id func(T) string, rev func(T) int64, keep func(T) bool, less func(a, b T) bool) *View[T] {
	if keep == nil {
		keep = func(T) bool { return true }
	}
	return &View[T]{docs: make(map[string]entry[T]), id: id, rev: rev, keep: keep, less: less}
}

// Load 写入初始查询结果，与已到达的通知按同样的版本规则合并
func (v *View[T]) Load(list []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, doc := range list {
		v.put(v.id(doc), doc, true, v.rev(doc))
	}
}

// Apply 应用一条变更，返回快照是否被改变
func (v *View[T]) Apply(ch model.Change) (bool, error) {
	var (
		doc     T
		present bool
	)
	if ch.Kind == model.ChangeUpsert {
		if err := json.Unmarshal(ch.Document, &doc); err != nil {
			return false, fmt.Errorf("decode %s: %w", ch.DocID, err)
		}
		present = true
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	applied := v.put(ch.DocID, doc, present, ch.Revision)
	if applied {
		pkg.FeedChanges.WithLabelValues("applied").Inc()
	} else {
		pkg.FeedChanges.WithLabelValues("stale").Inc()
	}
	return applied, nil
}

// put 调用方持有写锁；不满足过滤条件的文档按删除处理
func (v *View[T]) put(id string, doc T, present bool, rev int64) bool {
	if cur, ok := v.docs[id]; ok && rev < cur.rev {
		return false
	}
	if present && !v.keep(doc) {
		present = false
	}
	var zero T
	if !present {
		doc = zero
	}
	v.docs[id] = entry[T]{doc: doc, present: present, rev: rev}
	return true
}

// Reset 丢弃所有文档与墓碑
func (v *View[T]) Reset() {
	v.mu.Lock()
	v.docs = make(map[string]entry[T])
	v.mu.Unlock()
}

func (v *View[T]) Get(id string) (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.docs[id]
	if !ok || !e.present {
		var zero T
		return zero, false
	}
	return e.doc, true
}

// Revision 已见的版本号，包括墓碑
func (v *View[T]) Revision(id string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.docs[id].rev
}

func (v *View[T]) List() []T {
	v.mu.RLock()
	list := make([]T, 0, len(v.docs))
	for _, e := range v.docs {
		if e.present {
			list = append(list, e.doc)
		}
	}
	v.mu.RUnlock()

	if v.less != nil {
		sort.SliceStable(list, func(i, j int) bool { return v.less(list[i], list[j]) })
	}
	return list
}

func (v *View[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, e := range v.docs {
		if e.present {
			n++
		}
	}
	return n
}

// NewMembershipView 成员按加入顺序排列；keep 为空时不过滤
func NewMembershipView(keep func(model.Membership) bool) *View[model.Membership] {
	return NewView(
		func(m model.Membership) string { return m.Key().String() },
		func(m model.Membership) int64 { return m.Revision },
		keep,
		func(a, b model.Membership) bool {
			if !a.JoinedAt.Equal(b.JoinedAt) {
				return a.JoinedAt.Before(b.JoinedAt)
			}
			return a.UserID < b.UserID
		},
	)
}

// NewResourceView status 为空时不按状态过滤；keep 是查看者的可见范围
func NewResourceView(status model.ResourceStatus, keep func(model.Resource) bool) *View[model.Resource] {
	return NewView(
		func(r model.Resource) string { return r.DocID() },
		func(r model.Resource) int64 { return r.Revision },
		func(r model.Resource) bool {
			if status != "" && r.Status != status {
				return false
			}
			return keep == nil || keep(r)
		},
		func(a, b model.Resource) bool { return a.ID > b.ID },
	)
}

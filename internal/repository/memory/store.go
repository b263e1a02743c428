// Package memory 进程内存储，语义与 MySQL 存储一致，用于开发模式与测试
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/repository"

	"github.com/sirupsen/logrus"
)

type Store struct {
	mu          sync.RWMutex
	clock       *repository.RevisionClock
	notify      *repository.Notifier
	nextID      uint64
	communities map[uint64]*model.Community
	members     map[model.MembershipKey]*model.Membership
	bans        map[model.MembershipKey]*model.BanRecord
	resources   map[uint64]*model.Resource
	users       map[uint64]*model.User
}

var _ repository.Store = (*Store)(nil)

func NewStore(pub repository.Publisher, log logrus.FieldLogger, now func() time.Time) *Store {
	return &Store{
		clock:       repository.NewRevisionClock(now),
		notify:      repository.NewNotifier(pub, log),
		communities: make(map[uint64]*model.Community),
		members:     make(map[model.MembershipKey]*model.Membership),
		bans:        make(map[model.MembershipKey]*model.BanRecord),
		resources:   make(map[uint64]*model.Resource),
		users:       make(map[uint64]*model.User),
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// PutUser 用户目录由外部系统维护，这里只提供写入入口
func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Store) CreateCommunity(ctx context.Context, c *model.Community, owner *model.Membership) error {
	s.mu.Lock()
	for _, existing := range s.communities {
		if existing.Name == c.Name {
			s.mu.Unlock()
			return pkg.Conflict("store.create_community", nil)
		}
	}
	now := s.clock.Now()
	rev := s.clock.Next()
	c.ID = s.id()
	c.Revision, c.CreatedAt, c.UpdatedAt = rev, now, now
	c.MemberCount, c.AdminIDs, c.ModeratorIDs = 0, nil, nil
	c.ApplyRoster(nil, owner)

	owner.ID = s.id()
	owner.CommunityID = c.ID
	owner.Revision, owner.CreatedAt, owner.UpdatedAt = rev, now, now

	s.communities[c.ID] = c.Clone()
	s.members[owner.Key()] = owner.Clone()
	s.mu.Unlock()

	s.notify.Membership(ctx, owner)
	return nil
}

func (s *Store) GetCommunity(_ context.Context, id uint64) (*model.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communities[id]
	if !ok {
		return nil, pkg.NotFound("store.get_community", "record not found")
	}
	return c.Clone(), nil
}

func (s *Store) ListCommunities(_ context.Context, offset, limit int) ([]model.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]model.Community, 0, len(s.communities))
	for _, c := range s.communities {
		list = append(list, *c.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if offset >= len(list) {
		return []model.Community{}, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

func (s *Store) ArchiveCommunity(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[id]
	if !ok {
		return pkg.NotFound("store.archive_community", "record not found")
	}
	c.Archived = true
	c.Revision, c.UpdatedAt = s.clock.Next(), s.clock.Now()
	return nil
}

func (s *Store) GetMembership(_ context.Context, key model.MembershipKey) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[key]
	if !ok {
		return nil, pkg.NotFound("store.get_membership", "record not found")
	}
	return m.Clone(), nil
}

func (s *Store) ListMemberships(_ context.Context, communityID uint64) ([]model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]model.Membership, 0)
	for _, m := range s.members {
		if m.CommunityID == communityID {
			list = append(list, *m.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Store) InsertMembership(ctx context.Context, m *model.Membership) error {
	s.mu.Lock()
	if _, ok := s.members[m.Key()]; ok {
		s.mu.Unlock()
		return pkg.Conflict("store.insert_membership", nil)
	}
	c, ok := s.communities[m.CommunityID]
	if !ok {
		s.mu.Unlock()
		return pkg.NotFound("store.insert_membership", "community not found")
	}
	now := s.clock.Now()
	rev := s.clock.Next()
	m.ID = s.id()
	m.Revision, m.CreatedAt, m.UpdatedAt = rev, now, now
	s.members[m.Key()] = m.Clone()
	s.applyRoster(c, nil, m, rev)
	s.mu.Unlock()

	s.notify.Membership(ctx, m)
	return nil
}

func (s *Store) UpdateMembership(ctx context.Context, m *model.Membership) error {
	s.mu.Lock()
	if err := s.overwrite(m); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify.Membership(ctx, m)
	return nil
}

// overwrite 调用方持有写锁
func (s *Store) overwrite(m *model.Membership) error {
	before, ok := s.members[m.Key()]
	if !ok {
		return pkg.Conflict("store.update_membership", nil)
	}
	now := s.clock.Now()
	rev := s.clock.Next()
	m.ID, m.CreatedAt = before.ID, before.CreatedAt
	m.Revision, m.UpdatedAt = rev, now
	s.members[m.Key()] = m.Clone()
	if c, ok := s.communities[m.CommunityID]; ok {
		s.applyRoster(c, before, m, rev)
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, key model.MembershipKey) error {
	s.mu.Lock()
	before, ok := s.members[key]
	if !ok {
		s.mu.Unlock()
		return pkg.Conflict("store.delete_membership", nil)
	}
	rev := s.clock.Next()
	delete(s.members, key)
	if c, ok := s.communities[key.CommunityID]; ok {
		s.applyRoster(c, before, nil, rev)
	}
	s.mu.Unlock()

	s.notify.MembershipDeleted(ctx, key, rev)
	return nil
}

func (s *Store) applyRoster(c *model.Community, before, after *model.Membership, rev int64) {
	c.ApplyRoster(before, after)
	c.Revision = rev
	c.UpdatedAt = s.clock.Now()
}

func (s *Store) GetBan(_ context.Context, key model.MembershipKey) (*model.BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bans[key]
	if !ok {
		return nil, pkg.NotFound("store.get_ban", "record not found")
	}
	cp := *b
	return &cp, nil
}

func (s *Store) SaveBan(ctx context.Context, ban *model.BanRecord, m *model.Membership) error {
	s.mu.Lock()
	if m != nil {
		if _, ok := s.members[m.Key()]; !ok {
			s.mu.Unlock()
			return pkg.Conflict("store.save_ban", nil)
		}
	}
	now := s.clock.Now()
	if existing, ok := s.bans[ban.Key()]; ok {
		ban.ID, ban.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		ban.ID, ban.CreatedAt = s.id(), now
	}
	ban.Revision, ban.UpdatedAt = s.clock.Next(), now
	cp := *ban
	s.bans[ban.Key()] = &cp
	if m != nil {
		_ = s.overwrite(m)
	}
	s.mu.Unlock()

	if m != nil {
		s.notify.Membership(ctx, m)
	}
	return nil
}

func (s *Store) CreateResource(ctx context.Context, r *model.Resource) error {
	s.mu.Lock()
	now := s.clock.Now()
	r.ID = s.id()
	r.Revision, r.CreatedAt, r.UpdatedAt = s.clock.Next(), now, now
	s.resources[r.ID] = r.Clone()
	s.mu.Unlock()

	s.notify.Resource(ctx, r)
	return nil
}

func (s *Store) GetResource(_ context.Context, id uint64) (*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, pkg.NotFound("store.get_resource", "record not found")
	}
	return r.Clone(), nil
}

func (s *Store) UpdateResource(ctx context.Context, r *model.Resource) error {
	s.mu.Lock()
	before, ok := s.resources[r.ID]
	if !ok {
		s.mu.Unlock()
		return pkg.Conflict("store.update_resource", nil)
	}
	r.CreatedAt = before.CreatedAt
	r.Revision, r.UpdatedAt = s.clock.Next(), s.clock.Now()
	s.resources[r.ID] = r.Clone()
	s.mu.Unlock()

	s.notify.Resource(ctx, r)
	return nil
}

func (s *Store) ListResources(_ context.Context, communityID uint64, status model.ResourceStatus) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]model.Resource, 0)
	for _, r := range s.resources {
		if r.CommunityID != communityID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		list = append(list, *r.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (s *Store) GetUser(_ context.Context, id uint64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pkg.NotFound("store.get_user", "record not found")
	}
	cp := *u
	return &cp, nil
}

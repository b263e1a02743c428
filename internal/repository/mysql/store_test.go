package mysql

import (
	"context"
	"sync"
	"testing"
	"time"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type capture struct {
	mu      sync.Mutex
	changes []model.Change
}

func (c *capture) Publish(_ context.Context, ch model.Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
	return nil
}

func (c *capture) last() model.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[len(c.changes)-1]
}

func newTestStore(t *testing.T) (*Store, *capture) {
	return newTestStoreConns(t, 1)
}

func newTestStoreConns(t *testing.T, conns int) (*Store, *capture) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))

	pub := &capture{}
	return NewStore(db, pub, nil, nil), pub
}

func seedCommunity(t *testing.T, s *Store) *model.Community {
	t.Helper()
	c := &model.Community{Name: "gophers", Visibility: model.VisibilityPublic, JoinPolicy: model.JoinPolicyOpen, OwnerID: 1}
	owner := &model.Membership{UserID: 1, Role: model.RoleOwner, Status: model.StatusActive, JoinedAt: time.Now(), JoinMethod: model.JoinDirect}
	require.NoError(t, s.CreateCommunity(context.Background(), c, owner))
	return c
}

func TestCreateCommunity(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)
	require.NotZero(t, c.ID)

	got, err := s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MemberCount)
	assert.Equal(t, uint64(1), got.OwnerID)

	owner, err := s.GetMembership(ctx, model.MembershipKey{UserID: 1, CommunityID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, model.RoleOwner, owner.Role)
	assert.Equal(t, model.MembersTopic(c.ID), pub.last().Topic)

	// 名称重复时整个事务回滚
	dup := &model.Community{Name: "gophers", OwnerID: 2, Visibility: model.VisibilityPublic, JoinPolicy: model.JoinPolicyOpen}
	err = s.CreateCommunity(ctx, dup, &model.Membership{UserID: 2, Role: model.RoleOwner, Status: model.StatusActive})
	assert.ErrorIs(t, err, pkg.ErrConflictOnWrite)
	_, err = s.GetMembership(ctx, model.MembershipKey{UserID: 2, CommunityID: dup.ID})
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	_, err = s.GetCommunity(ctx, 999)
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	list, err := s.ListCommunities(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.ArchiveCommunity(ctx, c.ID))
	got, err = s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.ErrorIs(t, s.ArchiveCommunity(ctx, 999), pkg.ErrNotFound)
}

func TestMembershipWrites(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)

	m := &model.Membership{CommunityID: c.ID, UserID: 5, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: time.Now(), JoinMethod: model.JoinDirect}
	require.NoError(t, s.InsertMembership(ctx, m))
	rev := m.Revision

	dup := &model.Membership{CommunityID: c.ID, UserID: 5, Role: model.RoleMember, Status: model.StatusActive}
	assert.ErrorIs(t, s.InsertMembership(ctx, dup), pkg.ErrConflictOnWrite)

	m.Role = model.RoleModerator
	m.Permissions = []string{"ban_members"}
	require.NoError(t, s.UpdateMembership(ctx, m))
	assert.Greater(t, m.Revision, rev)

	got, err := s.GetMembership(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, model.RoleModerator, got.Role)
	assert.Equal(t, []string{"ban_members"}, got.Permissions)

	cm, err := s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cm.MemberCount)
	assert.Equal(t, []uint64{5}, cm.ModeratorIDs)

	// 整文档覆盖：清空授权也会落库
	m.Permissions = nil
	require.NoError(t, s.UpdateMembership(ctx, m))
	got, err = s.GetMembership(ctx, m.Key())
	require.NoError(t, err)
	assert.Empty(t, got.Permissions)

	require.NoError(t, s.DeleteMembership(ctx, m.Key()))
	last := pub.last()
	assert.Equal(t, model.ChangeDelete, last.Kind)
	assert.Equal(t, m.Key().String(), last.DocID)
	assert.Greater(t, last.Revision, m.Revision)

	cm, err = s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cm.MemberCount)
	assert.Empty(t, cm.ModeratorIDs)

	// 已被并发删除的记录不能再被覆盖或删除
	assert.ErrorIs(t, s.UpdateMembership(ctx, m), pkg.ErrConflictOnWrite)
	assert.ErrorIs(t, s.DeleteMembership(ctx, m.Key()), pkg.ErrConflictOnWrite)

	list, err := s.ListMemberships(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveBan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)

	m := &model.Membership{CommunityID: c.ID, UserID: 5, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: time.Now()}
	require.NoError(t, s.InsertMembership(ctx, m))

	banned := m.Clone()
	banned.Status = model.StatusBanned
	ban := &model.BanRecord{CommunityID: c.ID, UserID: 5, Reason: "spam", ModeratorID: 1}
	require.NoError(t, s.SaveBan(ctx, ban, banned))

	got, err := s.GetBan(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, "spam", got.Reason)
	assert.Nil(t, got.ExpiresAt)

	gm, err := s.GetMembership(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, model.StatusBanned, gm.Status)

	cm, err := s.GetCommunity(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cm.MemberCount)

	// 重复封禁更新原记录
	hours := 2
	expires := time.Now().Add(2 * time.Hour)
	again := &model.BanRecord{CommunityID: c.ID, UserID: 5, Reason: "spam again", ModeratorID: 1, Duration: &hours, ExpiresAt: &expires}
	require.NoError(t, s.SaveBan(ctx, again, nil))
	assert.Equal(t, ban.ID, again.ID)
	got, err = s.GetBan(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, "spam again", got.Reason)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 2, *got.Duration)

	// 非成员封禁只写封禁记录
	require.NoError(t, s.SaveBan(ctx, &model.BanRecord{CommunityID: c.ID, UserID: 9, Reason: "spam", ModeratorID: 1}, nil))
	_, err = s.GetMembership(ctx, model.MembershipKey{UserID: 9, CommunityID: c.ID})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestResourceWrites(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)

	r := &model.Resource{CommunityID: c.ID, UploaderID: 5, UploaderRole: model.RoleMember, Title: "notes",
		Status: model.ResourcePending, ApprovalStatus: model.ApprovalPendingReview, Visibility: model.ResourceMembers}
	require.NoError(t, s.CreateResource(ctx, r))
	assert.Equal(t, model.ResourcesTopic(c.ID), pub.last().Topic)

	next := r.Clone()
	approver := uint64(1)
	next.Status, next.ApprovalStatus, next.ApprovedBy = model.ResourceApproved, model.ApprovalManual, &approver
	require.NoError(t, s.UpdateResource(ctx, next))
	assert.Greater(t, next.Revision, r.Revision)

	got, err := s.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResourceApproved, got.Status)
	require.NotNil(t, got.ApprovedBy)

	pending, err := s.ListResources(ctx, c.ID, model.ResourcePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := s.ListResources(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing := r.Clone()
	missing.ID = 999
	assert.ErrorIs(t, s.UpdateResource(ctx, missing), pkg.ErrConflictOnWrite)
	_, err = s.GetResource(ctx, 999)
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestRevisionsIncrease(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)
	for uid := uint64(10); uid < 15; uid++ {
		require.NoError(t, s.InsertMembership(ctx, &model.Membership{CommunityID: c.ID, UserID: uid, Role: model.RoleMember, Status: model.StatusActive}))
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i := 1; i < len(pub.changes); i++ {
		assert.Greater(t, pub.changes[i].Revision, pub.changes[i-1].Revision)
	}
}

type holdKey struct{}

// 写入 A 在事务开始后被挂起，写入 B 完整提交后再放行 A；
// A 最后提交，它的版本必须更大，同步视图才会收敛到库里的文档
func TestRacingUpdatesConvergeInView(t *testing.T) {
	s, pub := newTestStoreConns(t, 2)
	ctx := context.Background()
	c := seedCommunity(t, s)
	m := &model.Membership{CommunityID: c.ID, UserID: 5, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: time.Now()}
	require.NoError(t, s.InsertMembership(ctx, m))

	held, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	require.NoError(t, s.DB.Callback().Query().Before("gorm:query").Register("test:hold", func(tx *gorm.DB) {
		if tx.Statement.Context.Value(holdKey{}) == nil {
			return
		}
		once.Do(func() {
			close(held)
			<-release
		})
	}))

	promote, demote := m.Clone(), m.Clone()
	promote.Role, demote.Role = model.RoleModerator, model.RoleContributor

	errA := make(chan error, 1)
	go func() { errA <- s.UpdateMembership(context.WithValue(ctx, holdKey{}, true), promote) }()
	<-held
	require.NoError(t, s.UpdateMembership(ctx, demote))
	close(release)
	require.NoError(t, <-errA)
	assert.Greater(t, promote.Revision, demote.Revision)

	stored, err := s.GetMembership(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, model.RoleModerator, stored.Role)

	pub.mu.Lock()
	changes := append([]model.Change(nil), pub.changes...)
	pub.mu.Unlock()

	tests := []struct {
		name  string
		order func([]model.Change) []model.Change
	}{
		{"publish order", func(list []model.Change) []model.Change { return list }},
		{"reversed", func(list []model.Change) []model.Change {
			out := make([]model.Change, 0, len(list))
			for i := len(list) - 1; i >= 0; i-- {
				out = append(out, list[i])
			}
			return out
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := realtime.NewMembershipView(nil)
			for _, ch := range tt.order(changes) {
				_, err := view.Apply(ch)
				require.NoError(t, err)
			}
			got, ok := view.Get(m.Key().String())
			require.True(t, ok)
			assert.Equal(t, stored.Role, got.Role)
			assert.Equal(t, stored.Revision, got.Revision)
		})
	}
}

func TestResourceRevisionFollowsCommittedRow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	c := seedCommunity(t, s)
	r := &model.Resource{CommunityID: c.ID, UploaderID: 1, Title: "notes",
		Status: model.ResourcePending, ApprovalStatus: model.ApprovalPendingReview, Visibility: model.ResourcePublic}
	require.NoError(t, s.CreateResource(ctx, r))

	// 其他实例写入的版本领先本地时钟
	ahead := r.Revision + int64(time.Hour)
	require.NoError(t, s.DB.Model(&model.Resource{}).Where("id = ?", r.ID).Update("revision", ahead).Error)

	next := r.Clone()
	next.Title = "notes v2"
	require.NoError(t, s.UpdateResource(ctx, next))
	assert.Greater(t, next.Revision, ahead)
}

package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"Community_Access/internal/access"
	"Community_Access/internal/events"
	"Community_Access/internal/membership"
	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ModerationService 社区成员与资源的唯一写入入口
//
// 每个方法都先重新读取社区、操作者与目标，再做守卫判定，最后只执行一次原子写入。
// 失败不会自动重试，由调用方决定。
type ModerationService struct {
	store     repository.Store
	events    events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
	bulkLimit int
}

func NewModerationService(store repository.Store, ev events.Publisher, log logrus.FieldLogger, now func() time.Time) *ModerationService {
	if ev == nil {
		ev = events.Nop{}
	}
	if log == nil {
		log = pkg.Discard()
	}
	if now == nil {
		now = time.Now
	}
	return &ModerationService{store: store, events: ev, log: log, now: now, bulkLimit: 8}
}

type CreateCommunityInput struct {
	Name        string
	Description string
	Visibility  model.Visibility
	JoinPolicy  model.JoinPolicy
}

func (s *ModerationService) CreateCommunity(ctx context.Context, userID uint64, in CreateCommunityInput) (*model.Community, error) {
	const op = "service.create_community"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, pkg.Validation(op, "community name required")
	}
	if userID == 0 {
		return nil, pkg.Validation(op, "owner required")
	}
	if in.Visibility == "" {
		in.Visibility = model.VisibilityPublic
	}
	if in.JoinPolicy == "" {
		in.JoinPolicy = model.JoinPolicyOpen
	}
	if !in.Visibility.Valid() {
		return nil, pkg.Validation(op, "unknown visibility %q", in.Visibility)
	}
	if !in.JoinPolicy.Valid() {
		return nil, pkg.Validation(op, "unknown join policy %q", in.JoinPolicy)
	}

	now := s.now()
	c := &model.Community{
		Name:        name,
		Description: in.Description,
		Visibility:  in.Visibility,
		JoinPolicy:  in.JoinPolicy,
		OwnerID:     userID,
	}
	owner := &model.Membership{
		UserID:     userID,
		Role:       model.RoleOwner,
		Status:     model.StatusActive,
		JoinedAt:   now,
		JoinMethod: model.JoinDirect,
	}
	err := s.store.CreateCommunity(ctx, c, owner)
	s.finish(ctx, model.ActionCreateCommunity, model.ModerationEvent{CommunityID: c.ID, ActorID: userID, Detail: name}, err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ArchiveCommunity 只有社区所有者可以归档
func (s *ModerationService) ArchiveCommunity(ctx context.Context, actorID, communityID uint64) error {
	const op = "service.archive_community"
	in, err := s.load(ctx, communityID, actorID, 0)
	if err != nil {
		return err
	}
	if in.Community.Archived {
		return pkg.InvalidTransition(op, "community is already archived")
	}
	if !access.HasPermission(access.FromMembership(actorID, in.Actor), access.PermManageCommunity) {
		return pkg.PermissionDenied(op, "missing permission %s", access.PermManageCommunity)
	}
	err = s.store.ArchiveCommunity(ctx, communityID)
	s.finish(ctx, model.ActionArchiveCommunity, model.ModerationEvent{CommunityID: communityID, ActorID: actorID}, err)
	return err
}

func (s *ModerationService) JoinCommunity(ctx context.Context, userID, communityID uint64) (*model.Membership, error) {
	return s.enter(ctx, membership.Join, userID, communityID)
}

func (s *ModerationService) RequestToJoin(ctx context.Context, userID, communityID uint64) (*model.Membership, error) {
	return s.enter(ctx, membership.Request, userID, communityID)
}

// enter 新建成员记录；封禁过期后遗留的 banned 行被整体覆盖
func (s *ModerationService) enter(ctx context.Context, t membership.Transition, userID, communityID uint64) (*model.Membership, error) {
	in, err := s.load(ctx, communityID, userID, userID)
	if err != nil {
		return nil, err
	}
	out, err := membership.Check(t, in)
	if err != nil {
		return nil, s.fail(string(t), in, err)
	}

	m := &model.Membership{
		CommunityID: communityID,
		UserID:      userID,
		Role:        model.RoleMember,
		Status:      out.To,
		JoinedAt:    in.Now,
		JoinMethod:  model.JoinDirect,
	}
	if t == membership.Request {
		m.JoinMethod = model.JoinRequest
	}
	if in.Subject != nil {
		err = s.store.UpdateMembership(ctx, m)
	} else {
		err = s.store.InsertMembership(ctx, m)
	}
	action := model.ActionJoin
	if t == membership.Request {
		action = model.ActionRequest
	}
	s.finish(ctx, action, model.ModerationEvent{CommunityID: communityID, ActorID: userID, SubjectID: userID}, err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *ModerationService) WithdrawRequest(ctx context.Context, userID, communityID uint64) error {
	return s.remove(ctx, membership.Withdraw, model.ActionWithdraw, userID, communityID, userID, "")
}

func (s *ModerationService) LeaveCommunity(ctx context.Context, userID, communityID uint64) error {
	return s.remove(ctx, membership.Leave, model.ActionLeave, userID, communityID, userID, "")
}

func (s *ModerationService) RejectRequest(ctx context.Context, actorID, communityID, userID uint64, reason string) error {
	return s.remove(ctx, membership.Reject, model.ActionRejectRequest, actorID, communityID, userID, reason)
}

// RemoveMember 踢出成员，之后可以重新加入
func (s *ModerationService) RemoveMember(ctx context.Context, actorID, communityID, userID uint64, reason string) error {
	return s.remove(ctx, membership.Kick, model.ActionKick, actorID, communityID, userID, reason)
}

func (s *ModerationService) remove(ctx context.Context, t membership.Transition, action string, actorID, communityID, subjectID uint64, reason string) error {
	in, err := s.load(ctx, communityID, actorID, subjectID)
	if err != nil {
		return err
	}
	in.Reason = reason
	if _, err := membership.Check(t, in); err != nil {
		return s.fail(action, in, err)
	}
	err = s.store.DeleteMembership(ctx, in.Subject.Key())
	s.finish(ctx, action, model.ModerationEvent{
		CommunityID: communityID, ActorID: actorID, SubjectID: subjectID, Reason: reason,
	}, err)
	return err
}

func (s *ModerationService) ApproveRequest(ctx context.Context, actorID, communityID, userID uint64) (*model.Membership, error) {
	return s.update(ctx, membership.Approve, model.ActionApproveRequest, membership.Input{
		ActorID: actorID, SubjectID: userID,
	}, communityID, func(m *model.Membership, now time.Time) {
		m.Status = model.StatusActive
		m.JoinedAt = now
	})
}

func (s *ModerationService) SuspendMember(ctx context.Context, actorID, communityID, userID uint64, reason string) (*model.Membership, error) {
	return s.update(ctx, membership.Suspend, model.ActionSuspend, membership.Input{
		ActorID: actorID, SubjectID: userID, Reason: reason,
	}, communityID, func(m *model.Membership, _ time.Time) {
		m.Status = model.StatusSuspended
	})
}

func (s *ModerationService) ReinstateMember(ctx context.Context, actorID, communityID, userID uint64) (*model.Membership, error) {
	return s.update(ctx, membership.Reinstate, model.ActionReinstate, membership.Input{
		ActorID: actorID, SubjectID: userID,
	}, communityID, func(m *model.Membership, _ time.Time) {
		m.Status = model.StatusActive
	})
}

// ChangeMemberRole 角色变更不影响成员状态
func (s *ModerationService) ChangeMemberRole(ctx context.Context, actorID, communityID, userID uint64, role model.Role) (*model.Membership, error) {
	if !role.Valid() {
		return nil, pkg.Validation("service.change_role", "unknown role %q", role)
	}
	return s.update(ctx, membership.ChangeRole, model.ActionChangeRole, membership.Input{
		ActorID: actorID, SubjectID: userID, NewRole: role,
	}, communityID, func(m *model.Membership, _ time.Time) {
		m.Role = role
	})
}

// UpdatePermissions 整体替换显式授权集合
func (s *ModerationService) UpdatePermissions(ctx context.Context, actorID, communityID, userID uint64, perms []string) (*model.Membership, error) {
	set := make([]string, 0, len(perms))
	for _, p := range perms {
		if !access.Permission(p).Valid() {
			return nil, pkg.Validation("service.update_permissions", "unknown permission %q", p)
		}
		if !slices.Contains(set, p) {
			set = append(set, p)
		}
	}
	return s.update(ctx, membership.UpdatePermissions, model.ActionUpdatePermission, membership.Input{
		ActorID: actorID, SubjectID: userID, Permissions: set,
	}, communityID, func(m *model.Membership, _ time.Time) {
		m.Permissions = set
	})
}

func (s *ModerationService) update(ctx context.Context, t membership.Transition, action string, params membership.Input,
	communityID uint64, mutate func(m *model.Membership, now time.Time)) (*model.Membership, error) {
	in, err := s.load(ctx, communityID, params.ActorID, params.SubjectID)
	if err != nil {
		return nil, err
	}
	in.NewRole, in.Permissions, in.Reason = params.NewRole, params.Permissions, params.Reason
	if _, err := membership.Check(t, in); err != nil {
		return nil, s.fail(action, in, err)
	}

	next := in.Subject.Clone()
	mutate(next, in.Now)
	err = s.store.UpdateMembership(ctx, next)
	s.finish(ctx, action, model.ModerationEvent{
		CommunityID: communityID, ActorID: params.ActorID, SubjectID: params.SubjectID,
		Reason: params.Reason, Detail: detail(t, next),
	}, err)
	if err != nil {
		return nil, err
	}
	return next, nil
}

func detail(t membership.Transition, m *model.Membership) string {
	switch t {
	case membership.ChangeRole:
		return "role=" + string(m.Role)
	case membership.UpdatePermissions:
		return "permissions=" + strings.Join(m.Permissions, ",")
	}
	return ""
}

type BanInput struct {
	UserID        uint64
	Reason        string
	DurationHours *int
}

// CreateBan 封禁记录与成员状态在同一事务中写入；允许封禁非成员，重复封禁会更新原记录
func (s *ModerationService) CreateBan(ctx context.Context, actorID, communityID uint64, in BanInput) (*model.BanRecord, error) {
	const op = "service.create_ban"
	if in.UserID == 0 {
		return nil, pkg.Validation(op, "user_id is required")
	}
	if in.DurationHours != nil && *in.DurationHours <= 0 {
		return nil, pkg.Validation(op, "ban duration must be positive")
	}
	st, err := s.load(ctx, communityID, actorID, in.UserID)
	if err != nil {
		return nil, err
	}
	st.Reason = strings.TrimSpace(in.Reason)
	if _, err := membership.Check(membership.Ban, st); err != nil {
		return nil, s.fail(model.ActionBan, st, err)
	}

	ban := &model.BanRecord{
		CommunityID: communityID,
		UserID:      in.UserID,
		Reason:      st.Reason,
		ModeratorID: actorID,
	}
	if in.DurationHours != nil {
		h := *in.DurationHours
		expires := st.Now.Add(time.Duration(h) * time.Hour)
		ban.Duration, ban.ExpiresAt = &h, &expires
	}
	var m *model.Membership
	if st.Subject != nil {
		m = st.Subject.Clone()
		m.Status = model.StatusBanned
	}
	err = s.store.SaveBan(ctx, ban, m)
	s.finish(ctx, model.ActionBan, model.ModerationEvent{
		CommunityID: communityID, ActorID: actorID, SubjectID: in.UserID, Reason: st.Reason,
	}, err)
	if err != nil {
		return nil, err
	}
	return ban, nil
}

func (s *ModerationService) GetCommunity(ctx context.Context, id uint64) (*model.Community, error) {
	return s.store.GetCommunity(ctx, id)
}

func (s *ModerationService) ListCommunities(ctx context.Context, page, size int) ([]model.Community, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 50 {
		size = 20
	}
	return s.store.ListCommunities(ctx, (page-1)*size, size)
}

// ListMembers 版主以上可见全部记录，其余成员只看到在册成员；私有社区仅对成员可见
func (s *ModerationService) ListMembers(ctx context.Context, viewerID, communityID uint64) ([]model.Membership, error) {
	scope, err := s.Scope(ctx, viewerID, communityID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListMemberships(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(list, func(m model.Membership) bool { return !scope.Member(m) }), nil
}

// load 读取守卫需要的最新状态；成员记录与封禁记录不存在时为 nil
func (s *ModerationService) load(ctx context.Context, communityID, actorID, subjectID uint64) (membership.Input, error) {
	in := membership.Input{ActorID: actorID, SubjectID: subjectID, Now: s.now()}
	if communityID == 0 || actorID == 0 {
		return in, pkg.Validation("service.load", "community and actor are required")
	}
	c, err := s.store.GetCommunity(ctx, communityID)
	if err != nil {
		return in, err
	}
	in.Community = c
	if in.Actor, err = s.membership(ctx, actorID, communityID); err != nil {
		return in, err
	}
	if subjectID == 0 {
		return in, nil
	}
	if in.Subject, err = s.membership(ctx, subjectID, communityID); err != nil {
		return in, err
	}
	key := model.MembershipKey{UserID: subjectID, CommunityID: communityID}
	ban, err := s.store.GetBan(ctx, key)
	switch {
	case err == nil:
		in.Ban = ban
	case pkg.KindOf(err) != pkg.KindNotFound:
		return in, err
	}
	return in, nil
}

func (s *ModerationService) membership(ctx context.Context, userID, communityID uint64) (*model.Membership, error) {
	key, err := model.NewMembershipKey(userID, communityID)
	if err != nil {
		return nil, pkg.Validation("service.load", "%v", err)
	}
	m, err := s.store.GetMembership(ctx, key)
	if pkg.KindOf(err) == pkg.KindNotFound {
		return nil, nil
	}
	return m, err
}

// fail 守卫失败，写入之前返回
func (s *ModerationService) fail(action string, in membership.Input, err error) error {
	pkg.ModerationActions.WithLabelValues(action, pkg.Outcome(err)).Inc()
	s.log.WithFields(logrus.Fields{
		"action":       action,
		"community_id": in.Community.ID,
		"actor_id":     in.ActorID,
		"user_id":      in.SubjectID,
	}).WithError(err).Info("moderation action denied")
	return err
}

// finish 记录指标与日志，成功时发布审核事件；事件发布失败不影响结果
func (s *ModerationService) finish(ctx context.Context, action string, ev model.ModerationEvent, err error) {
	pkg.ModerationActions.WithLabelValues(action, pkg.Outcome(err)).Inc()
	fields := logrus.Fields{
		"action":       action,
		"community_id": ev.CommunityID,
		"actor_id":     ev.ActorID,
	}
	if ev.SubjectID != 0 {
		fields["user_id"] = ev.SubjectID
	}
	if ev.ResourceID != 0 {
		fields["resource_id"] = ev.ResourceID
	}
	log := s.log.WithFields(fields)
	if err != nil {
		log.WithError(err).Warn("moderation write failed")
		return
	}
	log.Info("moderation action applied")

	ev.ID = uuid.NewString()
	ev.Action = action
	ev.OccurredAt = s.now()
	if perr := s.events.PublishEvent(context.WithoutCancel(ctx), ev); perr != nil {
		log.WithError(perr).Warn("publish moderation event")
	}
}

// ViewerScope 查看者在社区内能看到的范围；列表查询与实时订阅共用同一套规则
type ViewerScope struct {
	ViewerID          uint64
	SeesAllMembers    bool
	SeesAllResources  bool
	SeesMemberContent bool
}

// Member 审核者以下只看到计入成员数的记录
func (v ViewerScope) Member(m model.Membership) bool {
	return v.SeesAllMembers || m.Counted()
}

// Resource 非审核者只看到已通过的资源和自己上传的资源，仅成员可见的资源还要求成员身份
func (v ViewerScope) Resource(r model.Resource) bool {
	if v.SeesAllResources || r.UploaderID == v.ViewerID {
		return true
	}
	if r.Status != model.ResourceApproved {
		return false
	}
	return r.Visibility != model.ResourceMembers || v.SeesMemberContent
}

// Covers 当前范围不小于 o
func (v ViewerScope) Covers(o ViewerScope) bool {
	return (v.SeesAllMembers || !o.SeesAllMembers) &&
		(v.SeesAllResources || !o.SeesAllResources) &&
		(v.SeesMemberContent || !o.SeesMemberContent)
}

// Scope 私有社区拒绝没有 view_content 的查看者
func (s *ModerationService) Scope(ctx context.Context, viewerID, communityID uint64) (ViewerScope, error) {
	in, err := s.load(ctx, communityID, viewerID, 0)
	if err != nil {
		return ViewerScope{}, err
	}
	viewer := access.FromMembership(viewerID, in.Actor)
	member := access.HasPermission(viewer, access.PermViewContent)
	if in.Community.Visibility == model.VisibilityPrivate && !member {
		return ViewerScope{}, pkg.PermissionDenied("service.scope", "private community")
	}
	return ViewerScope{
		ViewerID:          viewerID,
		SeesAllMembers:    access.IsModeratorOrAbove(viewer),
		SeesAllResources:  access.HasPermission(viewer, access.PermModerateContent),
		SeesMemberContent: member,
	}, nil
}

package service

import (
	"context"
	"slices"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/review"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type ResourceInput struct {
	Title      string
	URL        string
	Visibility model.ResourceVisibility
}

// SubmitResource 拥有审核权限的上传者提交的资源直接通过
func (s *ModerationService) SubmitResource(ctx context.Context, actorID, communityID uint64, in ResourceInput) (*model.Resource, error) {
	const op = "service.submit_resource"
	st, err := s.load(ctx, communityID, actorID, 0)
	if err != nil {
		return nil, err
	}
	if st.Community.Archived {
		return nil, s.fail(model.ActionSubmitResource, st, pkg.InvalidTransition(op, "community is archived"))
	}
	if in.Visibility != "" && in.Visibility != model.ResourcePublic && in.Visibility != model.ResourceMembers {
		return nil, pkg.Validation(op, "unknown visibility %q", in.Visibility)
	}
	r, err := review.Submit(actorID, st.Actor, &model.Resource{
		CommunityID: communityID,
		Title:       in.Title,
		URL:         in.URL,
		Visibility:  in.Visibility,
	})
	if err != nil {
		return nil, s.fail(model.ActionSubmitResource, st, err)
	}
	err = s.store.CreateResource(ctx, r)
	s.finish(ctx, model.ActionSubmitResource, model.ModerationEvent{
		CommunityID: communityID, ActorID: actorID, ResourceID: r.ID, Detail: string(r.Status),
	}, err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ModerationService) ApproveResource(ctx context.Context, actorID, resourceID uint64, notes string) (*model.Resource, error) {
	return s.moderate(ctx, model.ActionApproveResource, resourceID, review.Request{Action: review.Approve, ActorID: actorID, Notes: notes})
}

func (s *ModerationService) RejectResource(ctx context.Context, actorID, resourceID uint64, reason, notes string) (*model.Resource, error) {
	return s.moderate(ctx, model.ActionRejectResource, resourceID, review.Request{Action: review.Reject, ActorID: actorID, Reason: reason, Notes: notes})
}

func (s *ModerationService) ArchiveResource(ctx context.Context, actorID, resourceID uint64) (*model.Resource, error) {
	return s.moderate(ctx, model.ActionArchiveResource, resourceID, review.Request{Action: review.Archive, ActorID: actorID})
}

func (s *ModerationService) ReportResource(ctx context.Context, actorID, resourceID uint64, reason string) (*model.Resource, error) {
	return s.moderate(ctx, model.ActionReportResource, resourceID, review.Request{Action: review.Report, ActorID: actorID, Reason: reason})
}

// ResubmitResource 上传者修改后重新提交被驳回的资源
func (s *ModerationService) ResubmitResource(ctx context.Context, actorID, resourceID uint64) (*model.Resource, error) {
	return s.moderate(ctx, model.ActionResubmitResource, resourceID, review.Request{Action: review.Resubmit, ActorID: actorID})
}

func (s *ModerationService) moderate(ctx context.Context, action string, resourceID uint64, req review.Request) (*model.Resource, error) {
	cur, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCommunity(ctx, cur.CommunityID)
	if err != nil {
		return nil, err
	}
	if req.Actor, err = s.membership(ctx, req.ActorID, cur.CommunityID); err != nil {
		return nil, err
	}
	next, err := review.Apply(cur, req)
	if err == nil && c.Archived {
		next, err = nil, pkg.InvalidTransition("service."+action, "community is archived")
	}
	if err != nil {
		pkg.ModerationActions.WithLabelValues(action, pkg.Outcome(err)).Inc()
		s.log.WithFields(logrus.Fields{
			"action":       action,
			"community_id": cur.CommunityID,
			"actor_id":     req.ActorID,
			"resource_id":  resourceID,
		}).WithError(err).Info("moderation action denied")
		return nil, err
	}
	err = s.store.UpdateResource(ctx, next)
	s.finish(ctx, action, model.ModerationEvent{
		CommunityID: cur.CommunityID,
		ActorID:     req.ActorID,
		SubjectID:   cur.UploaderID,
		ResourceID:  resourceID,
		Reason:      req.Reason,
		Detail:      req.Notes,
	}, err)
	if err != nil {
		return nil, err
	}
	return next, nil
}

type ItemError struct {
	ID        uint64 `json:"id"`
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// BulkResult 批量操作逐项执行，部分失败不影响其余条目
type BulkResult struct {
	Succeeded []uint64    `json:"succeeded"`
	Failed    []ItemError `json:"failed"`
}

func (s *ModerationService) BulkApprove(ctx context.Context, actorID uint64, ids []uint64, notes string) BulkResult {
	return s.bulk(ctx, ids, func(ctx context.Context, id uint64) error {
		_, err := s.ApproveResource(ctx, actorID, id, notes)
		return err
	})
}

func (s *ModerationService) BulkReject(ctx context.Context, actorID uint64, ids []uint64, reason string) BulkResult {
	return s.bulk(ctx, ids, func(ctx context.Context, id uint64) error {
		_, err := s.RejectResource(ctx, actorID, id, reason, "")
		return err
	})
}

func (s *ModerationService) bulk(ctx context.Context, ids []uint64, one func(ctx context.Context, id uint64) error) BulkResult {
	uniq := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(uniq, id) {
			uniq = append(uniq, id)
		}
	}
	errs := make([]error, len(uniq))

	var g errgroup.Group
	g.SetLimit(s.bulkLimit)
	for i, id := range uniq {
		g.Go(func() error {
			errs[i] = one(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Succeeded: []uint64{}, Failed: []ItemError{}}
	for i, id := range uniq {
		if errs[i] == nil {
			res.Succeeded = append(res.Succeeded, id)
			continue
		}
		res.Failed = append(res.Failed, ItemError{
			ID:        id,
			Code:      pkg.KindOf(errs[i]).String(),
			Msg:       errs[i].Error(),
			Retryable: pkg.Retryable(errs[i]),
			Err:       errs[i],
		})
	}
	return res
}

// ListResources 审核者可见全部状态；其余成员只看到已通过的资源和自己上传的资源
func (s *ModerationService) ListResources(ctx context.Context, viewerID, communityID uint64, status model.ResourceStatus) ([]model.Resource, error) {
	if status != "" && !status.Valid() {
		return nil, pkg.Validation("service.list_resources", "unknown status %q", status)
	}
	scope, err := s.Scope(ctx, viewerID, communityID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListResources(ctx, communityID, status)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(list, func(r model.Resource) bool { return !scope.Resource(r) }), nil
}

// ViewerLister 以某个查看者的身份执行列表查询，供实时层加载初始快照
type ViewerLister struct {
	svc      *ModerationService
	viewerID uint64
}

func (s *ModerationService) ListerFor(viewerID uint64) ViewerLister {
	return ViewerLister{svc: s, viewerID: viewerID}
}

func (l ViewerLister) ListMemberships(ctx context.Context, communityID uint64) ([]model.Membership, error) {
	return l.svc.ListMembers(ctx, l.viewerID, communityID)
}

func (l ViewerLister) ListResources(ctx context.Context, communityID uint64, status model.ResourceStatus) ([]model.Resource, error) {
	return l.svc.ListResources(ctx, l.viewerID, communityID, status)
}

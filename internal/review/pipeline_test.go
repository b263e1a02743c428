package review

import (
	"testing"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moderator() *model.Membership {
	return &model.Membership{CommunityID: 7, UserID: 2, Role: model.RoleModerator, Status: model.StatusActive}
}

func resource(status model.ResourceStatus, approval model.ApprovalStatus) *model.Resource {
	return &model.Resource{ID: 11, CommunityID: 7, UploaderID: 5, Title: "slides", Status: status, ApprovalStatus: approval}
}

func TestSubmit(t *testing.T) {
	uploader := &model.Membership{CommunityID: 7, UserID: 5, Role: model.RoleMember, Status: model.StatusActive}
	r, err := Submit(5, uploader, &model.Resource{CommunityID: 7, Title: "notes"})
	require.NoError(t, err)
	assert.Equal(t, model.ResourcePending, r.Status)
	assert.Equal(t, model.ApprovalPendingReview, r.ApprovalStatus)
	assert.Equal(t, model.RoleMember, r.UploaderRole)

	r, err = Submit(2, moderator(), &model.Resource{CommunityID: 7, Title: "notes"})
	require.NoError(t, err)
	assert.Equal(t, model.ResourceApproved, r.Status)
	assert.Equal(t, model.ApprovalAuto, r.ApprovalStatus)

	_, err = Submit(5, uploader, &model.Resource{CommunityID: 7})
	assert.ErrorIs(t, err, pkg.ErrValidation)

	pending := &model.Membership{CommunityID: 7, UserID: 6, Role: model.RoleMember, Status: model.StatusPending}
	_, err = Submit(6, pending, &model.Resource{CommunityID: 7, Title: "x"})
	assert.ErrorIs(t, err, pkg.ErrPermissionDenied)
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   model.ResourceStatus
		action Action
		want   model.ResourceStatus
		kind   pkg.Kind
	}{
		{"approve pending", model.ResourcePending, Approve, model.ResourceApproved, pkg.KindUnknown},
		{"approve rejected", model.ResourceRejected, Approve, model.ResourceApproved, pkg.KindUnknown},
		{"approve reported", model.ResourceReported, Approve, model.ResourceApproved, pkg.KindUnknown},
		{"approve approved", model.ResourceApproved, Approve, "", pkg.KindInvalidTransition},
		{"approve archived", model.ResourceArchived, Approve, "", pkg.KindInvalidTransition},
		{"reject pending", model.ResourcePending, Reject, model.ResourceRejected, pkg.KindUnknown},
		{"reject approved", model.ResourceApproved, Reject, "", pkg.KindInvalidTransition},
		{"archive approved", model.ResourceApproved, Archive, model.ResourceArchived, pkg.KindUnknown},
		{"archive archived", model.ResourceArchived, Archive, "", pkg.KindInvalidTransition},
		{"report approved", model.ResourceApproved, Report, model.ResourceReported, pkg.KindUnknown},
		{"report pending", model.ResourcePending, Report, "", pkg.KindInvalidTransition},
	}
	approvals := map[model.ResourceStatus]model.ApprovalStatus{
		model.ResourcePending:  model.ApprovalPendingReview,
		model.ResourceRejected: model.ApprovalRequiresChanges,
		model.ResourceApproved: model.ApprovalManual,
		model.ResourceReported: model.ApprovalManual,
		model.ResourceArchived: model.ApprovalManual,
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := resource(tt.from, approvals[tt.from])
			next, err := Apply(cur, Request{Action: tt.action, ActorID: 2, Actor: moderator(), Reason: "needs work"})
			if tt.kind != pkg.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.kind, pkg.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Status)
			assert.NoError(t, model.ValidateCoupling(next.Status, next.ApprovalStatus))
			assert.Equal(t, tt.from, cur.Status, "input must not be mutated")
		})
	}
}

func TestApproveSetsModerationMetadata(t *testing.T) {
	next, err := Apply(resource(model.ResourcePending, model.ApprovalPendingReview),
		Request{Action: Approve, ActorID: 2, Actor: moderator(), Notes: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalManual, next.ApprovalStatus)
	require.NotNil(t, next.ApprovedBy)
	assert.Equal(t, uint64(2), *next.ApprovedBy)
	assert.Equal(t, "looks good", next.ReviewNotes)
}

func TestRejectRequiresReason(t *testing.T) {
	_, err := Apply(resource(model.ResourcePending, model.ApprovalPendingReview),
		Request{Action: Reject, ActorID: 2, Actor: moderator()})
	assert.ErrorIs(t, err, pkg.ErrValidation)
}

func TestModerationRequiresPermission(t *testing.T) {
	member := &model.Membership{CommunityID: 7, UserID: 3, Role: model.RoleMember, Status: model.StatusActive}
	_, err := Apply(resource(model.ResourcePending, model.ApprovalPendingReview),
		Request{Action: Approve, ActorID: 3, Actor: member})
	assert.ErrorIs(t, err, pkg.ErrPermissionDenied)

	member.Permissions = []string{"moderate_content"}
	_, err = Apply(resource(model.ResourcePending, model.ApprovalPendingReview),
		Request{Action: Approve, ActorID: 3, Actor: member})
	assert.NoError(t, err)
}

func TestResubmit(t *testing.T) {
	uploader := &model.Membership{CommunityID: 7, UserID: 5, Role: model.RoleMember, Status: model.StatusActive}
	rejected := resource(model.ResourceRejected, model.ApprovalRequiresChanges)

	next, err := Apply(rejected, Request{Action: Resubmit, ActorID: 5, Actor: uploader})
	require.NoError(t, err)
	assert.Equal(t, model.ResourcePending, next.Status)
	assert.Equal(t, model.ApprovalPendingReview, next.ApprovalStatus)

	_, err = Apply(rejected, Request{Action: Resubmit, ActorID: 2, Actor: moderator()})
	assert.ErrorIs(t, err, pkg.ErrPermissionDenied)
}

// Package review 资源审核流水线：pending → approved/rejected/archived/reported
package review

import (
	"slices"
	"strings"

	"Community_Access/internal/access"
	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
)

type Action string

const (
	Approve  Action = "approve"
	Reject   Action = "reject"
	Archive  Action = "archive"
	Report   Action = "report"
	Resubmit Action = "resubmit"
)

// archived 为终态，任何动作都不能离开
var sources = map[Action][]model.ResourceStatus{
	Approve:  {model.ResourcePending, model.ResourceRejected, model.ResourceReported},
	Reject:   {model.ResourcePending, model.ResourceReported},
	Archive:  {model.ResourcePending, model.ResourceRejected, model.ResourceReported, model.ResourceApproved},
	Report:   {model.ResourceApproved},
	Resubmit: {model.ResourceRejected},
}

// Request 一次审核动作的输入，Actor 为写入前最新读到的成员记录
type Request struct {
	Action  Action
	ActorID uint64
	Actor   *model.Membership
	Notes   string
	Reason  string
}

// Submit 上传者提交资源，拥有审核权限的上传者自动通过
func Submit(uploaderID uint64, uploader *model.Membership, r *model.Resource) (*model.Resource, error) {
	const op = "review.submit"
	if strings.TrimSpace(r.Title) == "" {
		return nil, pkg.Validation(op, "title is required")
	}
	actor := access.FromMembership(uploaderID, uploader)
	if !access.HasPermission(actor, access.PermUploadResource) {
		return nil, pkg.PermissionDenied(op, "missing permission %s", access.PermUploadResource)
	}

	next := r.Clone()
	next.UploaderID = uploaderID
	next.UploaderRole = uploader.Role
	if next.Visibility == "" {
		next.Visibility = model.ResourceMembers
	}
	next.ApprovedBy = nil
	next.ReviewNotes, next.RejectionReason = "", ""
	if access.HasPermission(actor, access.PermModerateContent) {
		next.Status, next.ApprovalStatus = model.ResourceApproved, model.ApprovalAuto
		id := uploaderID
		next.ApprovedBy = &id
	} else {
		next.Status, next.ApprovalStatus = model.ResourcePending, model.ApprovalPendingReview
	}
	return next, nil
}

// Apply 校验守卫并返回新的资源文档；不修改入参
func Apply(current *model.Resource, req Request) (*model.Resource, error) {
	op := "review." + string(req.Action)
	if current == nil {
		return nil, pkg.NotFound(op, "resource not found")
	}
	allowed, ok := sources[req.Action]
	if !ok {
		return nil, pkg.InvalidTransition(op, "unknown action")
	}

	actor := access.FromMembership(req.ActorID, req.Actor)
	if req.Action == Resubmit {
		if req.ActorID != current.UploaderID {
			return nil, pkg.PermissionDenied(op, "only the uploader can resubmit")
		}
		if !actor.Effective() {
			return nil, pkg.PermissionDenied(op, "uploader is not an active member")
		}
	} else if !access.HasPermission(actor, access.PermModerateContent) {
		return nil, pkg.PermissionDenied(op, "missing permission %s", access.PermModerateContent)
	}

	if !slices.Contains(allowed, current.Status) {
		return nil, pkg.InvalidTransition(op, "cannot %s a resource that is %s", req.Action, current.Status)
	}

	next := current.Clone()
	switch req.Action {
	case Approve:
		next.Status, next.ApprovalStatus = model.ResourceApproved, model.ApprovalManual
		id := req.ActorID
		next.ApprovedBy = &id
		next.ReviewNotes = req.Notes
		next.RejectionReason = ""
	case Reject:
		if strings.TrimSpace(req.Reason) == "" {
			return nil, pkg.Validation(op, "rejection reason is required")
		}
		next.Status, next.ApprovalStatus = model.ResourceRejected, model.ApprovalRequiresChanges
		next.ApprovedBy = nil
		next.RejectionReason = req.Reason
		if req.Notes != "" {
			next.ReviewNotes = req.Notes
		}
	case Archive:
		// approvalStatus 保持归档前的值
		next.Status = model.ResourceArchived
	case Report:
		next.Status = model.ResourceReported
		if req.Reason != "" {
			next.ReviewNotes = req.Reason
		}
	case Resubmit:
		next.Status, next.ApprovalStatus = model.ResourcePending, model.ApprovalPendingReview
		next.RejectionReason = ""
	}
	if err := model.ValidateCoupling(next.Status, next.ApprovalStatus); err != nil {
		return nil, pkg.InvalidTransition(op, "%v", err)
	}
	return next, nil
}

// Package membership 单条 (user, community) 成员记录的生命周期状态机
//
// Check 只做守卫判定并给出下一状态，不做写入。状态与角色是两条独立的轴：
// 角色变更从不改变状态，状态迁移也从不改变角色。
package membership

import (
	"strings"
	"time"

	"Community_Access/internal/access"
	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
)

type Transition string

const (
	Request           Transition = "request"
	Join              Transition = "join"
	Approve           Transition = "approve"
	Reject            Transition = "reject"
	Withdraw          Transition = "withdraw"
	Leave             Transition = "leave"
	Kick              Transition = "kick"
	Ban               Transition = "ban"
	Suspend           Transition = "suspend"
	Reinstate         Transition = "reinstate"
	ChangeRole        Transition = "change_role"
	UpdatePermissions Transition = "update_permissions"
)

// 各迁移允许的源状态
var sources = map[Transition][]model.MemberStatus{
	Request:           {model.StatusNone},
	Join:              {model.StatusNone},
	Approve:           {model.StatusPending},
	Reject:            {model.StatusPending},
	Withdraw:          {model.StatusPending},
	Leave:             {model.StatusActive, model.StatusSuspended},
	Kick:              {model.StatusActive, model.StatusSuspended},
	Ban:               {model.StatusNone, model.StatusPending, model.StatusActive, model.StatusSuspended, model.StatusBanned},
	Suspend:           {model.StatusActive},
	Reinstate:         {model.StatusSuspended},
	ChangeRole:        {model.StatusPending, model.StatusActive, model.StatusSuspended, model.StatusBanned},
	UpdatePermissions: {model.StatusPending, model.StatusActive, model.StatusSuspended, model.StatusBanned},
}

// Input 守卫所需的全部状态，必须来自写入前的最新读取
type Input struct {
	Community *model.Community
	ActorID   uint64
	Actor     *model.Membership
	SubjectID uint64
	Subject   *model.Membership
	Ban       *model.BanRecord
	Now       time.Time

	NewRole     model.Role
	Permissions []string
	Reason      string
}

// Outcome 迁移结果
type Outcome struct {
	From   model.MemberStatus
	To     model.MemberStatus
	Remove bool
}

// Current 成员记录当前所处的状态机状态
func Current(in Input) model.MemberStatus {
	return model.EffectiveStatus(in.Subject, in.Ban, in.Now)
}

// Check 判定迁移是否允许
func Check(t Transition, in Input) (Outcome, error) {
	op := "membership." + string(t)
	if in.Community == nil {
		return Outcome{}, pkg.NotFound(op, "community not found")
	}
	from := Current(in)
	out := Outcome{From: from}

	if in.Community.Archived && t != Leave {
		return out, pkg.InvalidTransition(op, "community is archived")
	}
	if !allowedFrom(t, from) {
		if from == model.StatusBanned && (t == Join || t == Request) {
			return out, pkg.PermissionDenied(op, "user is banned from this community")
		}
		if from == model.StatusNone && t != Join && t != Request {
			return out, pkg.NotFound(op, "membership not found")
		}
		return out, pkg.InvalidTransition(op, "cannot %s from %s", t, from)
	}

	if in.Subject == nil && t != Join && t != Request && t != Ban {
		return out, pkg.NotFound(op, "membership not found")
	}

	actor := access.FromMembership(in.ActorID, in.Actor)
	subject := access.FromMembership(in.SubjectID, in.Subject)
	self := in.ActorID == in.SubjectID

	switch t {
	case Join, Request:
		if !self {
			return out, pkg.PermissionDenied(op, "cannot join on behalf of another user")
		}
		switch in.Community.JoinPolicy {
		case model.JoinPolicyInviteOnly:
			return out, pkg.PermissionDenied(op, "community is invite only")
		case model.JoinPolicyOpen:
			if t == Request {
				return out, pkg.InvalidTransition(op, "community is open, join directly")
			}
			out.To = model.StatusActive
		case model.JoinPolicyApproval:
			if t == Join {
				return out, pkg.InvalidTransition(op, "community requires approval, request to join")
			}
			out.To = model.StatusPending
		default:
			return out, pkg.InvalidTransition(op, "unknown join policy %q", in.Community.JoinPolicy)
		}

	case Approve:
		if !access.IsModeratorOrAbove(actor) {
			return out, pkg.PermissionDenied(op, "moderator rank required")
		}
		out.To = model.StatusActive

	case Reject:
		if !access.IsModeratorOrAbove(actor) {
			return out, pkg.PermissionDenied(op, "moderator rank required")
		}
		out.To, out.Remove = model.StatusNone, true

	case Withdraw:
		if !self {
			return out, pkg.PermissionDenied(op, "only the requester can withdraw")
		}
		out.To, out.Remove = model.StatusNone, true

	case Leave:
		if !self {
			return out, pkg.PermissionDenied(op, "only the member can leave")
		}
		if in.Subject.Role == model.RoleOwner {
			return out, pkg.PermissionDenied(op, "owner cannot leave")
		}
		out.To, out.Remove = model.StatusNone, true

	case Kick:
		if err := decide(op, access.CanActOn(actor, subject)); err != nil {
			return out, err
		}
		out.To, out.Remove = model.StatusNone, true

	case Ban:
		if strings.TrimSpace(in.Reason) == "" {
			return out, pkg.Validation(op, "ban reason is required")
		}
		if err := decide(op, access.CanActOn(actor, subject)); err != nil {
			return out, err
		}
		out.To = model.StatusBanned

	case Suspend:
		if err := decide(op, access.CanActOn(actor, subject)); err != nil {
			return out, err
		}
		out.To = model.StatusSuspended

	case Reinstate:
		if err := decide(op, access.CanActOn(actor, subject)); err != nil {
			return out, err
		}
		out.To = model.StatusActive

	case ChangeRole:
		if err := decide(op, access.CanAssignRole(actor, subject, in.NewRole)); err != nil {
			return out, err
		}
		out.To = from

	case UpdatePermissions:
		if err := decide(op, access.CanGrant(actor, subject, in.Permissions)); err != nil {
			return out, err
		}
		out.To = from

	default:
		return out, pkg.InvalidTransition(op, "unknown transition")
	}
	return out, nil
}

func allowedFrom(t Transition, from model.MemberStatus) bool {
	for _, s := range sources[t] {
		if s == from {
			return true
		}
	}
	return false
}

func decide(op string, d access.Decision) error {
	if d.Allowed {
		return nil
	}
	return pkg.PermissionDenied(op, "%s", d.Reason)
}

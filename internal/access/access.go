// Package access 社区内的角色等级与权限判定
// 全部为纯函数，不做任何 I/O；调用方必须传入写入前刚读到的最新成员记录
package access

import (
	"slices"

	"Community_Access/internal/model"
)

// 角色等级，数值越大权限越高
const (
	RankUnknown   = -1
	RankMember    = 0
	RankModerator = 1
	RankAdmin     = 2
	RankOwner     = 3
)

var rankMap = map[model.Role]int{
	model.RoleOwner:        RankOwner,
	model.RoleAdmin:        RankAdmin,
	model.RoleModerator:    RankModerator,
	model.RoleAlumniMentor: RankModerator,
	model.RoleMember:       RankMember,
	model.RoleContributor:  RankMember,
}

// Rank 未知角色返回 RankUnknown
func Rank(role model.Role) int {
	if r, ok := rankMap[role]; ok {
		return r
	}
	return RankUnknown
}

type Permission string

const (
	PermViewContent     Permission = "view_content"
	PermPostContent     Permission = "post_content"
	PermUploadResource  Permission = "upload_resource"
	PermModerateContent Permission = "moderate_content"
	PermManageMembers   Permission = "manage_members"
	PermBanMembers      Permission = "ban_members"
	PermManageRoles     Permission = "manage_roles"
	PermManageCommunity Permission = "manage_community"
)

var AllPermissions = []Permission{
	PermViewContent,
	PermPostContent,
	PermUploadResource,
	PermModerateContent,
	PermManageMembers,
	PermBanMembers,
	PermManageRoles,
	PermManageCommunity,
}

func (p Permission) Valid() bool {
	return slices.Contains(AllPermissions, p)
}

// 角色隐含的基础权限
var baseline = map[int][]Permission{
	RankMember:    {PermViewContent, PermPostContent, PermUploadResource},
	RankModerator: {PermViewContent, PermPostContent, PermUploadResource, PermModerateContent, PermManageMembers},
	RankAdmin: {PermViewContent, PermPostContent, PermUploadResource, PermModerateContent, PermManageMembers,
		PermBanMembers, PermManageRoles},
	RankOwner: AllPermissions,
}

// Actor 判定所需的最小视图
type Actor struct {
	UserID uint64
	Role   model.Role
	Status model.MemberStatus
	Grants []string
}

// FromMembership m 为 nil 时得到一个非成员
func FromMembership(userID uint64, m *model.Membership) Actor {
	if m == nil {
		return Actor{UserID: userID, Role: model.RoleMember, Status: model.StatusNone}
	}
	return Actor{UserID: m.UserID, Role: m.Role, Status: m.Status, Grants: m.Permissions}
}

func (a Actor) Rank() int {
	return Rank(a.Role)
}

// Effective 只有 active 成员才拥有权限
func (a Actor) Effective() bool {
	return a.Status == model.StatusActive
}

// Decision 判定结果，Reason 用于日志与错误信息
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// CanActOn rank(actor) > rank(target) 且不是同一人；owner 不可被操作
func CanActOn(actor, target Actor) Decision {
	switch {
	case actor.UserID == target.UserID:
		return deny("cannot act on yourself")
	case target.Role == model.RoleOwner:
		return deny("owner is protected")
	case !actor.Effective():
		return deny("actor is not an active member")
	case actor.Rank() <= target.Rank():
		return deny("insufficient rank")
	}
	return allow()
}

// CanAssignRole 在 CanActOn 基础上要求新角色严格低于操作者
func CanAssignRole(actor, target Actor, newRole model.Role) Decision {
	if !newRole.Valid() {
		return deny("unknown role")
	}
	if d := CanActOn(actor, target); !d.Allowed {
		return d
	}
	if newRole == model.RoleOwner || Rank(newRole) >= actor.Rank() {
		return deny("cannot promote to equal-or-higher role")
	}
	return allow()
}

// HasPermission 显式授权与角色基础权限取并集
func HasPermission(actor Actor, perm Permission) bool {
	if !actor.Effective() {
		return false
	}
	if slices.Contains(baseline[actor.Rank()], perm) {
		return true
	}
	return slices.Contains(actor.Grants, string(perm))
}

// Require 权限检查的 Decision 形式
func Require(actor Actor, perm Permission) Decision {
	if !HasPermission(actor, perm) {
		return deny("missing permission " + string(perm))
	}
	return allow()
}

// CanGrant 只能授予自己拥有的权限，且必须能操作目标
func CanGrant(actor, target Actor, perms []string) Decision {
	if d := CanActOn(actor, target); !d.Allowed {
		return d
	}
	if !HasPermission(actor, PermManageRoles) {
		return deny("missing permission " + string(PermManageRoles))
	}
	for _, p := range perms {
		perm := Permission(p)
		if !perm.Valid() {
			return deny("unknown permission " + p)
		}
		if !HasPermission(actor, perm) {
			return deny("cannot grant permission not held: " + p)
		}
	}
	return allow()
}

// IsModeratorOrAbove 审批入会请求等操作的最低门槛
func IsModeratorOrAbove(actor Actor) bool {
	return actor.Effective() && actor.Rank() >= RankModerator
}

package model

import (
	"slices"
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type JoinPolicy string

const (
	JoinPolicyOpen       JoinPolicy = "open"
	JoinPolicyApproval   JoinPolicy = "approval"
	JoinPolicyInviteOnly JoinPolicy = "invite_only"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

func (p JoinPolicy) Valid() bool {
	switch p {
	case JoinPolicyOpen, JoinPolicyApproval, JoinPolicyInviteOnly:
		return true
	}
	return false
}

type Community struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description  string     `gorm:"type:text" json:"description"`
	Visibility   Visibility `gorm:"size:16;not null;default:public" json:"visibility"`
	JoinPolicy   JoinPolicy `gorm:"size:16;not null;default:open" json:"join_policy"`
	OwnerID      uint64     `gorm:"not null;index" json:"owner_id"`
	ModeratorIDs []uint64   `gorm:"type:text;serializer:json" json:"moderator_ids"`
	AdminIDs     []uint64   `gorm:"type:text;serializer:json" json:"admin_ids"`
	MemberCount  int64      `gorm:"not null;default:0" json:"member_count"`
	Archived     bool       `gorm:"not null;default:false" json:"archived"`
	Revision     int64      `gorm:"not null;default:0" json:"revision"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ApplyRoster 根据成员记录的前后状态维护冗余的管理员/版主集合与成员数
// before 或 after 为 nil 表示记录不存在
func (c *Community) ApplyRoster(before, after *Membership) {
	if before != nil {
		if before.Counted() {
			c.MemberCount--
		}
		c.AdminIDs = removeID(c.AdminIDs, before.UserID)
		c.ModeratorIDs = removeID(c.ModeratorIDs, before.UserID)
	}
	if after != nil {
		if after.Counted() {
			c.MemberCount++
		}
		if after.Status == StatusActive || after.Status == StatusSuspended {
			switch after.Role {
			case RoleAdmin:
				c.AdminIDs = addID(c.AdminIDs, after.UserID)
			case RoleModerator, RoleAlumniMentor:
				c.ModeratorIDs = addID(c.ModeratorIDs, after.UserID)
			}
		}
	}
	if c.MemberCount < 0 {
		c.MemberCount = 0
	}
}

func addID(ids []uint64, id uint64) []uint64 {
	if slices.Contains(ids, id) {
		return ids
	}
	ids = append(ids, id)
	slices.Sort(ids)
	return ids
}

func removeID(ids []uint64, id uint64) []uint64 {
	return slices.DeleteFunc(ids, func(v uint64) bool { return v == id })
}

func (c *Community) Clone() *Community {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ModeratorIDs = append([]uint64(nil), c.ModeratorIDs...)
	cp.AdminIDs = append([]uint64(nil), c.AdminIDs...)
	return &cp
}

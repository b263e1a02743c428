package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleModerator    Role = "moderator"
	RoleAlumniMentor Role = "alumni_mentor"
	RoleMember       Role = "member"
	RoleContributor  Role = "contributor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleAlumniMentor, RoleMember, RoleContributor:
		return true
	}
	return false
}

type MemberStatus string

const (
	// StatusNone 表示不存在成员记录，只用于状态机与乐观展示
	StatusNone      MemberStatus = "none"
	StatusPending   MemberStatus = "pending"
	StatusActive    MemberStatus = "active"
	StatusSuspended MemberStatus = "suspended"
	StatusBanned    MemberStatus = "banned"
)

type JoinMethod string

const (
	JoinDirect  JoinMethod = "direct"
	JoinRequest JoinMethod = "request"
	JoinInvite  JoinMethod = "invite"
)

var ErrInvalidMembershipKey = errors.New("invalid membership key")

// MembershipKey (user, community) 复合键
type MembershipKey struct {
	UserID      uint64
	CommunityID uint64
}

func NewMembershipKey(userID, communityID uint64) (MembershipKey, error) {
	if userID == 0 || communityID == 0 {
		return MembershipKey{}, ErrInvalidMembershipKey
	}
	return MembershipKey{UserID: userID, CommunityID: communityID}, nil
}

// String 文档ID：userId_communityId
func (k MembershipKey) String() string {
	return fmt.Sprintf("%d_%d", k.UserID, k.CommunityID)
}

func ParseMembershipKey(s string) (MembershipKey, error) {
	u, c, ok := strings.Cut(s, "_")
	if !ok {
		return MembershipKey{}, ErrInvalidMembershipKey
	}
	userID, err := strconv.ParseUint(u, 10, 64)
	if err != nil {
		return MembershipKey{}, ErrInvalidMembershipKey
	}
	communityID, err := strconv.ParseUint(c, 10, 64)
	if err != nil {
		return MembershipKey{}, ErrInvalidMembershipKey
	}
	return NewMembershipKey(userID, communityID)
}

type Membership struct {
	ID          uint64       `gorm:"primaryKey" json:"-"`
	CommunityID uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"community_id"`
	UserID      uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"user_id"`
	Role        Role         `gorm:"size:16;not null;default:member" json:"role"`
	Status      MemberStatus `gorm:"size:16;not null;default:active" json:"status"`
	JoinedAt    time.Time    `json:"joined_at"`
	JoinMethod  JoinMethod   `gorm:"size:16;not null;default:direct" json:"join_method"`
	Permissions []string     `gorm:"type:text;serializer:json" json:"permissions"`

	Revision  int64     `gorm:"not null;default:0" json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Membership) TableName() string {
	return "community_members"
}

func (m *Membership) Key() MembershipKey {
	return MembershipKey{UserID: m.UserID, CommunityID: m.CommunityID}
}

// Counted 是否计入社区成员数
func (m *Membership) Counted() bool {
	return m.Status == StatusActive || m.Status == StatusSuspended
}

func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	c := *m
	c.Permissions = append([]string(nil), m.Permissions...)
	return &c
}

// EffectiveStatus 有效状态：生效中的封禁记录强制为 banned
func EffectiveStatus(m *Membership, ban *BanRecord, now time.Time) MemberStatus {
	if ban != nil && ban.Active(now) {
		return StatusBanned
	}
	if m == nil {
		return StatusNone
	}
	if m.Status == StatusBanned {
		// 封禁已过期，保留的审计行不再阻止加入
		return StatusNone
	}
	return m.Status
}

package model

import "time"

// BanRecord 独立于成员记录，覆盖 (user, community) 的加入资格
type BanRecord struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	CommunityID uint64     `gorm:"not null;uniqueIndex:uk_ban_community_user" json:"community_id"`
	UserID      uint64     `gorm:"not null;uniqueIndex:uk_ban_community_user" json:"user_id"`
	Reason      string     `gorm:"type:text;not null" json:"reason"`
	ModeratorID uint64     `gorm:"not null" json:"moderator_id"`
	Duration    *int       `json:"duration_hours,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revision    int64      `gorm:"not null;default:0" json:"revision"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (BanRecord) TableName() string {
	return "ban_records"
}

func (b *BanRecord) Key() MembershipKey {
	return MembershipKey{UserID: b.UserID, CommunityID: b.CommunityID}
}

// Active 永久封禁没有 ExpiresAt
func (b *BanRecord) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

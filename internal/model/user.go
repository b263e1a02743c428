package model

import "time"

// User 只读用户目录，通知发送时查询邮箱
type User struct {
	ID       uint64 `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;size:32;not null"`
	Email    string `gorm:"size:64"`
	// 关闭后不再接收审核通知邮件
	MuteNotices bool `gorm:"not null;default:false"`
	UpdatedAt   time.Time
}

// Notifiable 有邮箱且未关闭通知
func (u *User) Notifiable() bool {
	return u.Email != "" && !u.MuteNotices
}

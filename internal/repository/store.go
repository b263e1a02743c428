// Package repository 持久化存储的接口定义
//
// 存储是系统的唯一事实来源：单文档写入按最后写入者胜出，版本号由存储在写入时分配，
// 每次提交后以完整文档的形式推送变更通知。
package repository

import (
	"context"

	"Community_Access/internal/model"
)

type CommunityStore interface {
	// CreateCommunity 社区与创建者的 owner 成员记录在同一事务中写入
	CreateCommunity(ctx context.Context, c *model.Community, owner *model.Membership) error
	GetCommunity(ctx context.Context, id uint64) (*model.Community, error)
	ListCommunities(ctx context.Context, offset, limit int) ([]model.Community, error)
	// ArchiveCommunity 归档后只允许成员退出
	ArchiveCommunity(ctx context.Context, id uint64) error
}

type MembershipStore interface {
	GetMembership(ctx context.Context, key model.MembershipKey) (*model.Membership, error)
	ListMemberships(ctx context.Context, communityID uint64) ([]model.Membership, error)
	// InsertMembership 唯一键冲突返回 ConflictOnWrite
	InsertMembership(ctx context.Context, m *model.Membership) error
	// UpdateMembership 整文档覆盖；记录已被并发删除时返回 ConflictOnWrite
	UpdateMembership(ctx context.Context, m *model.Membership) error
	DeleteMembership(ctx context.Context, key model.MembershipKey) error
}

type BanStore interface {
	GetBan(ctx context.Context, key model.MembershipKey) (*model.BanRecord, error)
	// SaveBan 封禁记录与成员状态在同一事务中写入，m 为 nil 表示对非成员的封禁
	SaveBan(ctx context.Context, ban *model.BanRecord, m *model.Membership) error
}

type ResourceStore interface {
	CreateResource(ctx context.Context, r *model.Resource) error
	GetResource(ctx context.Context, id uint64) (*model.Resource, error)
	UpdateResource(ctx context.Context, r *model.Resource) error
	// ListResources status 为空时返回全部
	ListResources(ctx context.Context, communityID uint64, status model.ResourceStatus) ([]model.Resource, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uint64) (*model.User, error)
}

type Store interface {
	CommunityStore
	MembershipStore
	BanStore
	ResourceStore
	UserStore
}

// Publisher 变更通知的发布端
type Publisher interface {
	Publish(ctx context.Context, ch model.Change) error
}

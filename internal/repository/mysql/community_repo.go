package mysql

import (
	"context"

	"Community_Access/internal/model"

	"gorm.io/gorm"
)

// CreateCommunity 社区与创建者的 owner 成员记录要么同时成功要么同时失败
func (s *Store) CreateCommunity(ctx context.Context, c *model.Community, owner *model.Membership) error {
	rev := s.clock.Next()
	c.Revision, owner.Revision = rev, rev
	c.MemberCount, c.AdminIDs, c.ModeratorIDs = 0, nil, nil
	c.ApplyRoster(nil, owner)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		owner.CommunityID = c.ID
		return tx.Create(owner).Error
	})
	if err != nil {
		return translate("store.create_community", err)
	}
	s.notify.Membership(ctx, owner)
	return nil
}

func (s *Store) GetCommunity(ctx context.Context, id uint64) (*model.Community, error) {
	var c model.Community
	if err := s.DB.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate("store.get_community", err)
	}
	return &c, nil
}

func (s *Store) ListCommunities(ctx context.Context, offset, limit int) ([]model.Community, error) {
	var list []model.Community
	err := s.DB.WithContext(ctx).Order("id desc").Offset(offset).Limit(limit).Find(&list).Error
	return list, translate("store.list_communities", err)
}

func (s *Store) ArchiveCommunity(ctx context.Context, id uint64) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, rev, err := s.lockCommunity(tx, id)
		if err != nil {
			return err
		}
		return tx.Model(c).Updates(map[string]any{"archived": true, "revision": rev}).Error
	})
	return translate("store.archive_community", err)
}

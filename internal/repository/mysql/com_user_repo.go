package mysql

import (
	"context"
	"errors"

	"Community_Access/internal/model"

	"gorm.io/gorm"
)

func (s *Store) GetMembership(ctx context.Context, key model.MembershipKey) (*model.Membership, error) {
	var m model.Membership
	err := s.DB.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", key.CommunityID, key.UserID).
		First(&m).Error
	if err != nil {
		return nil, translate("store.get_membership", err)
	}
	return &m, nil
}

func (s *Store) ListMemberships(ctx context.Context, communityID uint64) ([]model.Membership, error) {
	var list []model.Membership
	err := s.DB.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("id asc").
		Find(&list).Error
	return list, translate("store.list_memberships", err)
}

// InsertMembership 依赖 (community_id, user_id) 唯一索引，重复插入视为并发冲突
func (s *Store) InsertMembership(ctx context.Context, m *model.Membership) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, rev, err := s.lockCommunity(tx, m.CommunityID)
		if err != nil {
			return err
		}
		m.Revision = rev
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return s.syncRoster(tx, c, nil, m, rev)
	})
	if err != nil {
		return translate("store.insert_membership", err)
	}
	s.notify.Membership(ctx, m)
	return nil
}

func (s *Store) UpdateMembership(ctx context.Context, m *model.Membership) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, rev, err := s.lockCommunity(tx, m.CommunityID)
		if err != nil {
			return err
		}
		before, err := findMembership(tx, m.Key())
		if err != nil {
			return err
		}
		return s.overwriteMembership(tx, c, before, m, rev)
	})
	if err != nil {
		return translate("store.update_membership", err)
	}
	s.notify.Membership(ctx, m)
	return nil
}

// DeleteMembership 物理删除（踢出、离开、撤回/拒绝申请）
func (s *Store) DeleteMembership(ctx context.Context, key model.MembershipKey) error {
	var rev int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, next, err := s.lockCommunity(tx, key.CommunityID)
		if err != nil {
			return err
		}
		rev = next
		before, err := findMembership(tx, key)
		if err != nil {
			return err
		}
		if err := tx.Delete(&model.Membership{}, before.ID).Error; err != nil {
			return err
		}
		return s.syncRoster(tx, c, before, nil, rev)
	})
	if err != nil {
		return translate("store.delete_membership", err)
	}
	s.notify.MembershipDeleted(ctx, key, rev)
	return nil
}

// findMembership 写路径上的读取，行不存在说明输给了并发删除
func findMembership(tx *gorm.DB, key model.MembershipKey) (*model.Membership, error) {
	var m model.Membership
	err := tx.Where("community_id = ? AND user_id = ?", key.CommunityID, key.UserID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errRowGone
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) overwriteMembership(tx *gorm.DB, c *model.Community, before, m *model.Membership, rev int64) error {
	m.ID, m.CreatedAt, m.Revision = before.ID, before.CreatedAt, rev
	res := tx.Model(m).Select("*").Omit("id", "created_at").Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errRowGone
	}
	return s.syncRoster(tx, c, before, m, rev)
}

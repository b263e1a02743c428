package mysql

import (
	"context"
	"errors"

	"Community_Access/internal/model"

	"gorm.io/gorm"
)

func (s *Store) GetBan(ctx context.Context, key model.MembershipKey) (*model.BanRecord, error) {
	var b model.BanRecord
	err := s.DB.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", key.CommunityID, key.UserID).
		First(&b).Error
	if err != nil {
		return nil, translate("store.get_ban", err)
	}
	return &b, nil
}

// SaveBan 新建或覆盖封禁记录，并在同一事务中把成员状态写为 banned
func (s *Store) SaveBan(ctx context.Context, ban *model.BanRecord, m *model.Membership) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, rev, err := s.lockCommunity(tx, ban.CommunityID)
		if err != nil {
			return err
		}
		ban.Revision = rev
		var existing model.BanRecord
		err = tx.Where("community_id = ? AND user_id = ?", ban.CommunityID, ban.UserID).First(&existing).Error
		switch {
		case err == nil:
			ban.ID, ban.CreatedAt = existing.ID, existing.CreatedAt
			if err := tx.Model(ban).Select("*").Omit("id", "created_at").Updates(ban).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(ban).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if m == nil {
			return nil
		}
		before, err := findMembership(tx, m.Key())
		if err != nil {
			return err
		}
		return s.overwriteMembership(tx, c, before, m, rev)
	})
	if err != nil {
		return translate("store.save_ban", err)
	}
	if m != nil {
		s.notify.Membership(ctx, m)
	}
	return nil
}

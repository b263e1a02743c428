package mysql

import (
	"context"
	"errors"

	"Community_Access/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateResource(ctx context.Context, r *model.Resource) error {
	r.Revision = s.clock.Next()
	if err := s.DB.WithContext(ctx).Create(r).Error; err != nil {
		return translate("store.create_resource", err)
	}
	s.notify.Resource(ctx, r)
	return nil
}

func (s *Store) GetResource(ctx context.Context, id uint64) (*model.Resource, error) {
	var r model.Resource
	if err := s.DB.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, translate("store.get_resource", err)
	}
	return &r, nil
}

// UpdateResource 整文档覆盖，最后写入者胜出；版本号在行锁内分配
func (s *Store) UpdateResource(ctx context.Context, r *model.Resource) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before model.Resource
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&before, r.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errRowGone
		}
		if err != nil {
			return err
		}
		r.CreatedAt, r.Revision = before.CreatedAt, s.clock.After(before.Revision)
		res := tx.Model(r).Select("*").Omit("id", "created_at").Updates(r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errRowGone
		}
		return nil
	})
	if err != nil {
		return translate("store.update_resource", err)
	}
	s.notify.Resource(ctx, r)
	return nil
}

func (s *Store) ListResources(ctx context.Context, communityID uint64, status model.ResourceStatus) ([]model.Resource, error) {
	var list []model.Resource
	q := s.DB.WithContext(ctx).Where("community_id = ?", communityID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id desc").Find(&list).Error
	return list, translate("store.list_resources", err)
}

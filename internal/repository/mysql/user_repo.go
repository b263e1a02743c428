package mysql

import (
	"context"

	"Community_Access/internal/model"
)

func (s *Store) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate("store.get_user", err)
	}
	return &user, nil
}

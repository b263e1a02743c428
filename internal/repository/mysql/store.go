package mysql

import (
	"time"

	"Community_Access/internal/model"
	"Community_Access/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 基于 gorm 的持久化存储
type Store struct {
	DB     *gorm.DB
	clock  *repository.RevisionClock
	notify *repository.Notifier
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *gorm.DB, pub repository.Publisher, log logrus.FieldLogger, now func() time.Time) *Store {
	return &Store{
		DB:     db,
		clock:  repository.NewRevisionClock(now),
		notify: repository.NewNotifier(pub, log),
	}
}

// lockCommunity 同一社区的成员写入在社区行锁上串行化，版本号在锁内分配
//
// 每次成员写入都会把社区版本推进到本次版本，因此新版本一定大于该社区内
// 任何已提交成员文档的版本，版本顺序与提交顺序一致。
func (s *Store) lockCommunity(tx *gorm.DB, communityID uint64) (*model.Community, int64, error) {
	var c model.Community
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, communityID).Error; err != nil {
		return nil, 0, err
	}
	return &c, s.clock.After(c.Revision), nil
}

// syncRoster 在事务内维护社区的冗余成员字段，调用方已持有社区行锁
func (s *Store) syncRoster(tx *gorm.DB, c *model.Community, before, after *model.Membership, rev int64) error {
	c.ApplyRoster(before, after)
	c.Revision = rev
	return tx.Model(c).
		Select("moderator_ids", "admin_ids", "member_count", "revision").
		Updates(c).Error
}

package mysql

import (
	"errors"
	"time"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	LogLevel     string
}

// Open 连接 MySQL，开启错误翻译以便识别唯一键冲突
func Open(dsn string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLogLevel(opts.LogLevel)),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.MaxLifetime)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Community{},
		&model.Membership{},
		&model.BanRecord{},
		&model.Resource{},
	)
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

// errRowGone 条件更新时目标行已被并发删除
var errRowGone = errors.New("row removed by a concurrent write")

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case pkg.KindOf(err) != pkg.KindUnknown:
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkg.NotFound(op, "record not found")
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, errRowGone):
		return pkg.Conflict(op, err)
	default:
		return pkg.Unavailable(op, err)
	}
}

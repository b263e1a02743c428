// Package config 应用配置，yaml 文件打底，环境变量覆盖
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix 环境变量前缀，CE_DATABASE_DSN 对应 database.dsn
const EnvPrefix = "CE_"

type AppConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Feed      FeedConfig      `koanf:"feed"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Mail      MailConfig      `koanf:"mail"`
	JWT       JWTConfig       `koanf:"jwt"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Mode        string        `koanf:"mode"` // debug, release, test
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // mysql, memory
}

type FeedConfig struct {
	Driver string `koanf:"driver"` // redis, local
	Prefix string `koanf:"prefix"`
}

type DatabaseConfig struct {
	DSN          string        `koanf:"dsn"`
	LogLevel     string        `koanf:"log_level"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	MaxLifetime  time.Duration `koanf:"max_lifetime"`
	AutoMigrate  bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

type MailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type JWTConfig struct {
	AccessSecret  string        `koanf:"access_secret"`
	RefreshSecret string        `koanf:"refresh_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

func defaults() AppConfig {
	return AppConfig{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "release", ReadTimeout: 10 * time.Second},
		Store:     StoreConfig{Driver: "mysql"},
		Feed:      FeedConfig{Driver: "redis", Prefix: "ce"},
		Database:  DatabaseConfig{LogLevel: "warn", MaxOpenConns: 20, MaxIdleConns: 10, MaxLifetime: time.Hour, AutoMigrate: true},
		Redis:     RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 10},
		Kafka:     KafkaConfig{Topic: "moderation-events", GroupID: "moderation-notifier"},
		Mail:      MailConfig{Port: 587},
		JWT:       JWTConfig{AccessTTL: 30 * time.Minute, RefreshTTL: 24 * time.Hour},
		Log:       LogConfig{Level: "info", Format: "text"},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
	}
}

// Load 依次加载 .env、yaml 文件与 CE_ 前缀的环境变量，后者覆盖前者。
// path 为空时只用默认值与环境变量。
func Load(path string) (*AppConfig, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey CE_DATABASE_DSN -> database.dsn；只切第一个下划线，保留 access_secret 这类键名
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for store.driver=mysql")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Feed.Driver {
	case "redis", "local":
	default:
		return fmt.Errorf("unknown feed.driver %q", c.Feed.Driver)
	}
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return fmt.Errorf("jwt.access_secret and jwt.refresh_secret are required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Community_Access/internal/config"
	"Community_Access/internal/events"
	"Community_Access/internal/middleware"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"
	"Community_Access/internal/repository"
	"Community_Access/internal/repository/memory"
	"Community_Access/internal/repository/mysql"
	"Community_Access/internal/repository/redis"
	"Community_Access/internal/router"
	"Community_Access/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := pkg.NewLogger(cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 变更通知
	var feed realtime.Feed
	switch cfg.Feed.Driver {
	case "redis":
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer client.Close()
		feed = redis.NewFeed(client, cfg.Feed.Prefix, log)
	default:
		feed = realtime.NewLocalFeed()
	}

	// 存储
	var store repository.Store
	switch cfg.Store.Driver {
	case "mysql":
		db, err := mysql.Open(cfg.Database.DSN, mysql.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.MaxLifetime,
			LogLevel:     cfg.Database.LogLevel,
		})
		if err != nil {
			log.WithError(err).Fatal("connect mysql")
		}
		// 自动建表（开发阶段 OK）
		if cfg.Database.AutoMigrate {
			if err := mysql.AutoMigrate(db); err != nil {
				log.WithError(err).Fatal("auto migrate")
			}
		}
		store = mysql.NewStore(db, feed, log, nil)
	default:
		log.Warn("using in-memory store, data is lost on restart")
		store = memory.NewStore(feed, log, nil)
	}

	// 审核事件
	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled {
		producer, err := events.NewKafkaProducer(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			log.WithError(err).Fatal("kafka producer")
		}
		defer producer.Close()
		publisher = producer
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go sweep(ctx, limiter)

	engine := router.InitRouter(router.Deps{
		Service:   service.NewModerationService(store, publisher, log, nil),
		Hub:       realtime.NewHub(feed, log),
		Tokens:    pkg.NewJWT(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL),
		Limiter:   limiter,
		Log:       log,
		DevTokens: cfg.Server.Mode == gin.DebugMode,
	})

	// 不设 WriteTimeout，websocket 长连接自行维护写超时
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

func sweep(ctx context.Context, rl *middleware.RateLimiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Sweep()
		}
	}
}

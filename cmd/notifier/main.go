// notifier 消费审核事件并给当事人发邮件
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"Community_Access/internal/config"
	"Community_Access/internal/events"
	"Community_Access/internal/pkg"
	"Community_Access/internal/repository/mysql"

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
	if !cfg.Kafka.Enabled {
		log.Fatal("kafka is disabled, nothing to consume")
	}

	db, err := mysql.Open(cfg.Database.DSN, mysql.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
		LogLevel:     cfg.Database.LogLevel,
	})
	if err != nil {
		log.WithError(err).Fatal("connect mysql")
	}
	// 只读用户目录，不发布变更
	users := mysql.NewStore(db, nil, log, nil)

	mailer := events.NewMailer(users, events.NewSMTPSender(events.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	}), log)

	consumer := events.NewConsumer(events.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, log)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("topic", cfg.Kafka.Topic).Info("notifier started")
	if err := consumer.Run(ctx, mailer.Handle); err != nil {
		log.WithError(err).Fatal("consume events")
	}
}

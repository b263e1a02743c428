// Package events 审核事件流：服务端写入 kafka，通知进程消费后发送邮件
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Publisher 审核事件的发布端
type Publisher interface {
	PublishEvent(ctx context.Context, ev model.ModerationEvent) error
}

// Nop 未配置 kafka 时使用
type Nop struct{}

func (Nop) PublishEvent(context.Context, model.ModerationEvent) error { return nil }

type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaProducer{writer: w, topic: cfg.Topic}, nil
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishEvent 以社区ID为键，同一社区的事件落在同一分区内保持顺序
func (p *KafkaProducer) PublishEvent(ctx context.Context, ev model.ModerationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(MakeKeyFromID(ev.CommunityID)),
		Value: value,
	})
}

func MakeKeyFromID(id uint64) string {
	return fmt.Sprintf("%d", id)
}

// Handler 处理一条事件；通知是尽力而为的，失败只记日志
type Handler func(ctx context.Context, ev model.ModerationEvent) error

type Consumer struct {
	reader *kafka.Reader
	log    logrus.FieldLogger
}

func NewConsumer(cfg KafkaConfig, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	if log == nil {
		log = pkg.Discard()
	}
	return &Consumer{reader: r, log: log}
}

// Run 阻塞消费直到 ctx 取消
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		var ev model.ModerationEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("skip malformed event")
		} else if err := handle(ctx, ev); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"action":       ev.Action,
				"community_id": ev.CommunityID,
			}).Error("handle event")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

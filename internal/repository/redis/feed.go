package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"Community_Access/internal/model"
	"Community_Access/internal/pkg"
	"Community_Access/internal/realtime"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Feed 基于 Redis pub/sub 的变更流，多实例部署时共享
type Feed struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

var _ realtime.Feed = (*Feed)(nil)

func NewFeed(client *redis.Client, prefix string, log logrus.FieldLogger) *Feed {
	if log == nil {
		log = pkg.Discard()
	}
	return &Feed{client: client, prefix: prefix, log: log}
}

func (f *Feed) channel(topic string) string {
	if f.prefix == "" {
		return topic
	}
	return f.prefix + ":" + topic
}

func (f *Feed) Publish(ctx context.Context, ch model.Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(ch.Topic), payload).Err(); err != nil {
		return pkg.Unavailable("feed.publish", err)
	}
	return nil
}

// Subscribe 返回前确认订阅已建立，之后发布的通知不会丢失
func (f *Feed) Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error) {
	ps := f.client.Subscribe(ctx, f.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, pkg.Unavailable("feed.subscribe", err)
	}

	out := make(chan model.Change, 64)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			var ch model.Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				f.log.WithError(err).WithField("channel", msg.Channel).Warn("decode change")
				continue
			}
			out <- ch
		}
	}()

	return realtime.NewSubscription(out, ps.Close), nil
}

package pkg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModerationActions 审核动作计数，outcome 为 ok 或错误分类
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "community_moderation_actions_total",
		Help: "Moderation actions by action and outcome",
	}, []string{"action", "outcome"})

	// FeedChanges 视图收到的变更，result 为 applied 或 stale
	FeedChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "community_feed_changes_total",
		Help: "Change notifications received by live views",
	}, []string{"result"})

	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_feed_dropped_total",
		Help: "Change notifications dropped because a subscriber was too slow",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "community_live_streams",
		Help: "Open realtime streams",
	})
)

// Outcome 指标标签
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}

// Package metrics 集中定义 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessedTotal 按 item 类型与结果统计入库处理量。
	// result: ok / rejected / deferred / failed / conflict / ignored
	ItemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbbid_items_processed_total",
		Help: "Ingested items by kind and result",
	}, []string{"kind", "result"})

	// PendingItems 父项目未知而排队等待的子 item 数量。
	PendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbbid_pending_items",
		Help: "Child items waiting for their parent project",
	})

	// KnownProjects 项目缓存中已知的 project_id 数量。
	KnownProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbbid_known_projects",
		Help: "Project ids present in the dependency cache",
	})

	// ItemDLQTotal 进入死信队列的消息数。
	ItemDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbbid_item_dlq_total",
		Help: "Messages moved to the dead letter stream",
	})

	// ItemAutoClaimTotal 通过 XAUTOCLAIM 接管的滞留消息数。
	ItemAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbbid_item_autoclaim_total",
		Help: "Stale stream messages reclaimed from dead consumers",
	})

	// RateLimitWaitDuration 抓取限流等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tbbid_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbbid_ratelimit_timeout_total",
		Help: "Rate limit waits cancelled by context",
	})

	// NoticeFetchTotal 公告页抓取次数，result: ok / error / skipped。
	NoticeFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbbid_notice_fetch_total",
		Help: "Notice page fetches by result",
	}, []string{"result"})
)

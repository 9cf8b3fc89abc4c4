package notify

import "context"

// CrawlSummary 一轮抓取入库的结果汇总。
type CrawlSummary struct {
	StartedAt   string
	FinishedAt  string
	Processed   int64
	Succeeded   int64
	Rejected    int64
	Deferred    int64
	Failed      int64
	PendingLeft int
	NewProjects int64
}

// Notifier 定义通知接口。
type Notifier interface {
	// Send 把一轮抓取的汇总发给运维邮箱。
	Send(ctx context.Context, summary *CrawlSummary, toEmail string) error
}

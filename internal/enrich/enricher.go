// Package enrich 补全项目公告：渲染缺失的公告正文，
// 并从正文中提取资质要求、资金来源等结构化字段。
//
// 补全结果不直接写库，而是打包成项目 item 重新发布到队列，
// 走与抓取数据相同的入库流水线。
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/extract"
	"github.com/AtomNotShy/tbbid-scrapy/internal/ingest"
	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/dedup"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/queue"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/ratelimit"
)

const timeLayout = "2006-01-02 15:04:05"

// Fetcher 渲染公告页面并返回 HTML。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Publisher 把 item 发布回队列。
type Publisher interface {
	Publish(ctx context.Context, item ingest.Item) error
}

// Enricher 扫描待补全的项目并逐个处理。
type Enricher struct {
	db        *gorm.DB
	logger    *slog.Logger
	fetcher   Fetcher
	publisher Publisher
	dedup     *dedup.Deduplicator
	limiter   *ratelimit.Limiter
	pool      *queue.Queue
	batch     int
}

// NewEnricher 创建补全器。dedup 和 limiter 可以为 nil（不去重/不限流）。
func NewEnricher(
	db *gorm.DB,
	logger *slog.Logger,
	fetcher Fetcher,
	publisher Publisher,
	d *dedup.Deduplicator,
	limiter *ratelimit.Limiter,
	pool *queue.Queue,
	batch int,
) *Enricher {
	if batch <= 0 {
		batch = 50
	}
	return &Enricher{
		db:        db,
		logger:    logger,
		fetcher:   fetcher,
		publisher: publisher,
		dedup:     d,
		limiter:   limiter,
		pool:      pool,
		batch:     batch,
	}
}

// Scan 找出一批待补全的项目并提交到 worker 池。
//
// 待补全 = 有详情页链接、具备入库必需字段，且尚未做过结构化提取
// （analysed_at 为 NULL）。提取完成后打时间戳，正文无任何匹配的
// 项目也会被标记，不会每轮都重新进队。
func (e *Enricher) Scan(ctx context.Context) (int, error) {
	var projects []model.Project
	err := e.db.WithContext(ctx).
		Where("url != ''").
		Where("title != ''").
		Where("time_show IS NOT NULL").
		Where("analysed_at IS NULL").
		Order("id").
		Limit(e.batch).
		Find(&projects).Error
	if err != nil {
		return 0, fmt.Errorf("scan projects: %w", err)
	}

	submitted := 0
	for i := range projects {
		p := projects[i]
		job := func(ctx context.Context) error {
			return e.enrichProject(ctx, &p)
		}
		if err := e.pool.EnqueueBlocking(ctx, job); err != nil {
			return submitted, err
		}
		submitted++
	}

	if submitted > 0 {
		e.logger.Info("enrich batch submitted", slog.Int("count", submitted))
	}
	return submitted, nil
}

// RunLoop 按固定间隔扫描，直到 ctx 被取消。
func (e *Enricher) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("enricher stopped")
			return
		case <-ticker.C:
			if _, err := e.Scan(ctx); err != nil {
				e.logger.Error("enrich scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Enricher) enrichProject(ctx context.Context, p *model.Project) error {
	content := p.NoticeContent

	if content == "" {
		var err error
		content, err = e.fetchNotice(ctx, p.URL)
		if err != nil {
			return fmt.Errorf("fetch notice %s: %w", p.ProjectID, err)
		}
		if content == "" {
			e.logger.Warn("empty notice content",
				slog.String("project_id", p.ProjectID),
				slog.String("url", p.URL))
			return nil
		}
	}

	fields := extract.AnalyseNotice(content)

	item := &ingest.ProjectItem{
		ProjectID:         p.ProjectID,
		Title:             p.Title,
		TimeShow:          p.TimeShow.Format(timeLayout),
		PlatformName:      p.PlatformName,
		ClassifyShow:      p.ClassifyShow,
		URL:               p.URL,
		NoticeContent:     fields.NoticeContent,
		DistrictShow:      p.DistrictShow,
		SessionSize:       p.SessionSize,
		CompanyReq:        fields.CompanyReq,
		PersonReq:         fields.PersonReq,
		ConstructionFunds: fields.ConstructionFunds,
		ProjectDuration:   fields.ProjectDuration,
	}

	if err := e.publisher.Publish(ctx, item); err != nil {
		return fmt.Errorf("publish enriched project %s: %w", p.ProjectID, err)
	}

	if err := e.markAnalysed(ctx, p.ProjectID); err != nil {
		return err
	}

	e.logger.Debug("project enriched",
		slog.String("project_id", p.ProjectID),
		slog.String("funds", fields.ConstructionFunds),
		slog.String("duration", fields.ProjectDuration))
	return nil
}

// markAnalysed 给项目打提取完成时间戳，之后的扫描不再选中它。
func (e *Enricher) markAnalysed(ctx context.Context, projectID string) error {
	err := e.db.WithContext(ctx).Model(&model.Project{}).
		Where("project_id = ?", projectID).
		Update("analysed_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("mark analysed %s: %w", projectID, err)
	}
	return nil
}

func (e *Enricher) fetchNotice(ctx context.Context, url string) (string, error) {
	if e.dedup != nil {
		seen, err := e.dedup.Seen(ctx, url)
		if err != nil {
			return "", err
		}
		if seen {
			e.logger.Debug("notice url seen recently, skip", slog.String("url", url))
			return "", nil
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return "", err
		}
	}

	html, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		// 允许下一轮扫描重试
		if e.dedup != nil {
			if forgetErr := e.dedup.Forget(ctx, url); forgetErr != nil {
				e.logger.Warn("dedup forget failed", slog.String("error", forgetErr.Error()))
			}
		}
		return "", err
	}
	return html, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/metrics"
)

// Pipeline 是入库核心：把抓取 item 分发到对应的 upsert 操作。
//
// 每个 item 是一个事务单元，出错整体回滚后继续处理下一个 item。
// Process 必须在单个 goroutine 内串行调用——项目缓存与待处理队列
// 都以此为前提，不做内部加锁。
type Pipeline struct {
	db     *gorm.DB
	logger *slog.Logger
	cache  *ProjectCache

	deferred    atomic.Int64
	newProjects atomic.Int64
}

// PipelineStats 是本次运行的累计计数快照，供运行结束时汇报。
type PipelineStats struct {
	Deferred    int64 // 子 item 因父项目未知被延迟的次数（同一 item 重放再延迟会重复计）
	NewProjects int64 // 本次运行新建档的项目数
}

// NewPipeline 创建入库流水线并预热项目缓存。
func NewPipeline(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*Pipeline, error) {
	cache := NewProjectCache()
	if err := cache.Warm(ctx, db); err != nil {
		return nil, err
	}
	logger.Info("project cache warmed", slog.Int("projects", cache.Size()))
	metrics.KnownProjects.Set(float64(cache.Size()))

	return &Pipeline{db: db, logger: logger, cache: cache}, nil
}

// PendingLen 返回待处理队列长度（供运维观察）。
func (p *Pipeline) PendingLen() int {
	return p.cache.PendingLen()
}

// Stats 返回运行计数快照。
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Deferred:    p.deferred.Load(),
		NewProjects: p.newProjects.Load(),
	}
}

// Process 处理一个抓取 item。
//
// 项目 item 立即入库并触发待处理队列重放；标段/投标/排名 item 在
// 父项目未知时排队等待，不会丢弃；其余 item 直接走各自的 upsert。
func (p *Pipeline) Process(ctx context.Context, item Item) error {
	switch it := item.(type) {
	case nil:
		// 未知 kind 解码为 nil，按约定忽略
		metrics.ItemsProcessedTotal.WithLabelValues("unknown", "ignored").Inc()
		return nil

	case *ProjectItem:
		return p.processProject(ctx, it)

	case *BidSectionItem:
		if it.ProjectID == "" {
			// project_id 为空的子 item 永远等不到父项目，直接拒绝
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: []string{"project_id"}}, it.SectionID)
		}
		if p.deferIfOrphan(it, it.ProjectID) {
			return nil
		}
		return p.runTx(ctx, it, it.ProjectID+"/"+it.SectionID, func(tx *gorm.DB) error {
			if err := upsertBidSection(tx, it); err != nil {
				return err
			}
			return advanceStage(tx, it.ProjectID, StageHasSections)
		})

	case *BidItem:
		if it.ProjectID == "" {
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: []string{"project_id"}}, it.BidderName)
		}
		if p.deferIfOrphan(it, it.ProjectID) {
			return nil
		}
		return p.runTx(ctx, it, it.ProjectID+"/"+it.SectionID+"/"+it.BidderName, func(tx *gorm.DB) error {
			return upsertBid(tx, it)
		})

	case *BidRankItem:
		if it.ProjectID == "" {
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: []string{"project_id"}}, it.SectionID)
		}
		if p.deferIfOrphan(it, it.ProjectID) {
			return nil
		}
		return p.runTx(ctx, it, fmt.Sprintf("%s/%s/%d", it.ProjectID, it.SectionID, it.Rank), func(tx *gorm.DB) error {
			if err := upsertBidRank(tx, it); err != nil {
				return err
			}
			return advanceStage(tx, it.ProjectID, StageHasRanks)
		})

	case *CompanyItem:
		if it.CorpCode == "" {
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: []string{"corp_code"}}, it.Name)
		}
		return p.runTx(ctx, it, it.CorpCode, func(tx *gorm.DB) error {
			return upsertCompany(tx, it)
		})

	case *EmployeeItem:
		if it.CorpCode == "" {
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: []string{"corp_code"}}, it.Name)
		}
		return p.runTx(ctx, it, it.CorpCode+"/"+it.Name, func(tx *gorm.DB) error {
			return upsertEmployee(tx, it)
		})

	case *PersonPerformanceItem:
		return p.runTx(ctx, it, it.CorpCode+"/"+it.Name+"/"+it.ProjectName, func(tx *gorm.DB) error {
			return upsertPerformance(tx, it)
		})

	case *BidWinItem:
		var missing []string
		if it.CorpCode == "" {
			missing = append(missing, "corp_code")
		}
		if it.ProjectName == "" {
			missing = append(missing, "project_name")
		}
		if len(missing) > 0 {
			return p.reject(it, &MissingFieldError{Kind: it.Kind(), Fields: missing}, it.BidderName)
		}
		return p.runTx(ctx, it, it.CorpCode+"/"+it.ProjectName, func(tx *gorm.DB) error {
			return upsertWinnerBid(tx, it)
		})

	default:
		metrics.ItemsProcessedTotal.WithLabelValues("unknown", "ignored").Inc()
		return nil
	}
}

// processProject 校验并入库项目 item，成功后重放待处理队列。
func (p *Pipeline) processProject(ctx context.Context, it *ProjectItem) error {
	var missing []string
	if it.Title == "" {
		missing = append(missing, "title")
	}
	if it.TimeShow == "" {
		missing = append(missing, "timeShow")
	}
	if it.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if it.NoticeContent == "" {
		missing = append(missing, "notice_content")
	}
	if len(missing) > 0 {
		return p.reject(it, &MissingFieldError{Kind: KindProject, Fields: missing}, it.ProjectID)
	}

	timeShow := parseTime(it.TimeShow)
	if timeShow == nil {
		// 时间解析失败不拦截入库，字段存 NULL
		p.logger.Warn("invalid time format",
			slog.String("project_id", it.ProjectID),
			slog.String("time_show", it.TimeShow))
	}

	known := p.cache.Has(it.ProjectID)
	err := p.runTx(ctx, it, it.ProjectID, func(tx *gorm.DB) error {
		return upsertProject(tx, it, timeShow)
	})
	if err != nil {
		return err
	}
	if !known {
		p.newProjects.Add(1)
	}

	p.drainPending(ctx, it.ProjectID)
	return nil
}

// drainPending 项目入库后取走整个待处理队列重放一遍。
//
// 与该项目无关的 item 重放失败后会重新排队；重放中的错误只记录，
// 不影响其余 item。
func (p *Pipeline) drainPending(ctx context.Context, projectID string) {
	drained := p.cache.MarkReady(projectID)
	metrics.KnownProjects.Set(float64(p.cache.Size()))
	if len(drained) == 0 {
		return
	}

	p.logger.Info("replaying pending items",
		slog.String("project_id", projectID),
		slog.Int("count", len(drained)))

	for _, item := range drained {
		if err := p.Process(ctx, item); err != nil {
			p.logger.Error("replay pending item failed",
				slog.String("kind", string(item.Kind())),
				slog.String("error", err.Error()))
		}
	}
	metrics.PendingItems.Set(float64(p.cache.PendingLen()))
}

// deferIfOrphan 父项目未知时把子 item 排进待处理队列，返回 true 表示已延迟。
func (p *Pipeline) deferIfOrphan(item Item, projectID string) bool {
	if p.cache.Has(projectID) {
		return false
	}

	p.cache.Enqueue(item)
	p.deferred.Add(1)
	p.logger.Debug("project unknown, item queued",
		slog.String("kind", string(item.Kind())),
		slog.String("project_id", projectID),
		slog.Int("pending", p.cache.PendingLen()))
	metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind()), "deferred").Inc()
	metrics.PendingItems.Set(float64(p.cache.PendingLen()))
	return true
}

// reject 记录并拒绝缺少必填字段的 item，不入库不重试。
func (p *Pipeline) reject(item Item, err *MissingFieldError, key string) error {
	p.logger.Error("item rejected",
		slog.String("kind", string(item.Kind())),
		slog.String("key", key),
		slog.String("reason", err.Error()))
	metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind()), "rejected").Inc()
	return err
}

// runTx 在一个事务内执行 item 的全部写入，出错回滚并分类上报。
func (p *Pipeline) runTx(ctx context.Context, item Item, key string, fn func(tx *gorm.DB) error) error {
	err := p.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind()), "ok").Inc()
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发插入撞了自然键唯一约束，事务已回滚，可按更新路径重试
		p.logger.Warn("integrity conflict",
			slog.String("kind", string(item.Kind())),
			slog.String("key", key),
			slog.String("error", err.Error()))
		metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind()), "conflict").Inc()
		return fmt.Errorf("%w: %s %s", ErrIntegrityConflict, item.Kind(), key)
	}

	p.logger.Error("item ingest failed",
		slog.String("kind", string(item.Kind())),
		slog.String("key", key),
		slog.String("error", err.Error()))
	metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind()), "failed").Inc()
	return fmt.Errorf("ingest %s %s: %w", item.Kind(), key, err)
}

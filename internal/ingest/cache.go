package ingest

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

// ProjectCache 记录已入库的 project_id，并缓冲父项目尚未出现的子 item。
//
// 入库流水线按 item 串行处理（见 Pipeline），缓存不加锁。
type ProjectCache struct {
	known   map[string]struct{}
	pending []Item
}

// NewProjectCache 创建一个空缓存。
func NewProjectCache() *ProjectCache {
	return &ProjectCache{known: make(map[string]struct{})}
}

// Warm 从存储加载全部已存在的 project_id 到缓存，进程启动时调用一次。
func (c *ProjectCache) Warm(ctx context.Context, db *gorm.DB) error {
	var ids []string
	if err := db.WithContext(ctx).Model(&model.Project{}).Pluck("project_id", &ids).Error; err != nil {
		return fmt.Errorf("load existing project ids: %w", err)
	}
	for _, id := range ids {
		c.known[id] = struct{}{}
	}
	return nil
}

// Has 判断 project_id 是否已知，O(1)。
func (c *ProjectCache) Has(projectID string) bool {
	_, ok := c.known[projectID]
	return ok
}

// Size 返回已知项目数量。
func (c *ProjectCache) Size() int {
	return len(c.known)
}

// Enqueue 将父项目未知的子 item 追加到待处理队列。
//
// 子 item 永远不会被丢弃：父项目一直不出现时会无限排队，
// 队列长度通过 metrics 暴露给运维观察。
func (c *ProjectCache) Enqueue(item Item) {
	c.pending = append(c.pending, item)
}

// PendingLen 返回当前待处理 item 数量。
func (c *ProjectCache) PendingLen() int {
	return len(c.pending)
}

// MarkReady 在项目 upsert 成功后登记 project_id，并取走整个待处理队列。
//
// 返回的切片由调用方重放；与本项目无关的 item 重放后若仍被阻塞，
// 会重新进入队列。整体重排的代价以低项目量为前提（见设计文档）。
func (c *ProjectCache) MarkReady(projectID string) []Item {
	c.known[projectID] = struct{}{}

	if len(c.pending) == 0 {
		return nil
	}
	drained := c.pending
	c.pending = nil
	return drained
}

package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/AtomNotShy/tbbid-scrapy/internal/ingest"
	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/queue"
)

type fakeFetcher struct {
	html    string
	err     error
	fetched []string
	mu      sync.Mutex
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	return f.html, f.err
}

type fakePublisher struct {
	items []ingest.Item
	mu    sync.Mutex
}

func (p *fakePublisher) Publish(ctx context.Context, item ingest.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Project{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedProject(t *testing.T, db *gorm.DB, projectID string, noticeContent string) {
	t.Helper()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	p := &model.Project{
		ProjectID:     projectID,
		Title:         "某某水利枢纽工程施工招标",
		TimeShow:      &ts,
		URL:           "https://ggzy.example.gov.cn/notice/" + projectID + ".html",
		NoticeContent: noticeContent,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func TestScanFetchesAndPublishesEnrichedProject(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "XZ2025-E01", "")

	fetcher := &fakeFetcher{
		html: `<html><script>var x=1;</script><body>
资金来源：政府投资（财政拨款）。
计划工期：300天。
要求具备水利水电工程施工总承包贰级资质，项目经理须为一级建造师。
</body></html>`,
	}
	publisher := &fakePublisher{}

	pool := queue.NewQueue(testLogger(), 2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	e := NewEnricher(db, testLogger(), fetcher, publisher, nil, nil, pool, 10)

	n, err := e.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 submitted, got %d", n)
	}

	pool.Shutdown()

	if len(fetcher.fetched) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(fetcher.fetched))
	}
	if len(publisher.items) != 1 {
		t.Fatalf("expected 1 published item, got %d", len(publisher.items))
	}

	item, ok := publisher.items[0].(*ingest.ProjectItem)
	if !ok {
		t.Fatalf("expected *ProjectItem, got %T", publisher.items[0])
	}
	if item.ProjectID != "XZ2025-E01" {
		t.Errorf("unexpected project id: %s", item.ProjectID)
	}
	if item.ConstructionFunds != "政府投资" {
		t.Errorf("unexpected funds: %q", item.ConstructionFunds)
	}
	if item.ProjectDuration != "300天" {
		t.Errorf("unexpected duration: %q", item.ProjectDuration)
	}
	if item.PersonReq != "一级建造师" {
		t.Errorf("unexpected person req: %q", item.PersonReq)
	}
	if len(item.CompanyReq) != 1 || item.CompanyReq[0] != "水利水电工程施工总承包贰级" {
		t.Errorf("unexpected company req: %v", item.CompanyReq)
	}
	if item.TimeShow != "2025-03-01 10:00:00" {
		t.Errorf("unexpected time show: %q", item.TimeShow)
	}
}

func TestScanSkipsProjectsWithExistingAnalysis(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "XZ2025-E02", "<p>正文</p>")
	if err := db.Model(&model.Project{}).
		Where("project_id = ?", "XZ2025-E02").
		Update("analysed_at", time.Now()).Error; err != nil {
		t.Fatalf("update: %v", err)
	}

	fetcher := &fakeFetcher{}
	publisher := &fakePublisher{}

	pool := queue.NewQueue(testLogger(), 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	e := NewEnricher(db, testLogger(), fetcher, publisher, nil, nil, pool, 10)

	n, err := e.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	pool.Shutdown()

	if n != 0 {
		t.Errorf("expected 0 submitted, got %d", n)
	}
}

func TestEnrichUsesStoredContentWithoutFetching(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "XZ2025-E03", "<p>资金来源：自筹资金。工期：90天。</p>")

	fetcher := &fakeFetcher{}
	publisher := &fakePublisher{}

	pool := queue.NewQueue(testLogger(), 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	e := NewEnricher(db, testLogger(), fetcher, publisher, nil, nil, pool, 10)

	if _, err := e.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	pool.Shutdown()

	if len(fetcher.fetched) != 0 {
		t.Errorf("expected no fetches, got %d", len(fetcher.fetched))
	}
	if len(publisher.items) != 1 {
		t.Fatalf("expected 1 published item, got %d", len(publisher.items))
	}
	item := publisher.items[0].(*ingest.ProjectItem)
	if item.ConstructionFunds != "自筹资金" {
		t.Errorf("unexpected funds: %q", item.ConstructionFunds)
	}
	if item.ProjectDuration != "90天" {
		t.Errorf("unexpected duration: %q", item.ProjectDuration)
	}
}

func TestEnrichTerminatesWhenNoticeHasNoMatches(t *testing.T) {
	db := newTestDB(t)
	// 正文里没有任何可提取字段的项目，处理一轮后也要打完成标记，
	// 否则会被每轮扫描反复选中
	seedProject(t, db, "XZ2025-E04", "<p>本项目另行通知。</p>")

	fetcher := &fakeFetcher{}
	publisher := &fakePublisher{}

	pool := queue.NewQueue(testLogger(), 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	e := NewEnricher(db, testLogger(), fetcher, publisher, nil, nil, pool, 10)

	n, err := e.Scan(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 submitted, got %d", n)
	}
	pool.Shutdown()

	if len(publisher.items) != 1 {
		t.Fatalf("expected 1 published item, got %d", len(publisher.items))
	}

	var project model.Project
	if err := db.Where("project_id = ?", "XZ2025-E04").First(&project).Error; err != nil {
		t.Fatalf("load project: %v", err)
	}
	if project.AnalysedAt == nil {
		t.Fatalf("analysed_at not stamped after enrichment")
	}

	pool2 := queue.NewQueue(testLogger(), 1, 10)
	pool2.Start(ctx)
	e2 := NewEnricher(db, testLogger(), fetcher, publisher, nil, nil, pool2, 10)
	n, err = e2.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	pool2.Shutdown()
	if n != 0 {
		t.Errorf("expected 0 submitted on second scan, got %d", n)
	}
}

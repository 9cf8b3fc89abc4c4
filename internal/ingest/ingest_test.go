package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

// newTestDB 为每个测试建一个独立的内存数据库。
//
// 命名的共享内存库保证 gorm 连接池里的多个连接看到同一份数据。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&model.Project{}, &model.BidSection{}, &model.Bid{}, &model.BidRank{},
		&model.CompanyInfo{}, &model.EmployeeInfo{}, &model.PersonPerformance{},
		&model.WinnerBidInfo{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	return db
}

func newTestPipeline(t *testing.T) (*Pipeline, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewPipeline(context.Background(), db, logger)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, db
}

func validProjectItem(projectID string) *ProjectItem {
	return &ProjectItem{
		ProjectID:     projectID,
		Title:         "某某市政工程项目",
		TimeShow:      "2024-05-01 10:00:00",
		PlatformName:  "西藏自治区公共资源交易平台",
		NoticeContent: "<div>招标公告正文</div>",
		DistrictShow:  "拉萨市",
	}
}

func TestProjectUpsertIdempotent(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	first := validProjectItem("P001")
	first.Title = "旧标题"
	if err := p.Process(ctx, first); err != nil {
		t.Fatalf("first process: %v", err)
	}

	second := validProjectItem("P001")
	second.Title = "新标题"
	for i := 0; i < 3; i++ {
		if err := p.Process(ctx, second); err != nil {
			t.Fatalf("repeat process: %v", err)
		}
	}

	var count int64
	db.Model(&model.Project{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 project row, got %d", count)
	}

	var project model.Project
	db.Where("project_id = ?", "P001").First(&project)
	if project.Title != "新标题" {
		t.Errorf("title = %q, want last applied", project.Title)
	}
	if project.Stage != StageInitial {
		t.Errorf("stage = %d, repeated project upserts must not touch stage", project.Stage)
	}
}

func TestProjectMissingRequiredFieldRejected(t *testing.T) {
	p, db := newTestPipeline(t)

	item := validProjectItem("P002")
	item.NoticeContent = ""
	err := p.Process(context.Background(), item)
	if !IsMissingField(err) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}

	var count int64
	db.Model(&model.Project{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected item must not be persisted, got %d rows", count)
	}
}

func TestProjectInvalidTimeStoredNull(t *testing.T) {
	p, db := newTestPipeline(t)

	item := validProjectItem("P003")
	item.TimeShow = "2024年5月1日"
	if err := p.Process(context.Background(), item); err != nil {
		t.Fatalf("process: %v", err)
	}

	var project model.Project
	db.Where("project_id = ?", "P003").First(&project)
	if project.TimeShow != nil {
		t.Errorf("unparseable time must be stored as NULL, got %v", project.TimeShow)
	}
}

func TestDeferredSectionResolvedByProject(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	section := &BidSectionItem{
		ProjectID:   "P010",
		SectionID:   "001",
		SectionName: "一标段",
		LotCtlAmt:   1200000,
	}
	if err := p.Process(ctx, section); err != nil {
		t.Fatalf("process orphan section: %v", err)
	}

	if p.PendingLen() != 1 {
		t.Fatalf("expected 1 pending item, got %d", p.PendingLen())
	}
	var count int64
	db.Model(&model.BidSection{}).Count(&count)
	if count != 0 {
		t.Fatalf("orphan section must not be persisted yet")
	}

	if err := p.Process(ctx, validProjectItem("P010")); err != nil {
		t.Fatalf("process project: %v", err)
	}

	if p.PendingLen() != 0 {
		t.Errorf("pending queue not drained, len=%d", p.PendingLen())
	}

	var persisted model.BidSection
	if err := db.Where("project_id = ? AND section_id = ?", "P010", "001").First(&persisted).Error; err != nil {
		t.Fatalf("section not persisted after project arrived: %v", err)
	}
	if persisted.LotCtlAmt != 1200000 {
		t.Errorf("lot_ctl_amt = %v", persisted.LotCtlAmt)
	}

	var project model.Project
	db.Where("project_id = ?", "P010").First(&project)
	if project.Stage != StageHasSections {
		t.Errorf("stage = %d, want %d after section replay", project.Stage, StageHasSections)
	}
}

func TestUnrelatedPendingItemRequeued(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	// P020 的标段先到，之后入库的是无关项目 P021：
	// 整队重放后 P020 的标段仍然在队列里等待
	if err := p.Process(ctx, &BidSectionItem{ProjectID: "P020", SectionID: "001"}); err != nil {
		t.Fatalf("process orphan: %v", err)
	}
	if err := p.Process(ctx, validProjectItem("P021")); err != nil {
		t.Fatalf("process unrelated project: %v", err)
	}

	if p.PendingLen() != 1 {
		t.Fatalf("unrelated pending item must be requeued, len=%d", p.PendingLen())
	}

	if err := p.Process(ctx, validProjectItem("P020")); err != nil {
		t.Fatalf("process parent project: %v", err)
	}
	if p.PendingLen() != 0 {
		t.Errorf("pending item not resolved, len=%d", p.PendingLen())
	}
}

func TestStageMonotonic(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, validProjectItem("P030")); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := p.Process(ctx, &BidRankItem{
		ProjectID: "P030", SectionID: "001", SectionName: "一标段",
		BidderName: "甲公司", Rank: 1, WinAmt: 980000,
	}); err != nil {
		t.Fatalf("rank: %v", err)
	}

	var project model.Project
	db.Where("project_id = ?", "P030").First(&project)
	if project.Stage != StageHasRanks {
		t.Fatalf("stage = %d, want %d after rank", project.Stage, StageHasRanks)
	}

	// 标段信息后到，阶段不允许回退
	if err := p.Process(ctx, &BidSectionItem{ProjectID: "P030", SectionID: "001", SectionName: "一标段"}); err != nil {
		t.Fatalf("section: %v", err)
	}
	db.Where("project_id = ?", "P030").First(&project)
	if project.Stage != StageHasRanks {
		t.Errorf("stage regressed to %d", project.Stage)
	}
}

func TestRankDrivenSectionStatus(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, validProjectItem("P040")); err != nil {
		t.Fatalf("project: %v", err)
	}

	// rank=2 先到：状态 second；rank=1 后到：最终 completed
	if err := p.Process(ctx, &BidRankItem{
		ProjectID: "P040", SectionID: "001", SectionName: "一标段",
		BidderName: "乙公司", Rank: 2, WinAmt: 990000,
	}); err != nil {
		t.Fatalf("rank 2: %v", err)
	}

	var section model.BidSection
	db.Where("project_id = ? AND section_id = ?", "P040", "001").First(&section)
	if section.Status != "second" {
		t.Fatalf("status = %q after rank 2", section.Status)
	}

	if err := p.Process(ctx, &BidRankItem{
		ProjectID: "P040", SectionID: "001", SectionName: "一标段",
		BidderName: "甲公司", Rank: 1, WinAmt: 980000,
	}); err != nil {
		t.Fatalf("rank 1: %v", err)
	}

	db.Where("project_id = ? AND section_id = ?", "P040", "001").First(&section)
	if section.Status != "completed" {
		t.Errorf("status = %q, want completed", section.Status)
	}
	if section.WinningBidder != "甲公司" {
		t.Errorf("winning bidder = %q", section.WinningBidder)
	}
	if section.WinningAmount != 980000 {
		t.Errorf("winning amount = %v", section.WinningAmount)
	}
	if section.WinningTime == nil {
		t.Errorf("winning time not stamped")
	}

	var ranks int64
	db.Model(&model.BidRank{}).Where("project_id = ?", "P040").Count(&ranks)
	if ranks != 2 {
		t.Errorf("expected 2 rank rows, got %d", ranks)
	}
}

func TestBidImplicitlyCreatesSection(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, validProjectItem("P050")); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := p.Process(ctx, &BidItem{
		ProjectID: "P050", SectionID: "002", SectionName: "二标段",
		BidderName: "丙公司", BidAmount: 880000, BidOpenTime: "2024-05-02 09:30:00",
	}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	var section model.BidSection
	if err := db.Where("project_id = ? AND section_id = ?", "P050", "002").First(&section).Error; err != nil {
		t.Fatalf("section not implicitly created: %v", err)
	}
	if section.Status != "pending" {
		t.Errorf("implicit section status = %q, want pending", section.Status)
	}

	var bid model.Bid
	if err := db.Where("project_id = ? AND bidder_name = ?", "P050", "丙公司").First(&bid).Error; err != nil {
		t.Fatalf("bid not persisted: %v", err)
	}
	if bid.BidOpenTime == nil {
		t.Errorf("bid open time not parsed")
	}

	// 投标记录重复到达只更新，不产生新行
	if err := p.Process(ctx, &BidItem{
		ProjectID: "P050", SectionID: "002", SectionName: "二标段",
		BidderName: "丙公司", BidAmount: 870000,
	}); err != nil {
		t.Fatalf("repeat bid: %v", err)
	}
	var count int64
	db.Model(&model.Bid{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 bid row, got %d", count)
	}
	db.Where("project_id = ? AND bidder_name = ?", "P050", "丙公司").First(&bid)
	if bid.BidAmount != 870000 {
		t.Errorf("bid amount = %v, want last applied", bid.BidAmount)
	}
}

func TestPlaceholderCompanyReconciliation(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, &EmployeeItem{
		Name: "张三", CorpCode: "C1", Role: "项目经理", CertCode: "CERT-1",
	}); err != nil {
		t.Fatalf("employee: %v", err)
	}

	var placeholder model.CompanyInfo
	if err := db.Where("corp_code = ?", "C1").First(&placeholder).Error; err != nil {
		t.Fatalf("placeholder company not created: %v", err)
	}
	if placeholder.Name != "Temporary Company" {
		t.Fatalf("placeholder name = %q", placeholder.Name)
	}

	if err := p.Process(ctx, &CompanyItem{
		CorpCode: "C1", Name: "Real Co", Corp: "李四",
		Qualifications: []string{"建筑工程施工总承包壹级"},
	}); err != nil {
		t.Fatalf("company: %v", err)
	}

	var count int64
	db.Model(&model.CompanyInfo{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected single company row, got %d", count)
	}

	var company model.CompanyInfo
	db.Where("corp_code = ?", "C1").First(&company)
	if company.ID != placeholder.ID {
		t.Errorf("company row replaced instead of updated in place")
	}
	if company.Name != "Real Co" {
		t.Errorf("name = %q, want Real Co", company.Name)
	}
	if company.BidCount != 1 {
		t.Errorf("bid_count = %d, want 1 observation", company.BidCount)
	}
	if len(company.Qualifications) != 1 {
		t.Errorf("qualifications = %v", company.Qualifications)
	}
}

func TestCompanyBidCountAccumulates(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	item := &CompanyItem{CorpCode: "C2", Name: "某建设集团"}
	for i := 0; i < 3; i++ {
		if err := p.Process(ctx, item); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	var company model.CompanyInfo
	db.Where("corp_code = ?", "C2").First(&company)
	if company.BidCount != 3 {
		t.Errorf("bid_count = %d, want 3 (counts observations)", company.BidCount)
	}
}

func TestEmployeeFallbackNaturalKey(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	// 无证书编号的人员按 (name, corp_code) 去重
	first := &EmployeeItem{Name: "王五", CorpCode: "C3", Role: "技术负责人"}
	if err := p.Process(ctx, first); err != nil {
		t.Fatalf("first employee: %v", err)
	}
	second := &EmployeeItem{Name: "王五", CorpCode: "C3", Role: "项目经理"}
	if err := p.Process(ctx, second); err != nil {
		t.Fatalf("second employee: %v", err)
	}

	var count int64
	db.Model(&model.EmployeeInfo{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 employee row, got %d", count)
	}
	var employee model.EmployeeInfo
	db.Where("name = ? AND corp_code = ?", "王五", "C3").First(&employee)
	if employee.Role != "项目经理" {
		t.Errorf("role = %q, want last applied", employee.Role)
	}

	// 同名人员换了公司是另一条记录
	if err := p.Process(ctx, &EmployeeItem{Name: "王五", CorpCode: "C4"}); err != nil {
		t.Fatalf("other corp employee: %v", err)
	}
	db.Model(&model.EmployeeInfo{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 employee rows, got %d", count)
	}
}

func TestPersonPerformanceUpsert(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	item := &PersonPerformanceItem{
		Name: "赵六", CorpCode: "C5", ProjectName: "某道路改建工程",
		Role: "项目经理", DataLevel: "省级",
	}
	if err := p.Process(ctx, item); err != nil {
		t.Fatalf("first: %v", err)
	}

	// corp_name 缺失时占位公司用 Unknown Company
	var company model.CompanyInfo
	if err := db.Where("corp_code = ?", "C5").First(&company).Error; err != nil {
		t.Fatalf("placeholder company: %v", err)
	}
	if company.Name != "Unknown Company" {
		t.Errorf("placeholder name = %q", company.Name)
	}

	item.DataLevel = "国家级"
	if err := p.Process(ctx, item); err != nil {
		t.Fatalf("second: %v", err)
	}

	var count int64
	db.Model(&model.PersonPerformance{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 performance row, got %d", count)
	}
	var perf model.PersonPerformance
	db.First(&perf)
	if perf.DataLevel != "国家级" {
		t.Errorf("data_level = %q, want last applied", perf.DataLevel)
	}
}

func TestWinnerBidUpsertAndWinCount(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	item := &BidWinItem{
		CorpCode: "C6", ProjectName: "某水利枢纽工程", BidderName: "丁公司",
		WinAmt: 5600000, CreateTime: "2024/05/03",
	}
	if err := p.Process(ctx, item); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := p.Process(ctx, item); err != nil {
		t.Fatalf("second: %v", err)
	}

	var count int64
	db.Model(&model.WinnerBidInfo{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 winner row, got %d", count)
	}

	var winner model.WinnerBidInfo
	db.First(&winner)
	if winner.CreateTime == nil {
		t.Errorf("create_time not parsed from flexible layout")
	}

	var company model.CompanyInfo
	db.Where("corp_code = ?", "C6").First(&company)
	if company.WinCount != 1 {
		t.Errorf("win_count = %d, want 1 (only first insert counts)", company.WinCount)
	}

	// 缺 corp_code 的中标信息直接拒绝
	err := p.Process(ctx, &BidWinItem{ProjectName: "x"})
	if !IsMissingField(err) {
		t.Errorf("expected MissingFieldError, got %v", err)
	}
}

func TestCompanyListFieldsSurviveUpdate(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	// 先有员工建占位记录，企业详情走更新路径落多条资质
	if err := p.Process(ctx, &EmployeeItem{
		Name: "张三", CorpCode: "C7", CertCode: "CERT-7",
		Major: []string{"房屋建筑工程", "市政公用工程"},
	}); err != nil {
		t.Fatalf("employee: %v", err)
	}
	if err := p.Process(ctx, &CompanyItem{
		CorpCode: "C7", Name: "某某建工集团",
		Qualifications: []string{"建筑工程施工总承包壹级", "市政公用工程施工总承包贰级"},
	}); err != nil {
		t.Fatalf("company: %v", err)
	}

	var company model.CompanyInfo
	if err := db.Where("corp_code = ?", "C7").First(&company).Error; err != nil {
		t.Fatalf("load company: %v", err)
	}
	if len(company.Qualifications) != 2 {
		t.Fatalf("qualifications = %v, want both entries round-tripped", company.Qualifications)
	}
	if company.Qualifications[0] != "建筑工程施工总承包壹级" {
		t.Errorf("qualifications[0] = %q", company.Qualifications[0])
	}

	// 已有真实记录后再覆盖一次，列表字段同样要存活
	if err := p.Process(ctx, &CompanyItem{
		CorpCode: "C7", Name: "某某建工集团",
		Qualifications: []string{"水利水电工程施工总承包壹级", "公路工程施工总承包叁级"},
	}); err != nil {
		t.Fatalf("repeat company: %v", err)
	}
	db.Where("corp_code = ?", "C7").First(&company)
	if len(company.Qualifications) != 2 || company.Qualifications[0] != "水利水电工程施工总承包壹级" {
		t.Errorf("qualifications after overwrite = %v", company.Qualifications)
	}
	if company.BidCount != 2 {
		t.Errorf("bid_count = %d, want 2 observations", company.BidCount)
	}

	// 员工重复到达走更新路径，注册专业列表同样要存活
	if err := p.Process(ctx, &EmployeeItem{
		Name: "张三", CorpCode: "C7", CertCode: "CERT-7",
		Major: []string{"公路工程", "水利水电工程"},
	}); err != nil {
		t.Fatalf("repeat employee: %v", err)
	}
	var employee model.EmployeeInfo
	if err := db.Where("cert_code = ?", "CERT-7").First(&employee).Error; err != nil {
		t.Fatalf("load employee: %v", err)
	}
	if len(employee.Major) != 2 || employee.Major[0] != "公路工程" {
		t.Errorf("major after update = %v", employee.Major)
	}
}

func TestChildItemMissingProjectIDRejected(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	items := []Item{
		&BidSectionItem{SectionID: "001", SectionName: "一标段"},
		&BidItem{SectionID: "001", BidderName: "甲公司"},
		&BidRankItem{SectionID: "001", BidderName: "甲公司", Rank: 1},
	}
	for _, item := range items {
		err := p.Process(ctx, item)
		if !IsMissingField(err) {
			t.Errorf("%s: expected MissingFieldError, got %v", item.Kind(), err)
		}
	}

	// 被拒绝的 item 不进待处理队列
	if p.PendingLen() != 0 {
		t.Errorf("rejected items must not be queued, len=%d", p.PendingLen())
	}
}

func TestSectionSparseUpdateKeepsDetails(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, validProjectItem("P060")); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := p.Process(ctx, &BidSectionItem{
		ProjectID: "P060", SectionID: "001", SectionName: "一标段",
		BidOpenTime: "2024-06-01 09:30:00", LotCtlAmt: 2500000, BidSize: 5,
	}); err != nil {
		t.Fatalf("full section: %v", err)
	}

	// 列表页的简略 item 后到，不能把已存的明细清空
	if err := p.Process(ctx, &BidSectionItem{
		ProjectID: "P060", SectionID: "001", SectionName: "一标段（更名）",
	}); err != nil {
		t.Fatalf("sparse section: %v", err)
	}

	var section model.BidSection
	db.Where("project_id = ? AND section_id = ?", "P060", "001").First(&section)
	if section.SectionName != "一标段（更名）" {
		t.Errorf("section name = %q, want last applied", section.SectionName)
	}
	if section.BidOpenTime == nil {
		t.Errorf("bid_open_time cleared by sparse update")
	}
	if section.LotCtlAmt != 2500000 {
		t.Errorf("lot_ctl_amt = %v, want preserved", section.LotCtlAmt)
	}
	if section.BidSize != 5 {
		t.Errorf("bid_size = %d, want preserved", section.BidSize)
	}
}

func TestPipelineStats(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, &BidSectionItem{ProjectID: "P070", SectionID: "001"}); err != nil {
		t.Fatalf("orphan section: %v", err)
	}
	if got := p.Stats().Deferred; got != 1 {
		t.Errorf("deferred = %d, want 1", got)
	}

	if err := p.Process(ctx, validProjectItem("P070")); err != nil {
		t.Fatalf("project: %v", err)
	}
	if got := p.Stats().NewProjects; got != 1 {
		t.Errorf("new projects = %d, want 1", got)
	}

	// 重复入库不是新建档
	if err := p.Process(ctx, validProjectItem("P070")); err != nil {
		t.Fatalf("repeat project: %v", err)
	}
	if got := p.Stats().NewProjects; got != 1 {
		t.Errorf("new projects after repeat = %d, want 1", got)
	}
}

func TestCacheWarmSkipsKnownProjects(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&model.Project{ProjectID: "P900", Title: "预置项目", Stage: StageInitial}).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewPipeline(context.Background(), db, logger)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	// 预热后 P900 的子 item 不会被延迟
	if err := p.Process(context.Background(), &BidSectionItem{ProjectID: "P900", SectionID: "001"}); err != nil {
		t.Fatalf("section: %v", err)
	}
	if p.PendingLen() != 0 {
		t.Errorf("section deferred despite warmed cache")
	}
}

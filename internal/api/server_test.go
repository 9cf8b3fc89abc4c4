package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/AtomNotShy/tbbid-scrapy/internal/config"
	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServerWithDB(&config.Config{}, logger, db, nil)
	return s, db
}

func seedProjects(t *testing.T, db *gorm.DB) {
	t.Helper()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	for i := 1; i <= 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		stage := 1
		if i == 3 {
			stage = 2
		}
		p := &model.Project{
			ProjectID:    fmt.Sprintf("XZ2025-%03d", i),
			Title:        fmt.Sprintf("项目%d", i),
			TimeShow:     &ts,
			DistrictShow: "拉萨",
			Stage:        stage,
		}
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("seed project: %v", err)
		}
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListProjectsPagination(t *testing.T) {
	s, db := newTestServer(t)
	seedProjects(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects?page=1&page_size=2", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Total int64 `json:"total"`
		Items []struct {
			ProjectID string `json:"project_id"`
			Stage     int    `json:"stage"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	// 按公告时间倒序
	if resp.Items[0].ProjectID != "XZ2025-003" {
		t.Errorf("expected newest first, got %s", resp.Items[0].ProjectID)
	}
}

func TestListProjectsStageFilter(t *testing.T) {
	s, db := newTestServer(t)
	seedProjects(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects?stage=2", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 stage-2 project, got %d", resp.Total)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/projects?stage=9", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid stage, got %d", w.Code)
	}
}

func TestGetProjectWithSections(t *testing.T) {
	s, db := newTestServer(t)
	seedProjects(t, db)

	section := &model.BidSection{
		ProjectID: "XZ2025-001",
		SectionID: "001",
		Status:    "pending",
	}
	if err := db.Create(section).Error; err != nil {
		t.Fatalf("seed section: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/XZ2025-001", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var project model.Project
	if err := json.Unmarshal(w.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(project.BidSections) != 1 {
		t.Errorf("expected 1 section, got %d", len(project.BidSections))
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/projects/NOPE", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetCompanyWithEmployees(t *testing.T) {
	s, db := newTestServer(t)

	company := &model.CompanyInfo{
		Name:     "某某建设集团有限公司",
		CorpCode: "91540000MA0000001X",
	}
	if err := db.Create(company).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}
	cert := "藏254000000001"
	emp := &model.EmployeeInfo{
		Name:     "张三",
		CorpCode: company.CorpCode,
		CertCode: &cert,
	}
	if err := db.Create(emp).Error; err != nil {
		t.Fatalf("seed employee: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/companies/91540000MA0000001X", nil)
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got model.CompanyInfo
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Employees) != 1 {
		t.Errorf("expected 1 employee, got %d", len(got.Employees))
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/companies/unknown", nil)
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

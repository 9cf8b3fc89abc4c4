package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type projectSummary struct {
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	TimeShow     string `json:"time_show"`
	PlatformName string `json:"platform_name"`
	DistrictShow string `json:"district_show"`
	SessionSize  int    `json:"session_size"`
	Stage        int    `json:"stage"`
}

// handleListProjects 分页返回项目列表，支持 stage 和 district 过滤。
//
// GET /api/projects?page=1&page_size=20&stage=2&district=拉萨
func (s *Server) handleListProjects(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(c.Request.Context()).Model(&model.Project{})

	if stageStr := c.Query("stage"); stageStr != "" {
		stage, err := strconv.Atoi(stageStr)
		if err != nil || stage < 1 || stage > 3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage"})
			return
		}
		query = query.Where("stage = ?", stage)
	}
	if district := c.Query("district"); district != "" {
		query = query.Where("district_show = ?", district)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logger.Error("count projects failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list projects failed"})
		return
	}

	var projects []model.Project
	if err := query.
		Order("time_show DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&projects).Error; err != nil {
		s.logger.Error("list projects failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list projects failed"})
		return
	}

	// 保证空结果序列化为 [] 而不是 null
	items := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		timeShow := ""
		if p.TimeShow != nil {
			timeShow = p.TimeShow.Format("2006-01-02 15:04:05")
		}
		items = append(items, projectSummary{
			ProjectID:    p.ProjectID,
			Title:        p.Title,
			TimeShow:     timeShow,
			PlatformName: p.PlatformName,
			DistrictShow: p.DistrictShow,
			SessionSize:  p.SessionSize,
			Stage:        p.Stage,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"items":     items,
	})
}

// handleGetProject 返回单个项目及其标段、排名。
//
// GET /api/projects/:project_id
func (s *Server) handleGetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	var project model.Project
	err := s.db.WithContext(c.Request.Context()).
		Preload("BidSections").
		Preload("BidSections.Bids").
		Preload("BidRanks").
		Where("project_id = ?", projectID).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		s.logger.Error("get project failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get project failed"})
		return
	}

	c.JSON(http.StatusOK, project)
}

// handleGetCompany 返回企业详情及其注册人员、中标记录。
//
// GET /api/companies/:corp_code
func (s *Server) handleGetCompany(c *gin.Context) {
	corpCode := c.Param("corp_code")

	var company model.CompanyInfo
	err := s.db.WithContext(c.Request.Context()).
		Preload("Employees").
		Preload("WinnerBids").
		Where("corp_code = ?", corpCode).
		First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		s.logger.Error("get company failed",
			slog.String("corp_code", corpCode),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get company failed"})
		return
	}

	c.JSON(http.StatusOK, company)
}

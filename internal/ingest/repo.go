package ingest

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

// 项目完整度阶段，只前进不回退。
const (
	StageInitial     = 1 // 已建档
	StageHasSections = 2 // 已有标段
	StageHasRanks    = 3 // 已有排名
)

// upsertProject 按 project_id 建档或整体覆盖描述字段。
//
// 更新路径不触碰 stage：项目公告重复抓取不会把完整度打回去。
func upsertProject(tx *gorm.DB, it *ProjectItem, timeShow *time.Time) error {
	fields := map[string]interface{}{
		"title":              it.Title,
		"time_show":          timeShow,
		"platform_name":      it.PlatformName,
		"classify_show":      it.ClassifyShow,
		"url":                it.URL,
		"notice_content":     it.NoticeContent,
		"district_show":      it.DistrictShow,
		"session_size":       it.SessionSize,
		"company_req":        strings.Join(it.CompanyReq, ";"),
		"person_req":         it.PersonReq,
		"construction_funds": it.ConstructionFunds,
		"project_duration":   it.ProjectDuration,
	}

	var existing model.Project
	err := tx.Where("project_id = ?", it.ProjectID).First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Updates(fields).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	project := model.Project{
		ProjectID:         it.ProjectID,
		Title:             it.Title,
		TimeShow:          timeShow,
		PlatformName:      it.PlatformName,
		ClassifyShow:      it.ClassifyShow,
		URL:               it.URL,
		NoticeContent:     it.NoticeContent,
		DistrictShow:      it.DistrictShow,
		SessionSize:       it.SessionSize,
		CompanyReq:        strings.Join(it.CompanyReq, ";"),
		PersonReq:         it.PersonReq,
		ConstructionFunds: it.ConstructionFunds,
		ProjectDuration:   it.ProjectDuration,
		Stage:             StageInitial,
	}
	return tx.Create(&project).Error
}

// advanceStage 单调推进项目阶段，已达到或超过目标阶段时不写。
func advanceStage(tx *gorm.DB, projectID string, stage int) error {
	return tx.Model(&model.Project{}).
		Where("project_id = ? AND stage < ?", projectID, stage).
		Update("stage", stage).Error
}

// upsertBidSection 按 (project_id, section_id) 创建或更新标段。
//
// 更新只覆盖 item 带值的字段：列表页 item 往往不带开标时间等明细，
// 空值不能把已存的字段清掉。
func upsertBidSection(tx *gorm.DB, it *BidSectionItem) error {
	var existing model.BidSection
	err := tx.Where("project_id = ? AND section_id = ?", it.ProjectID, it.SectionID).
		First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{}
		if it.SectionName != "" {
			updates["section_name"] = it.SectionName
		}
		if it.BidSize != 0 {
			updates["bid_size"] = it.BidSize
		}
		if t := parseTime(it.BidOpenTime); t != nil {
			updates["bid_open_time"] = t
		}
		if it.InfoSource != "" {
			updates["info_source"] = it.InfoSource
		}
		if it.LotCtlAmt != 0 {
			updates["lot_ctl_amt"] = it.LotCtlAmt
		}
		if it.SessionSize != 0 {
			updates["session_size"] = it.SessionSize
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(updates).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	section := model.BidSection{
		ProjectID:   it.ProjectID,
		SectionID:   it.SectionID,
		SectionName: it.SectionName,
		BidSize:     it.BidSize,
		BidOpenTime: parseTime(it.BidOpenTime),
		InfoSource:  it.InfoSource,
		LotCtlAmt:   it.LotCtlAmt,
		SessionSize: it.SessionSize,
		Status:      "pending",
	}
	return tx.Create(&section).Error
}

// ensureBidSection 保证标段存在：投标/排名记录引用了未知标段时，
// 以 status=pending 隐式建档。
func ensureBidSection(tx *gorm.DB, projectID, sectionID, sectionName string) (*model.BidSection, error) {
	var section model.BidSection
	err := tx.Where("project_id = ? AND section_id = ?", projectID, sectionID).
		First(&section).Error
	if err == nil {
		return &section, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	section = model.BidSection{
		ProjectID:   projectID,
		SectionID:   sectionID,
		SectionName: sectionName,
		Status:      "pending",
	}
	if err := tx.Create(&section).Error; err != nil {
		return nil, err
	}
	return &section, nil
}

// upsertBid 按 (project_id, section_id, bidder_name) 创建或更新投标记录。
func upsertBid(tx *gorm.DB, it *BidItem) error {
	if _, err := ensureBidSection(tx, it.ProjectID, it.SectionID, it.SectionName); err != nil {
		return err
	}

	var existing model.Bid
	err := tx.Where("project_id = ? AND section_id = ? AND bidder_name = ?",
		it.ProjectID, it.SectionID, it.BidderName).First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Updates(map[string]interface{}{
			"section_name":  it.SectionName,
			"bid_amount":    it.BidAmount,
			"bid_open_time": parseTime(it.BidOpenTime),
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	bid := model.Bid{
		ProjectID:   it.ProjectID,
		SectionID:   it.SectionID,
		SectionName: it.SectionName,
		BidderName:  it.BidderName,
		BidAmount:   it.BidAmount,
		BidOpenTime: parseTime(it.BidOpenTime),
	}
	return tx.Create(&bid).Error
}

// upsertBidRank 按 (project_id, section_id, rank) 创建或更新排名记录，
// 并把中标信息盖到所属标段上。
//
// 标段状态跟随最后应用的排名：1→completed，2→second，3→third，其余→pending。
func upsertBidRank(tx *gorm.DB, it *BidRankItem) error {
	var existing model.BidRank
	err := tx.Where("project_id = ? AND section_id = ? AND `rank` = ?",
		it.ProjectID, it.SectionID, it.Rank).First(&existing).Error
	if err == nil {
		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"section_name": it.SectionName,
			"bidder_name":  it.BidderName,
			"manager_name": it.ManagerName,
			"win_amt":      it.WinAmt,
		}).Error; err != nil {
			return err
		}
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		rank := model.BidRank{
			ProjectID:   it.ProjectID,
			SectionID:   it.SectionID,
			SectionName: it.SectionName,
			BidderName:  it.BidderName,
			Rank:        it.Rank,
			ManagerName: it.ManagerName,
			WinAmt:      it.WinAmt,
			OpenTime:    parseTime(it.OpenTime),
		}
		if err := tx.Create(&rank).Error; err != nil {
			return err
		}
	} else {
		return err
	}

	section, err := ensureBidSection(tx, it.ProjectID, it.SectionID, it.SectionName)
	if err != nil {
		return err
	}

	now := time.Now()
	return tx.Model(section).Updates(map[string]interface{}{
		"winning_bidder": it.BidderName,
		"winning_amount": it.WinAmt,
		"winning_time":   now,
		"status":         rankStatus(it.Rank),
	}).Error
}

func rankStatus(rank int) string {
	switch rank {
	case 1:
		return "completed"
	case 2:
		return "second"
	case 3:
		return "third"
	default:
		return "pending"
	}
}

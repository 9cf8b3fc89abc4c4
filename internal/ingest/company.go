package ingest

import (
	"errors"

	"gorm.io/gorm"

	"github.com/AtomNotShy/tbbid-scrapy/internal/model"
)

// 占位企业名称：下游实体先于企业详情到达时建档用。
const (
	placeholderName = "Temporary Company"
	unknownName     = "Unknown Company"
)

// ensureCompany 保证 corp_code 对应的企业存在，不存在时建一条占位记录。
//
// 占位记录等真实的企业详情到达后由 upsertCompany 原地覆盖，corp_code 不变。
func ensureCompany(tx *gorm.DB, corpCode, name string) error {
	var company model.CompanyInfo
	err := tx.Where("corp_code = ?", corpCode).First(&company).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	company = model.CompanyInfo{
		CorpCode: corpCode,
		Name:     name,
	}
	return tx.Create(&company).Error
}

// upsertCompany 按 corp_code 创建或覆盖企业详情。
//
// bid_count 按观测累加：同一份企业详情被重复抓取会继续加一，
// 这是沿用来源系统的"计观测次数"语义，不是去重计数。
//
// 更新必须走结构体路径：map 更新会绕过 qualifications 的 serializer:json。
func upsertCompany(tx *gorm.DB, it *CompanyItem) error {
	var existing model.CompanyInfo
	err := tx.Where("corp_code = ?", it.CorpCode).First(&existing).Error
	if err == nil {
		existing.Name = it.Name
		existing.Corp = it.Corp
		existing.CorpAsset = it.CorpAsset
		existing.RegAddress = it.RegAddress
		existing.ValidDate = it.ValidDate
		existing.Qualifications = it.Qualifications
		existing.BidCount++
		return tx.Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	company := model.CompanyInfo{
		Name:           it.Name,
		CorpCode:       it.CorpCode,
		Corp:           it.Corp,
		CorpAsset:      it.CorpAsset,
		RegAddress:     it.RegAddress,
		ValidDate:      it.ValidDate,
		Qualifications: it.Qualifications,
		BidCount:       1,
	}
	return tx.Create(&company).Error
}

// upsertEmployee 创建或更新注册人员。
//
// 有证书编号时按 cert_code 定位，否则退化为 (name, corp_code)。
// 引用的企业不存在时先建占位记录。
func upsertEmployee(tx *gorm.DB, it *EmployeeItem) error {
	if err := ensureCompany(tx, it.CorpCode, placeholderName); err != nil {
		return err
	}

	var certCode *string
	if it.CertCode != "" {
		certCode = &it.CertCode
	}

	query := tx.Model(&model.EmployeeInfo{})
	if certCode != nil {
		query = query.Where("cert_code = ?", *certCode)
	} else {
		query = query.Where("name = ? AND corp_code = ?", it.Name, it.CorpCode)
	}

	// major 带 serializer:json，更新同样走结构体路径
	var existing model.EmployeeInfo
	err := query.First(&existing).Error
	if err == nil {
		existing.Name = it.Name
		existing.CorpCode = it.CorpCode
		existing.Role = it.Role
		existing.Major = it.Major
		existing.ValidDate = it.ValidDate
		existing.BirthDate = parseFlexibleTime(it.BirthDate)
		existing.IDNumber = it.IDNumber
		return tx.Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	employee := model.EmployeeInfo{
		Name:      it.Name,
		CorpCode:  it.CorpCode,
		Role:      it.Role,
		CertCode:  certCode,
		Major:     it.Major,
		ValidDate: it.ValidDate,
		BirthDate: parseFlexibleTime(it.BirthDate),
		IDNumber:  it.IDNumber,
	}
	return tx.Create(&employee).Error
}

// upsertPerformance 创建或更新个人业绩记录，自然键 (name, corp_code, project_name, role)。
func upsertPerformance(tx *gorm.DB, it *PersonPerformanceItem) error {
	if it.CorpCode != "" {
		name := it.CorpName
		if name == "" {
			name = unknownName
		}
		if err := ensureCompany(tx, it.CorpCode, name); err != nil {
			return err
		}
	}

	var existing model.PersonPerformance
	err := tx.Where("name = ? AND corp_code = ? AND project_name = ? AND role = ?",
		it.Name, it.CorpCode, it.ProjectName, it.Role).First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Updates(map[string]interface{}{
			"corp_name":  it.CorpName,
			"data_level": it.DataLevel,
			"record_id":  it.RecordID,
			"company_id": it.CompanyID,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	performance := model.PersonPerformance{
		Name:        it.Name,
		CorpCode:    it.CorpCode,
		CorpName:    it.CorpName,
		ProjectName: it.ProjectName,
		Role:        it.Role,
		DataLevel:   it.DataLevel,
		RecordID:    it.RecordID,
		CompanyID:   it.CompanyID,
	}
	return tx.Create(&performance).Error
}

// upsertWinnerBid 按 (corp_code, project_name) 创建或更新中标信息。
//
// 首次入库时同步累加企业的 win_count，重复抓取同一条公示不再累加。
func upsertWinnerBid(tx *gorm.DB, it *BidWinItem) error {
	name := it.BidderName
	if name == "" {
		name = unknownName
	}
	if err := ensureCompany(tx, it.CorpCode, name); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"bidder_name":     it.BidderName,
		"area_code":       it.AreaCode,
		"win_amt":         it.WinAmt,
		"create_time":     parseFlexibleTime(it.CreateTime),
		"tender_org_name": it.TenderOrgName,
		"tos":             it.Tos,
		"url":             it.URL,
		"notice_content":  it.NoticeContent,
	}

	var existing model.WinnerBidInfo
	err := tx.Where("corp_code = ? AND project_name = ?", it.CorpCode, it.ProjectName).
		First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Updates(fields).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	winner := model.WinnerBidInfo{
		ProjectName:   it.ProjectName,
		CorpCode:      it.CorpCode,
		BidderName:    it.BidderName,
		AreaCode:      it.AreaCode,
		WinAmt:        it.WinAmt,
		CreateTime:    parseFlexibleTime(it.CreateTime),
		TenderOrgName: it.TenderOrgName,
		Tos:           it.Tos,
		URL:           it.URL,
		NoticeContent: it.NoticeContent,
	}
	if err := tx.Create(&winner).Error; err != nil {
		return err
	}

	return tx.Model(&model.CompanyInfo{}).
		Where("corp_code = ?", it.CorpCode).
		Update("win_count", gorm.Expr("win_count + 1")).Error
}

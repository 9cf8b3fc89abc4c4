package model

import (
	"time"
)

// CompanyInfo 表示一家投标企业。
//
// CorpCode 是统一社会信用代码（自然键，唯一索引）。员工、个人业绩、中标
// 信息都可能先于企业详情页被抓到，此时会先建一条占位记录（name 为
// "Temporary Company" 或 "Unknown Company"），等企业详情到达后原地覆盖，
// corp_code 不变。
type CompanyInfo struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name           string   `gorm:"not null"`                               // 公司名称
	CorpCode       string   `gorm:"type:varchar(64);uniqueIndex;not null"`  // 统一社会信用代码
	Corp           string   // 法人姓名
	CorpAsset      string   // 注册资本
	RegAddress     string   // 注册地址
	ValidDate      string   // 报送有效期
	Qualifications []string `gorm:"serializer:json"` // 资质信息
	BidCount       int      // 参与投标次数（按观测累加，占位记录从 0 起算）
	WinCount       int      // 中标次数

	Employees  []EmployeeInfo  `gorm:"foreignKey:CorpCode;references:CorpCode;constraint:OnDelete:CASCADE"`
	WinnerBids []WinnerBidInfo `gorm:"foreignKey:CorpCode;references:CorpCode;constraint:OnDelete:CASCADE"`
}

// EmployeeInfo 表示企业的注册人员。
//
// 有注册证书编号时以 cert_code 为自然键；无证书编号的人员退化为
// (name, corp_code) 弱自然键。CertCode 用指针以便 MySQL 唯一索引允许多个 NULL。
type EmployeeInfo struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name      string   `gorm:"type:varchar(191);not null"` // 人员名称
	CorpCode  string   `gorm:"type:varchar(64);not null"`  // 公司代码
	Role      string   // 角色
	CertCode  *string  `gorm:"type:varchar(64);uniqueIndex"` // 注册证书编号
	Major     []string `gorm:"serializer:json"`              // 注册专业
	ValidDate string   // 注册有效期
	BirthDate *time.Time
	IDNumber  string
}

// PersonPerformance 表示个人业绩记录，自然键 (name, corp_code, project_name, role)。
//
// RecordID / CompanyID / DataLevel 是来源系统的外部标识，不是本库外键。
type PersonPerformance struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string `gorm:"type:varchar(191);uniqueIndex:uix_person_perf;not null"`
	CorpCode    string `gorm:"type:varchar(64);uniqueIndex:uix_person_perf;not null"`
	ProjectName string `gorm:"type:varchar(191);uniqueIndex:uix_person_perf;not null"`
	Role        string `gorm:"type:varchar(64);uniqueIndex:uix_person_perf"`
	CorpName    string // 公司名称（冗余存储）
	DataLevel   string // 数据等级
	RecordID    string // 来源系统记录 ID
	CompanyID   string // 来源系统公司 ID
}

// WinnerBidInfo 表示全国平台公示的中标信息，自然键 (corp_code, project_name)。
type WinnerBidInfo struct {
	ID        uint `gorm:"primaryKey"`
	UpdatedAt time.Time

	ProjectName   string     `gorm:"type:varchar(191);uniqueIndex:uix_corp_project;not null"`
	CorpCode      string     `gorm:"type:varchar(64);uniqueIndex:uix_corp_project;not null"`
	BidderName    string     // 中标单位名称
	AreaCode      string     // 地区代码
	WinAmt        float64    // 中标金额
	CreateTime    *time.Time // 公示时间
	TenderOrgName string     // 招标单位
	Tos           string     // 类别
	URL           string     // 详情页 URL
	NoticeContent string     `gorm:"type:longtext"` // 公告内容
}

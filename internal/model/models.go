package model

import (
	"time"
)

// Project 表示一个招标项目。
//
// ProjectID 是交易平台下发的招标编号（自然键，唯一索引），所有子表通过它关联。
// Stage 记录项目数据的完整度：1=已建档，2=已有标段，3=已有中标排名。
// Stage 只会前进，不会回退。
type Project struct {
	ID        uint      `gorm:"primaryKey"`     // 内部 ID
	CrawlTime time.Time `gorm:"autoCreateTime"` // 首次抓取时间

	ProjectID     string     `gorm:"type:varchar(191);uniqueIndex;not null"` // 招标编号（自然键）
	Title         string     // 项目标题
	TimeShow      *time.Time // 公告发布时间
	PlatformName  string     // 交易平台名称
	ClassifyShow  string     // 公告分类
	URL           string     // 详情页链接
	NoticeContent string     `gorm:"type:longtext"` // 公告正文（去除脚本后的 HTML）
	DistrictShow  string     // 地区
	SessionSize   int        // 标段数量

	// 从公告正文提取的结构化字段
	CompanyReq        string // 企业资质要求
	PersonReq         string // 人员资质要求
	ConstructionFunds string // 资金来源
	ProjectDuration   string // 工期

	// 结构化提取完成时间。NULL 表示尚未补全；正文无匹配也算完成，
	// 否则补全循环会反复重扫同一批项目。
	AnalysedAt *time.Time `gorm:"index"`

	Stage int `gorm:"default:1"` // 1: 已建档, 2: 已有标段, 3: 已有排名

	BidSections []BidSection `gorm:"foreignKey:ProjectID;references:ProjectID;constraint:OnDelete:CASCADE"`
	BidRanks    []BidRank    `gorm:"foreignKey:ProjectID;references:ProjectID;constraint:OnDelete:CASCADE"`
}

// BidSection 表示项目下的一个标段。
//
// 自然键是 (project_id, section_id)。标段可能先于标段列表页出现在
// 投标记录或排名记录里，此时会以 status=pending 隐式建档。
type BidSection struct {
	ID        uint      `gorm:"primaryKey"`
	CrawlTime time.Time `gorm:"autoCreateTime"`

	ProjectID   string `gorm:"type:varchar(191);uniqueIndex:uix_project_section;not null"`
	SectionID   string `gorm:"type:varchar(64);uniqueIndex:uix_project_section;not null"`
	SectionName string
	BidSize     int        // 投标单位数量
	BidOpenTime *time.Time // 开标时间
	InfoSource  string     // 信息来源
	LotCtlAmt   float64    // 控制价
	SessionSize int        // 所属项目的标段总数

	Status        string     `gorm:"type:varchar(16)"` // pending / completed / second / third
	WinningBidder string     // 中标单位
	WinningAmount float64    // 中标金额
	WinningTime   *time.Time // 中标登记时间

	Bids []Bid `gorm:"foreignKey:ProjectID,SectionID;references:ProjectID,SectionID;constraint:OnDelete:CASCADE"`
}

// Bid 表示某标段的一条投标记录，自然键 (project_id, section_id, bidder_name)。
type Bid struct {
	ID        uint      `gorm:"primaryKey"`
	CrawlTime time.Time `gorm:"autoCreateTime"`

	ProjectID   string `gorm:"type:varchar(191);uniqueIndex:uix_project_section_bidder;not null"`
	SectionID   string `gorm:"type:varchar(64);uniqueIndex:uix_project_section_bidder;not null"`
	BidderName  string `gorm:"type:varchar(191);uniqueIndex:uix_project_section_bidder;not null"`
	SectionName string
	BidAmount   float64    // 投标报价
	BidOpenTime *time.Time // 开标时间
}

// BidRank 表示开标后公示的中标候选人排名，自然键 (project_id, section_id, rank)。
type BidRank struct {
	ID        uint      `gorm:"primaryKey"`
	CrawlTime time.Time `gorm:"autoCreateTime"`

	ProjectID   string `gorm:"type:varchar(191);uniqueIndex:uix_project_section_rank;not null"`
	SectionID   string `gorm:"type:varchar(64);uniqueIndex:uix_project_section_rank;not null"`
	Rank        int    `gorm:"uniqueIndex:uix_project_section_rank;not null"`
	SectionName string
	BidderName  string
	ManagerName string // 项目经理
	WinAmt      float64
	OpenTime    *time.Time
}

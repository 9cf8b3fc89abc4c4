package ingest

import (
	"encoding/json"
	"fmt"
)

// Kind 是抓取 item 的类型标签，随 JSON 信封在队列中传递。
type Kind string

const (
	KindProject           Kind = "project"
	KindBidSection        Kind = "bid_section"
	KindBid               Kind = "bid"
	KindBidRank           Kind = "bid_rank"
	KindCompany           Kind = "company"
	KindEmployee          Kind = "employee"
	KindPersonPerformance Kind = "person_performance"
	KindBidWin            Kind = "bid_win"
)

// Item 是八种抓取 item 的封闭和类型。
//
// 调度器对它做穷尽 type switch，新增 item 类型时编译器会在
// 未覆盖的分支上报错（而不是运行期按类名字符串分发）。
type Item interface {
	Kind() Kind
	isItem()
}

// ProjectItem 项目级公告，来自招标公告列表页/详情页。
type ProjectItem struct {
	ProjectID     string   `json:"project_id"` // 招标编号
	Title         string   `json:"title"`
	TimeShow      string   `json:"timeShow"` // 公告时间，格式 "2006-01-02 15:04:05"
	PlatformName  string   `json:"platformName"`
	ClassifyShow  string   `json:"classifyShow"`
	URL           string   `json:"url"`
	NoticeContent string   `json:"notice_content"`
	DistrictShow  string   `json:"districtShow"`
	SessionSize   int      `json:"session_size"` // 标段数量
	CompanyReq    []string `json:"company_req"`
	PersonReq     string   `json:"person_req"`
	ConstructionFunds string `json:"construction_funds"`
	ProjectDuration   string `json:"project_duration"`
}

// BidSectionItem 标段信息，来自标段列表页。
type BidSectionItem struct {
	ProjectID   string  `json:"project_id"`
	SectionID   string  `json:"section_id"`
	SectionName string  `json:"section_name"`
	BidSize     int     `json:"bid_size"`
	BidOpenTime string  `json:"bid_open_time"`
	InfoSource  string  `json:"info_source"`
	LotCtlAmt   float64 `json:"lot_ctl_amt"` // 控制价
	SessionSize int     `json:"session_size"`
}

// BidItem 某标段的一条投标记录。
type BidItem struct {
	ProjectID   string  `json:"project_id"`
	SectionID   string  `json:"section_id"`
	SectionName string  `json:"section_name"`
	BidderName  string  `json:"bidder_name"`
	BidAmount   float64 `json:"bid_amount"`
	BidOpenTime string  `json:"bid_open_time"`
}

// BidRankItem 开标后公示的中标候选人排名。
type BidRankItem struct {
	ProjectID   string  `json:"project_id"`
	SectionID   string  `json:"section_id"`
	SectionName string  `json:"section_name"`
	BidderName  string  `json:"bidder_name"`
	Rank        int     `json:"rank"`
	ManagerName string  `json:"manager_name"` // 项目经理
	WinAmt      float64 `json:"win_amt"`
	OpenTime    string  `json:"open_time"`
}

// CompanyItem 企业详情。
type CompanyItem struct {
	Name           string   `json:"name"`
	CorpCode       string   `json:"corp_code"` // 统一社会信用代码
	Corp           string   `json:"corp"`      // 法人
	CorpAsset      string   `json:"corp_asset"`
	RegAddress     string   `json:"reg_address"`
	ValidDate      string   `json:"valid_date"`
	Qualifications []string `json:"qualifications"`
}

// EmployeeItem 企业注册人员。
type EmployeeItem struct {
	Name      string   `json:"name"`
	CorpCode  string   `json:"corp_code"`
	Role      string   `json:"role"`
	CertCode  string   `json:"cert_code"`
	Major     []string `json:"major"`
	ValidDate string   `json:"valid_date"`
	BirthDate string   `json:"birth_date"`
	IDNumber  string   `json:"id_number"`
}

// PersonPerformanceItem 个人业绩记录。
type PersonPerformanceItem struct {
	Name        string `json:"name"`
	CorpCode    string `json:"corp_code"`
	CorpName    string `json:"corp_name"`
	ProjectName string `json:"project_name"`
	Role        string `json:"role"`
	DataLevel   string `json:"data_level"`
	RecordID    string `json:"record_id"`
	CompanyID   string `json:"company_id"`
}

// BidWinItem 全国平台公示的中标信息。
type BidWinItem struct {
	BidderName    string  `json:"bidder_name"`
	CorpCode      string  `json:"corp_code"`
	ProjectName   string  `json:"project_name"`
	AreaCode      string  `json:"area_code"`
	WinAmt        float64 `json:"win_amt"`
	CreateTime    string  `json:"create_time"`
	TenderOrgName string  `json:"tender_org_name"` // 招标单位
	Tos           string  `json:"tos"`             // 类别
	URL           string  `json:"url"`
	NoticeContent string  `json:"notice_content"`
}

func (*ProjectItem) Kind() Kind           { return KindProject }
func (*BidSectionItem) Kind() Kind        { return KindBidSection }
func (*BidItem) Kind() Kind               { return KindBid }
func (*BidRankItem) Kind() Kind           { return KindBidRank }
func (*CompanyItem) Kind() Kind           { return KindCompany }
func (*EmployeeItem) Kind() Kind          { return KindEmployee }
func (*PersonPerformanceItem) Kind() Kind { return KindPersonPerformance }
func (*BidWinItem) Kind() Kind            { return KindBidWin }

func (*ProjectItem) isItem()           {}
func (*BidSectionItem) isItem()        {}
func (*BidItem) isItem()               {}
func (*BidRankItem) isItem()           {}
func (*CompanyItem) isItem()           {}
func (*EmployeeItem) isItem()          {}
func (*PersonPerformanceItem) isItem() {}
func (*BidWinItem) isItem()            {}

// Envelope 是 item 在 Redis Streams 中的传输信封。
type Envelope struct {
	Kind  Kind            `json:"kind"`
	Retry int             `json:"retry"` // 消费失败重投次数
	Data  json.RawMessage `json:"data"`
}

// EncodeItem 将 item 打包为信封 JSON。
func EncodeItem(item Item) ([]byte, error) {
	if item == nil {
		return nil, fmt.Errorf("item is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return json.Marshal(&Envelope{Kind: item.Kind(), Data: data})
}

// DecodeEnvelope 解出信封本身（保留 retry 计数）。
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// DecodeItem 将信封还原为具体 item。
//
// 未知的 kind 不是错误：按约定直接忽略，返回 (nil, nil)。
func DecodeItem(env *Envelope) (Item, error) {
	var item Item
	switch env.Kind {
	case KindProject:
		item = &ProjectItem{}
	case KindBidSection:
		item = &BidSectionItem{}
	case KindBid:
		item = &BidItem{}
	case KindBidRank:
		item = &BidRankItem{}
	case KindCompany:
		item = &CompanyItem{}
	case KindEmployee:
		item = &EmployeeItem{}
	case KindPersonPerformance:
		item = &PersonPerformanceItem{}
	case KindBidWin:
		item = &BidWinItem{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(env.Data, item); err != nil {
		return nil, fmt.Errorf("unmarshal %s item: %w", env.Kind, err)
	}
	return item, nil
}

package ingest

import "time"

// timeLayout 公告时间的固定格式。
const timeLayout = "2006-01-02 15:04:05"

// flexibleLayouts 全国平台时间字段出现过的几种格式。
var flexibleLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// parseTime 按固定格式解析时间，失败返回 nil（按约定存 NULL，不报错）。
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(timeLayout, s, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// parseFlexibleTime 依次尝试多种格式解析时间，全部失败返回 nil。
func parseFlexibleTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range flexibleLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

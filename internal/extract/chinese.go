package extract

import "strings"

// NotANumber 是中文数字解析失败时返回的哨兵值。
const NotANumber = -1

// digitMap 中文数字映射表（简体 + 繁体）。
var digitMap = map[string]int{
	"零": 0, "〇": 0,
	"一": 1, "壹": 1,
	"二": 2, "贰": 2, "貳": 2,
	"三": 3, "叁": 3, "參": 3,
	"四": 4, "肆": 4,
	"五": 5, "伍": 5,
	"六": 6, "陆": 6, "陸": 6,
	"七": 7, "柒": 7,
	"八": 8, "捌": 8,
	"九": 9, "玖": 9,
	"十": 10, "拾": 10,
}

// ChineseToArabic 将 1~99 的中文数字（简体或繁体）转为阿拉伯数字。
//
// 支持"十"字位模式，如 "十一" → 11、"二十三" → 23、"贰拾叁" → 23。
// 无法解析时返回 NotANumber。
func ChineseToArabic(chinese string) int {
	if chinese == "" {
		return NotANumber
	}

	// 统一繁体"拾"为"十"再按十位拆分
	chinese = strings.ReplaceAll(chinese, "拾", "十")
	if strings.Contains(chinese, "十") {
		parts := strings.SplitN(chinese, "十", 2)
		total := 0
		if parts[0] == "" {
			total = 10 // 如"十一"
		} else {
			tens, ok := digitMap[parts[0]]
			if !ok {
				return NotANumber
			}
			total = tens * 10
		}
		if len(parts) > 1 && parts[1] != "" {
			units, ok := digitMap[parts[1]]
			if !ok {
				return NotANumber
			}
			total += units
		}
		return total
	}

	// 没有"十"的情况：如"三"、"九"
	total := 0
	for _, ch := range chinese {
		d, ok := digitMap[string(ch)]
		if !ok {
			return NotANumber
		}
		total = total*10 + d
	}
	return total
}

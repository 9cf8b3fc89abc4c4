package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	sectionDigitRe   = regexp.MustCompile(`项目\((\d+)标段\)`)
	sectionChineseRe = regexp.MustCompile(`总承包(.*?)标段`)

	fundingRe     = regexp.MustCompile(`(?:资金来源|资金来自)[：:\s]*([^\n，。；]*)`)
	parenthesisRe = regexp.MustCompile(`（.*?）`)

	durationRe = regexp.MustCompile(`(?:计划)?工期[：:\s]*([\d一二三四五六七八九十百]+[年月天日]{1,2}(?:（[\d一二三四五六七八九十百]+[日历天日]{1,2}）)?)`)

	professionRe = buildProfessionRe()

	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)

	qualificationRe = buildQualificationRe()
)

func buildProfessionRe() *regexp.Regexp {
	// 匹配"X级建造师"等注册执业资格要求
	pattern := fmt.Sprintf(`(?:[一二三壹贰叁]级)?(?:%s)`,
		strings.Join(professionalTitles, "|"))
	return regexp.MustCompile(pattern)
}

func buildQualificationRe() *regexp.Regexp {
	// 匹配"某类工程施工总承包X级"
	pattern := fmt.Sprintf(`(?:%s)施工总承包[一二三四五六七八九十壹贰叁肆伍陆柒捌玖拾特]+级`,
		strings.Join(companyQualifications, "|"))
	return regexp.MustCompile(pattern)
}

// ExtractSectionNumber 从标题中提取标段号并格式化为三位字符串，如 "021"。
//
// 先尝试阿拉伯数字形式 `项目(N标段)`，再尝试中文数字形式 `总承包X标段`，
// 都不匹配时返回默认值 "001"。
func ExtractSectionNumber(title string) string {
	if m := sectionDigitRe.FindStringSubmatch(title); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return fmt.Sprintf("%03d", n)
		}
	}

	if m := sectionChineseRe.FindStringSubmatch(title); m != nil {
		if n := ChineseToArabic(m[1]); n != NotANumber {
			return fmt.Sprintf("%03d", n)
		}
	}

	return "001"
}

// ExtractFundingSource 从公告正文中提取资金来源，无匹配返回空串。
func ExtractFundingSource(text string) string {
	m := fundingRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	// 去除括号内容和多余空白
	return strings.TrimSpace(parenthesisRe.ReplaceAllString(m[1], ""))
}

// ExtractDuration 提取"工期"或"计划工期"后面的时长描述，无匹配返回空串。
func ExtractDuration(text string) string {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractCompanyQualifications 提取公告要求的企业施工总承包资质列表。
func ExtractCompanyQualifications(text string) []string {
	return qualificationRe.FindAllString(text, -1)
}

// ExtractProfessionLevel 提取人员资质要求，如"一级建造师"，无匹配返回空串。
func ExtractProfessionLevel(text string) string {
	return professionRe.FindString(text)
}

// StripScripts 移除 HTML 中的所有 <script> 标签及其内容。
func StripScripts(html string) string {
	return scriptRe.ReplaceAllString(html, "")
}

// NoticeFields 是从招标公告网页中解析出的结构化字段。
type NoticeFields struct {
	NoticeContent     string   // 去除脚本后的正文
	CompanyReq        []string // 企业资质要求
	PersonReq         string   // 人员资质要求
	ConstructionFunds string   // 资金来源
	ProjectDuration   string   // 工期
}

// AnalyseNotice 解析招标公告网页，提取全部结构化字段。
func AnalyseNotice(html string) NoticeFields {
	pureText := StripScripts(html)
	return NoticeFields{
		NoticeContent:     pureText,
		CompanyReq:        ExtractCompanyQualifications(pureText),
		PersonReq:         ExtractProfessionLevel(pureText),
		ConstructionFunds: ExtractFundingSource(pureText),
		ProjectDuration:   ExtractDuration(pureText),
	}
}

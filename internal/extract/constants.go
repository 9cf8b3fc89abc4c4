package extract

// companyQualifications 施工总承包资质的工程类别，用于拼接资质提取正则。
var companyQualifications = []string{
	"建筑工程",
	"公路工程",
	"铁路工程",
	"港口与航道工程",
	"水利水电工程",
	"电力工程",
	"矿山工程",
	"冶金工程",
	"石油化工工程",
	"市政公用工程",
	"通信工程",
	"机电工程",
	"民航机场工程",
}

// professionalTitles 常见注册执业资格名称。
var professionalTitles = []string{
	"建造师",
	"监理工程师",
	"造价工程师",
	"建筑师",
	"结构工程师",
	"岩土工程师",
}

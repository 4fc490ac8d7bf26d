// Package trademark holds the Nice classification catalog and the helpers
// the search wizard uses to shape class selections.
package trademark

import (
	"strconv"
	"strings"
)

// NiceClass is one of the 45 international classes.
type NiceClass struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Suggestions []string `json:"suggestions,omitempty"`
}

var niceClasses = []NiceClass{
	{Code: "1", Description: "工業用、科学用又は農業用の化学品"},
	{Code: "2", Description: "塗料、着色料及び腐食の防止用の調整品"},
	{Code: "3", Description: "洗浄剤、化粧品、香料、歯磨き、石鹸など"},
	{Code: "4", Description: "工業用油、潤滑油、燃料、光剤など"},
	{Code: "5", Description: "薬剤、医薬用製剤、殺菌剤など"},
	{Code: "6", Description: "金属、金属製品等"},
	{Code: "7", Description: "機械、原動機、工作機械など"},
	{Code: "8", Description: "手工具、刃物、道具など"},
	{Code: "9", Description: "電気・電子機器、情報処理機器、測定器など",
		Suggestions: []string{"コンピュータソフトウェア", "情報処理用プログラム", "データベース"}},
	{Code: "10", Description: "医療用機械器具・医療用品"},
	{Code: "11", Description: "照明、加熱、冷却、給水、換気、乾燥などの装置"},
	{Code: "12", Description: "移動用装置（車両、輸送用具など）"},
	{Code: "13", Description: "火器、花火、爆発物など"},
	{Code: "14", Description: "貴金属、宝飾品、時計など"},
	{Code: "15", Description: "楽器"},
	{Code: "16", Description: "紙、紙製品、事務用品など"},
	{Code: "17", Description: "プラスチック、ゴム、絶縁材料、断熱材料など"},
	{Code: "18", Description: "革製品、かばん、旅行用品、馬具など"},
	{Code: "19", Description: "金属製でない建築材料など"},
	{Code: "20", Description: "家具、寝具、装飾品、プラスチック製品など"},
	{Code: "21", Description: "台所用品、家庭用器具、ガラス・磁器製品など"},
	{Code: "22", Description: "ロープ、テント、帆布、織物用原料など"},
	{Code: "23", Description: "織物用の糸"},
	{Code: "24", Description: "織物、布製品、カバー、寝具など"},
	{Code: "25", Description: "衣類、履物、帽子など"},
	{Code: "26", Description: "裁縫用品、装飾品、ボタン・ファスナーなど"},
	{Code: "27", Description: "敷物、カーペット、マット、壁紙など"},
	{Code: "28", Description: "玩具、運動用具、ゲーム器具など"},
	{Code: "29", Description: "動物性食品、加工肉、魚介、乳製品など"},
	{Code: "30", Description: "加工植物性食品、菓子、調味料など"},
	{Code: "31", Description: "生鮮農産物、魚介、生き物、飼料など"},
	{Code: "32", Description: "非アルコール飲料、果汁、ジュース、水など"},
	{Code: "33", Description: "アルコール飲料（ビールを除く）など"},
	{Code: "34", Description: "たばこ、喫煙用具、マッチなど"},
	{Code: "35", Description: "広告、事業の管理・運営、事務処理、小売・卸売などのサービス"},
	{Code: "36", Description: "金融、保険、不動産などのサービス"},
	{Code: "37", Description: "建設、修理、メンテナンス、設置事業など"},
	{Code: "38", Description: "通信、インターネット、放送、電気通信サービスなど"},
	{Code: "39", Description: "輸送、物流、旅行手配、運送業務など"},
	{Code: "40", Description: "物品の加工、加工処理サービス全般"},
	{Code: "41", Description: "教育、娯楽、文化活動、スポーツ、研修など"},
	{Code: "42", Description: "科学技術、設計、IT開発、ソフトウェア、調査研究など",
		Suggestions: []string{"ソフトウェア開発", "情報処理サービス", "技術調査"}},
	{Code: "43", Description: "飲食店運営、宿泊業、ケータリングなど"},
	{Code: "44", Description: "医療、美容、衛生、動物医療、農業・園芸等のサービス"},
	{Code: "45", Description: "法律事務、警備、結婚相談、占い、個人サービスなど",
		Suggestions: []string{"法律事務", "知的財産権に関する相談"}},
}

// Classes returns the catalog in class order. The slice is a copy.
func Classes() []NiceClass {
	out := make([]NiceClass, len(niceClasses))
	copy(out, niceClasses)
	return out
}

// LookupClass finds a class by code. Leading zeros are tolerated ("09").
func LookupClass(code string) (NiceClass, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n < 1 || n > len(niceClasses) {
		return NiceClass{}, false
	}
	return niceClasses[n-1], true
}

// IsValidClass reports whether code names one of the 45 classes.
func IsValidClass(code string) bool {
	_, ok := LookupClass(code)
	return ok
}

// NormalizeClasses canonicalises codes, drops duplicates keeping the first
// occurrence and returns the codes that are not Nice classes.
func NormalizeClasses(codes []string) (normalized []string, invalid []string) {
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		class, ok := LookupClass(code)
		if !ok {
			invalid = append(invalid, code)
			continue
		}
		if seen[class.Code] {
			continue
		}
		seen[class.Code] = true
		normalized = append(normalized, class.Code)
	}
	return normalized, invalid
}

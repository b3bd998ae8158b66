package application

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

type priceUnit struct {
	base   decimal.Decimal
	suffix string
}

// 金额缩写单位，从大到小
var priceUnits = map[string][]priceUnit{
	"id": {
		{decimal.New(1, 9), " M"},
		{decimal.New(1, 6), " jt"},
		{decimal.New(1, 3), " rb"},
	},
	"en": {
		{decimal.New(1, 9), "B"},
		{decimal.New(1, 6), "M"},
		{decimal.New(1, 3), "K"},
	},
}

// normalizeLocale 只保留主语言，未支持的按 en 处理
func normalizeLocale(locale string) string {
	base := strings.ToLower(strings.SplitN(strings.ReplaceAll(locale, "_", "-"), "-", 2)[0])
	if _, ok := priceUnits[base]; ok {
		return base
	}
	return "en"
}

// FormatPriceShort 按语言缩写金额，如 id: "Rp 1,5 M"、"Rp 850 jt"；en: "Rp 1.5B"、"Rp 850M"
func FormatPriceShort(amount decimal.Decimal, locale string) string {
	loc := normalizeLocale(locale)
	p := message.NewPrinter(language.Make(loc))

	for _, u := range priceUnits[loc] {
		if amount.Abs().GreaterThanOrEqual(u.base) {
			v, _ := amount.Div(u.base).Float64()
			v = math.Round(v*10) / 10
			return "Rp " + p.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(1))) + u.suffix
		}
	}
	v, _ := amount.Round(0).Float64()
	return "Rp " + p.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(0)))
}

// FormatPercent 格式化百分比，保留至多一位小数
func FormatPercent(pct decimal.Decimal, locale string) string {
	p := message.NewPrinter(language.Make(normalizeLocale(locale)))
	v, _ := pct.Float64()
	v = math.Round(v*10) / 10
	return p.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(1))) + "%"
}

package service

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// percentOf считает pct процентов от value с округлением до копеек.
func percentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred).Round(2)
}

// splitHalf делит сумму пополам. Пострадавшая сторона получает округлённую
// половину, платформе достаётся остаток, так что сумма долей всегда равна total.
func splitHalf(total decimal.Decimal) (injured, platform decimal.Decimal) {
	injured = total.Div(two).Round(2)
	platform = total.Sub(injured)
	return injured, platform
}

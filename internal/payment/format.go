package payment

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatPrice renders amount with decimals places followed by currency, e.g.
// "10.00 USDT". Non-finite amounts render as "N/A". An empty currency
// defaults to USDT.
func FormatPrice(amount float64, currency string, decimals int) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "N/A"
	}
	if currency == "" {
		currency = Currency
	}
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromFloat(amount).StringFixed(int32(decimals)) + " " + currency
}

// FormatCredits renders a credit count compactly: 950, 3.3K, 1.2M. Negative
// counts render as "0".
func FormatCredits(n int) string {
	if n < 0 {
		return "0"
	}
	d := decimal.NewFromInt(int64(n))
	switch {
	case n >= 1_000_000:
		return d.Div(decimal.NewFromInt(1_000_000)).StringFixed(1) + "M"
	case n >= 1_000:
		return d.Div(decimal.NewFromInt(1_000)).StringFixed(1) + "K"
	}
	return strconv.Itoa(n)
}

// FormatPercentage renders a ratio as a percentage, e.g. 0.2 -> "20.0%".
func FormatPercentage(ratio float64, decimals int) string {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return "0%"
	}
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromFloat(ratio).Mul(decimal.NewFromInt(100)).StringFixed(int32(decimals)) + "%"
}

// BonusPercentage returns the bonus share of a package's total credits
// relative to its base amount, e.g. 0.2 for 8000 + 1600.
func BonusPercentage(p Package) float64 {
	if p.Credits.Amount <= 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(int64(p.Credits.BonusAmount)).
		Div(decimal.NewFromInt(int64(p.Credits.Amount))).
		Float64()
	return f
}

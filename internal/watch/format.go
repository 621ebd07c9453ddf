package watch

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatTokenAmount renders an amount for humans: thousands separators and
// one decimal above 1, significant digits below.
func FormatTokenAmount(amount decimal.Decimal) string {
	if amount.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return groupThousands(amount.StringFixed(1))
	}
	f, _ := amount.Float64()
	return strconv.FormatFloat(f, 'g', 4, 64)
}

// FormatPrice renders a token price with three significant digits, matching
// how limit prices are displayed in order summaries.
func FormatPrice(price decimal.Decimal) string {
	f, _ := price.Float64()
	return strconv.FormatFloat(f, 'g', 3, 64)
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + fracPart
	}
	return out
}

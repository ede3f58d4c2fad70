package payments

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ApplyDiscount returns amount - amount*pct/100 rounded to 2 places.
func ApplyDiscount(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return amount.Round(2)
	}
	return amount.Sub(amount.Mul(pct).Div(hundred)).Round(2)
}

// DiscountPercentage recovers the percentage applied to amount to obtain charged.
func DiscountPercentage(amount, charged decimal.Decimal) decimal.Decimal {
	if amount.IsZero() || charged.IsZero() || charged.GreaterThanOrEqual(amount) {
		return decimal.Zero
	}
	return amount.Sub(charged).Mul(hundred).Div(amount).Round(2)
}

// ToMinor converts major currency units to the gateway's minor units (paise, cents).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts minor units back to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

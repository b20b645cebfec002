package shared

import "github.com/shopspring/decimal"

// CurrencyPlaces is the ledger currency precision.
const CurrencyPlaces int32 = 2

// Cent is the smallest representable currency amount.
var Cent = decimal.New(1, -CurrencyPlaces)

// Round2 rounds half away from zero to currency precision.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(CurrencyPlaces)
}

// ParseAmount parses a decimal string and rounds it to currency precision.
func ParseAmount(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return Round2(v), nil
}

// SumAmounts adds the supplied values.
func SumAmounts(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

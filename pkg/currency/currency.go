// Package currency converts decimal monetary amounts to and from the
// smallest-unit integer representation each gateway expects.
package currency

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cargoquote/payments/internal/payment/domain"
)

// Currencies are partitioned into three decimal-place classes. Anything not
// listed is two-decimal (multiplier 100).
var zeroDecimal = map[string]struct{}{
	"JPY": {}, "KRW": {}, "VND": {}, "CLP": {}, "UGX": {},
	"XAF": {}, "XOF": {}, "KMF": {}, "BIF": {}, "DJF": {},
	"GNF": {}, "MGA": {}, "PYG": {}, "RWF": {}, "VUV": {},
	"XPF": {}, "ISK": {},
}

var threeDecimal = map[string]struct{}{
	"BHD": {}, "JOD": {}, "KWD": {}, "OMR": {}, "TND": {},
}

// Exponent returns the number of decimal places for an ISO 4217 code.
func Exponent(code string) (int32, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return 0, domain.NewError(domain.KindInvalidCurrency, "currency code must be 3 letters")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return 0, domain.NewError(domain.KindInvalidCurrency, "malformed currency code "+code)
		}
	}
	if _, ok := zeroDecimal[code]; ok {
		return 0, nil
	}
	if _, ok := threeDecimal[code]; ok {
		return 3, nil
	}
	return 2, nil
}

// ToMinorUnits converts a decimal amount to the currency's smallest unit,
// rounding half-up to the nearest integer minor unit.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	exp, err := Exponent(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(exp).Round(0).IntPart(), nil
}

// FromMinorUnits converts a smallest-unit integer back to a decimal amount.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, error) {
	exp, err := Exponent(code)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(minor).Shift(-exp), nil
}

// FormatMajor renders amount with exactly two decimal places, the fixed
// formatting the hash gateways sign over.
func FormatMajor(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies whose minor unit is the major unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorExponent returns the number of decimal places of currency's minor unit.
func MinorExponent(currency string) int32 {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// ToMajor converts an amount in minor units to a decimal in major units.
func ToMajor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorExponent(currency))
}

// FormatAmount renders amount for display, e.g. 12345 usd as "123.45".
// Ledger arithmetic never goes through here.
func FormatAmount(amount int64, currency string) string {
	exp := MinorExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}

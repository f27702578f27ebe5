// Package normalize turns the loosely formatted amounts and dates found in
// bank statements into decimals and calendar dates.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var amountNoise = strings.NewReplacer(
	`"`, "",
	" ", "",
	"\t", "",
	"\u00a0", "",
	"€", "",
	"$", "",
)

// ParseAmount parses a signed amount written with either European
// (1.234,56) or US (1,234.56) separators.
//
// When both '.' and ',' are present the one appearing last is the decimal
// separator. When only ',' is present it is a decimal separator only if
// exactly two digits follow it, otherwise it separates thousands.
// An empty value parses to zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := amountNoise.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, nil
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 == 2 {
			cleaned = strings.ReplaceAll(cleaned[:lastComma], ",", "") + "." + cleaned[lastComma+1:]
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}

// Round2 rounds to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
